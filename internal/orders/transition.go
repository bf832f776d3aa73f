package orders

import (
	"fmt"

	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

// Transition is the order state machine. It returns the status an action
// leads to from the current status, or STATE_CONFLICT when the action is not
// allowed there.
func Transition(from enums.OrderStatus, action enums.OrderAction) (enums.OrderStatus, error) {
	switch action {
	case enums.OrderActionConfirmPayment:
		if from == enums.OrderStatusPending {
			return enums.OrderStatusProcessing, nil
		}
	case enums.OrderActionExpirePayment:
		if from == enums.OrderStatusPending {
			return enums.OrderStatusCancelled, nil
		}
	case enums.OrderActionRequestCancellation:
		if from == enums.OrderStatusPending {
			return enums.OrderStatusCancellationRequested, nil
		}
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "only pending orders can be cancelled").
			WithDetails(map[string]any{"status": from, "action": action})
	case enums.OrderActionApproveCancellation:
		if from == enums.OrderStatusCancellationRequested {
			return enums.OrderStatusCancelled, nil
		}
	case enums.OrderActionRejectCancellation:
		if from == enums.OrderStatusCancellationRequested {
			return enums.OrderStatusPending, nil
		}
	case enums.OrderActionMarkShipped:
		if from == enums.OrderStatusProcessing {
			return enums.OrderStatusShipped, nil
		}
	case enums.OrderActionMarkDelivered:
		if from == enums.OrderStatusShipped {
			return enums.OrderStatusCompleted, nil
		}
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order action %q", action))
	}
	return "", pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot %s an order in status %s", humanAction(action), from)).
		WithDetails(map[string]any{"status": from, "action": action})
}

// adminActions lists every action an administrator may drive through
// AdminSetStatus, in the order they are tried.
var adminActions = []enums.OrderAction{
	enums.OrderActionConfirmPayment,
	enums.OrderActionMarkShipped,
	enums.OrderActionMarkDelivered,
	enums.OrderActionApproveCancellation,
	enums.OrderActionRejectCancellation,
	enums.OrderActionExpirePayment,
}

// actionFor finds the single transition row that moves from to to.
func actionFor(from, to enums.OrderStatus) (enums.OrderAction, error) {
	for _, action := range adminActions {
		next, err := Transition(from, action)
		if err == nil && next == to {
			return action, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move an order from %s to %s", from, to)).
		WithDetails(map[string]any{"status": from, "requested": to})
}

func humanAction(action enums.OrderAction) string {
	switch action {
	case enums.OrderActionConfirmPayment:
		return "confirm payment for"
	case enums.OrderActionExpirePayment:
		return "expire payment for"
	case enums.OrderActionApproveCancellation:
		return "approve cancellation for"
	case enums.OrderActionRejectCancellation:
		return "reject cancellation for"
	case enums.OrderActionMarkShipped:
		return "ship"
	case enums.OrderActionMarkDelivered:
		return "complete"
	default:
		return string(action)
	}
}
