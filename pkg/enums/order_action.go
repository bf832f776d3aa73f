package enums

// OrderAction names an event that may move an order between statuses.
type OrderAction string

const (
	OrderActionConfirmPayment      OrderAction = "confirm_payment"
	OrderActionExpirePayment       OrderAction = "expire_payment"
	OrderActionRequestCancellation OrderAction = "request_cancellation"
	OrderActionApproveCancellation OrderAction = "approve_cancellation"
	OrderActionRejectCancellation  OrderAction = "reject_cancellation"
	OrderActionMarkShipped         OrderAction = "mark_shipped"
	OrderActionMarkDelivered       OrderAction = "mark_delivered"
)

// String implements fmt.Stringer.
func (a OrderAction) String() string {
	return string(a)
}
