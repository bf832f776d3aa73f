package helpers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

// Line is a requested product quantity.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// ValidateCustomer ensures the customer may check out.
func ValidateCustomer(customer *models.Customer) error {
	if customer == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	if !customer.HasVerifiedPhone() {
		return pkgerrors.New(pkgerrors.CodeValidation, "verify your phone number before checking out")
	}
	return nil
}

// MergeLines folds duplicate product lines together, keeping first-seen
// order, and rejects non-positive quantities.
func MergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	index := make(map[uuid.UUID]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be positive", line.ProductID))
		}
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out, nil
}

// LinesFromCart converts saved cart rows to requested lines.
func LinesFromCart(items []models.CartItem) []Line {
	out := make([]Line, 0, len(items))
	for _, item := range items {
		out = append(out, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

// ValidateChannel checks the channel is known and enabled for checkout.
func ValidateChannel(channel enums.PaymentChannel, enabled []string) error {
	if !channel.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment channel %q", channel))
	}
	if len(enabled) == 0 {
		return nil
	}
	for _, candidate := range enabled {
		if strings.EqualFold(strings.TrimSpace(candidate), string(channel)) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment channel %s is not available", channel))
}

// ProductIDs returns the product ids of lines in order.
func ProductIDs(lines []Line) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}
