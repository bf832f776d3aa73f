package enums

// ProductStatus controls whether a product can be sold.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusDraft    ProductStatus = "draft"
)

// IsSellable reports whether checkout may reserve stock for the product.
func (s ProductStatus) IsSellable() bool {
	return s == ProductStatusActive
}
