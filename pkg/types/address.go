package types

import (
	"fmt"
	"strings"
)

// ShippingAddress is the immutable copy of the delivery address stored on an
// order. Later edits to the customer's address book never reach it.
type ShippingAddress struct {
	RecipientName string  `json:"recipient_name" validate:"required"`
	Phone         string  `json:"phone" validate:"required"`
	Line1         string  `json:"line1" validate:"required"`
	Line2         *string `json:"line2,omitempty"`
	District      string  `json:"district,omitempty"`
	City          string  `json:"city" validate:"required"`
	Province      string  `json:"province" validate:"required"`
	PostalCode    string  `json:"postal_code" validate:"required"`
	Country       string  `json:"country,omitempty"`
}

// Validate reports the first missing field required for shipping.
func (a ShippingAddress) Validate() error {
	checks := []struct {
		name  string
		value string
	}{
		{"recipient_name", a.RecipientName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"province", a.Province},
		{"postal_code", a.PostalCode},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			return fmt.Errorf("address: missing %s", c.name)
		}
	}
	return nil
}

// Normalized trims every field and defaults the country.
func (a ShippingAddress) Normalized() ShippingAddress {
	out := ShippingAddress{
		RecipientName: strings.TrimSpace(a.RecipientName),
		Phone:         strings.TrimSpace(a.Phone),
		Line1:         strings.TrimSpace(a.Line1),
		District:      strings.TrimSpace(a.District),
		City:          strings.TrimSpace(a.City),
		Province:      strings.TrimSpace(a.Province),
		PostalCode:    strings.TrimSpace(a.PostalCode),
		Country:       strings.ToUpper(strings.TrimSpace(a.Country)),
	}
	if a.Line2 != nil {
		if line2 := strings.TrimSpace(*a.Line2); line2 != "" {
			out.Line2 = &line2
		}
	}
	if out.Country == "" {
		out.Country = "ID"
	}
	return out
}

// SingleLine renders the street portion for carrier labels.
func (a ShippingAddress) SingleLine() string {
	parts := []string{a.Line1}
	if a.Line2 != nil && *a.Line2 != "" {
		parts = append(parts, *a.Line2)
	}
	if a.District != "" {
		parts = append(parts, a.District)
	}
	return strings.Join(parts, ", ")
}
