package types

import "testing"

func TestShippingAddressValidate(t *testing.T) {
	addr := ShippingAddress{
		RecipientName: "Sari",
		Phone:         "08123456789",
		Line1:         "Jl. Merdeka 1",
		City:          "Bandung",
		Province:      "Jawa Barat",
		PostalCode:    "40111",
	}
	if err := addr.Validate(); err != nil {
		t.Fatalf("expected valid address, got %v", err)
	}

	addr.PostalCode = "  "
	if err := addr.Validate(); err == nil || err.Error() != "address: missing postal_code" {
		t.Fatalf("expected missing postal_code, got %v", err)
	}
}

func TestShippingAddressNormalized(t *testing.T) {
	blank := "   "
	addr := ShippingAddress{
		RecipientName: " Sari ",
		Line1:         "Jl. Merdeka 1 ",
		Line2:         &blank,
		District:      "Sumur Bandung",
		PostalCode:    "40111 ",
	}
	got := addr.Normalized()
	if got.RecipientName != "Sari" || got.PostalCode != "40111" {
		t.Fatalf("expected trimmed fields, got %+v", got)
	}
	if got.Line2 != nil {
		t.Fatalf("expected blank line2 to be dropped")
	}
	if got.Country != "ID" {
		t.Fatalf("expected default country ID, got %q", got.Country)
	}
	if line := got.SingleLine(); line != "Jl. Merdeka 1, Sumur Bandung" {
		t.Fatalf("unexpected single line %q", line)
	}
}
