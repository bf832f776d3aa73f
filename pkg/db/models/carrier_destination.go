package models

// CarrierDestination maps a postal code to the carrier's routing code.
type CarrierDestination struct {
	PostalCode  string `gorm:"column:postal_code;primaryKey"`
	RoutingCode string `gorm:"column:routing_code;not null"`
	City        string `gorm:"column:city"`
}
