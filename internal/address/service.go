package address

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
)

// Directory resolves postal codes to carrier routing codes.
type Directory interface {
	RoutingCode(ctx context.Context, postalCode string) (string, error)
}

type directory struct {
	db *gorm.DB
}

// NewDirectory builds a Directory backed by the carrier_destinations table.
func NewDirectory(db *gorm.DB) Directory {
	return &directory{db: db}
}

func (d *directory) RoutingCode(ctx context.Context, postalCode string) (string, error) {
	code := NormalizePostalCode(postalCode)
	if code == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "postal code is required")
	}

	var dest models.CarrierDestination
	err := d.db.WithContext(ctx).Where("postal_code = ?", code).Take(&dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("postal code %s is outside the delivery area", code))
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve postal code")
	}
	if strings.TrimSpace(dest.RoutingCode) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("postal code %s has no carrier route", code))
	}
	return dest.RoutingCode, nil
}

// NormalizePostalCode strips whitespace so "40 111" and "40111" match.
func NormalizePostalCode(raw string) string {
	return strings.Join(strings.Fields(raw), "")
}
