package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ordercore/pkg/db"
	"github.com/angelmondragon/ordercore/pkg/db/models"
	"github.com/angelmondragon/ordercore/pkg/enums"
	pkgerrors "github.com/angelmondragon/ordercore/pkg/errors"
	"github.com/angelmondragon/ordercore/pkg/pagination"
)

const (
	numberPrefix     = "ORD-"
	numberDateLayout = "20060102"
	// NumberConstraint is the unique index guarding order numbers.
	NumberConstraint = "orders_order_number_key"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByNumber(ctx context.Context, number string) (*models.Order, error)
	Items(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	NextNumber(ctx context.Context, day time.Time) (string, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	UpdateFromStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, fields map[string]any) (bool, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	ListAll(ctx context.Context, filters AdminFilters, params pagination.Params) (pagination.Page[models.Order], error)
	ListForTracking(ctx context.Context, limit int) ([]models.Order, error)
	ListAwaitingWaybill(ctx context.Context, limit int) ([]models.Order, error)
}

// AdminFilters narrows the admin order listing.
type AdminFilters struct {
	Status *enums.OrderStatus
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order together with its items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", orderItems).
		Where("id = ?", id).
		Take(&order).Error
	return found(&order, err)
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", orderItems).
		Where("order_number = ?", number).
		Take(&order).Error
	return found(&order, err)
}

// LockByID re-reads the order row under a row lock. Callers must be inside a
// transaction for the lock to mean anything.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", id).
		Take(&order).Error
	return found(&order, err)
}

func (r *repository) LockByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("order_number = ?", number).
		Take(&order).Error
	return found(&order, err)
}

func (r *repository) Items(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := orderItems(r.db.WithContext(ctx)).
		Where("order_id = ?", orderID).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// NextNumber allocates ORD-YYYYMMDD-NNNNN from the highest suffix already
// used for the day. Two concurrent checkouts can compute the same number;
// the unique index rejects the loser, which retries.
func (r *repository) NextNumber(ctx context.Context, day time.Time) (string, error) {
	prefix := numberPrefix + day.Format(numberDateLayout) + "-"
	var last string
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("order_number").
		Where("order_number LIKE ?", prefix+"%").
		Order("order_number DESC").
		Limit(1).
		Scan(&last).Error
	if err != nil {
		return "", err
	}
	seq := 0
	if last != "" {
		n, perr := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if perr != nil {
			return "", fmt.Errorf("parse order number %q: %w", last, perr)
		}
		seq = n
	}
	return fmt.Sprintf("%s%05d", prefix, seq+1), nil
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

// UpdateFromStatus writes fields only while the order is still in from. It
// reports false when another writer moved the order first.
func (r *repository) UpdateFromStatus(ctx context.Context, id uuid.UUID, from enums.OrderStatus, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	query := r.db.WithContext(ctx).Where("customer_id = ?", customerID)
	return r.page(query, params)
}

func (r *repository) ListAll(ctx context.Context, filters AdminFilters, params pagination.Params) (pagination.Page[models.Order], error) {
	query := r.db.WithContext(ctx)
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	return r.page(query, params)
}

func (r *repository) page(query *gorm.DB, params pagination.Params) (pagination.Page[models.Order], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Order
	if err := query.
		Preload("Items", orderItems).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return pagination.Page[models.Order]{}, err
	}
	return pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

// ListForTracking returns shipped orders and processing orders that already
// carry a waybill, oldest update first so the sweep rotates through them.
func (r *repository) ListForTracking(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusShipped).
		Or("status = ? AND waybill_number IS NOT NULL AND waybill_number <> ''", enums.OrderStatusProcessing).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListAwaitingWaybill returns paid orders whose waybill generation failed or
// never ran.
func (r *repository) ListAwaitingWaybill(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND (waybill_number IS NULL OR waybill_number = '')", enums.OrderStatusProcessing).
		Order("paid_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func orderItems(tx *gorm.DB) *gorm.DB {
	return tx.Order("created_at ASC").Order("id ASC")
}

func found(order *models.Order, err error) (*models.Order, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// IsDuplicateNumber reports whether err is the unique violation raised when
// two checkouts allocate the same order number.
func IsDuplicateNumber(err error) bool {
	return db.IsUniqueViolation(err, NumberConstraint) || db.IsUniqueViolation(err, "orders.order_number")
}
