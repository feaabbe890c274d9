package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxgate/rxgate/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// =========== Order Repository ===========

const orderColumns = `id, patient_id, status, prescription_id, delivery_address, total, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.Status, &o.PrescriptionID,
		&o.DeliveryAddress, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	query := `
		INSERT INTO orders (id, patient_id, status, prescription_id, delivery_address, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.conn(ctx).QueryRow(ctx, query,
		o.ID, o.PatientID, o.Status, o.PrescriptionID, o.DeliveryAddress, o.Total,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Order, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM orders WHERE patient_id = $1`
	if err := r.conn(ctx).QueryRow(ctx, countQuery, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func (r *orderRepoPG) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE prescription_id = $1
		ORDER BY created_at`

	rows, err := r.conn(ctx).Query(ctx, query, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("list orders by prescription: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.conn(ctx).Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepoPG) LinkPrescription(ctx context.Context, orderID, prescriptionID uuid.UUID) error {
	query := `UPDATE orders
		SET prescription_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.conn(ctx).Exec(ctx, query, orderID, prescriptionID, StatusPendingPrescription)
	if err != nil {
		return fmt.Errorf("link prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// =========== Order Item Repository ===========

const orderItemColumns = `id, order_id, catalog_item_id, offer_id, quantity, unit_price`

func (r *orderRepoPG) AddItem(ctx context.Context, item *OrderItem) error {
	item.ID = uuid.New()
	query := `
		INSERT INTO order_item (id, order_id, catalog_item_id, offer_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.conn(ctx).Exec(ctx, query,
		item.ID, item.OrderID, item.CatalogItemID, item.OfferID, item.Quantity, item.UnitPrice)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (r *orderRepoPG) ListItems(ctx context.Context, orderID uuid.UUID) ([]*OrderItem, error) {
	query := `SELECT ` + orderItemColumns + ` FROM order_item WHERE order_id = $1 ORDER BY id`

	rows, err := r.conn(ctx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []*OrderItem
	for rows.Next() {
		var it OrderItem
		err := rows.Scan(&it.ID, &it.OrderID, &it.CatalogItemID, &it.OfferID, &it.Quantity, &it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *orderRepoPG) ListReservedItems(ctx context.Context, orderID uuid.UUID) ([]*ReservedItem, error) {
	query := `
		SELECT oi.id, oi.order_id, oi.catalog_item_id, oi.offer_id, oi.quantity, oi.unit_price,
			c.kind, c.requires_prescription
		FROM order_item oi
		JOIN catalog_item c ON c.id = oi.catalog_item_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`

	rows, err := r.conn(ctx).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list reserved items: %w", err)
	}
	defer rows.Close()

	var items []*ReservedItem
	for rows.Next() {
		var it ReservedItem
		err := rows.Scan(&it.ID, &it.OrderID, &it.CatalogItemID, &it.OfferID,
			&it.Quantity, &it.UnitPrice, &it.CatalogKind, &it.RequiresPrescription)
		if err != nil {
			return nil, fmt.Errorf("scan reserved item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}
