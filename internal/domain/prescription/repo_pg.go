package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

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

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// =========== Prescription Repository ===========

const prescriptionCols = `id, patient_id, contact_phone, contact_email, file_key,
	status, verified, rejection_reason, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.ContactPhone, &p.ContactEmail, &p.FileKey,
		&p.Status, &p.Verified, &p.RejectionReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, fmt.Errorf("scan prescription: %w", err)
	}
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	query := `
		INSERT INTO prescription (id, patient_id, contact_phone, contact_email, file_key, status, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.conn(ctx).QueryRow(ctx, query,
		p.ID, p.PatientID, p.ContactPhone, p.ContactEmail, p.FileKey, p.Status, p.Verified,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	query := `SELECT ` + prescriptionCols + ` FROM prescription WHERE id = $1`
	return scanPrescription(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Prescription, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM prescription WHERE patient_id = $1`
	if err := r.conn(ctx).QueryRow(ctx, countQuery, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}

	query := `SELECT ` + prescriptionCols + ` FROM prescription
		WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var prescriptions []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		prescriptions = append(prescriptions, p)
	}
	return prescriptions, total, rows.Err()
}

func (r *prescriptionRepoPG) LatestActiveByPatient(ctx context.Context, patientID string) (*Prescription, error) {
	query := `SELECT ` + prescriptionCols + ` FROM prescription
		WHERE patient_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	return scanPrescription(r.conn(ctx).QueryRow(ctx, query, patientID, StatusPending, StatusVerified))
}

func (r *prescriptionRepoPG) SetStatusIfPending(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	query := `UPDATE prescription
		SET status = $2, verified = ($2 = $3), rejection_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5`

	tag, err := r.conn(ctx).Exec(ctx, query, id, status, StatusVerified, reason, StatusPending)
	if err != nil {
		return fmt.Errorf("update prescription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (r *prescriptionRepoPG) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*Prescription, error) {
	query := `SELECT ` + prescriptionCols + ` FROM prescription
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at`

	rows, err := r.conn(ctx).Query(ctx, query, StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale prescriptions: %w", err)
	}
	defer rows.Close()

	var prescriptions []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		prescriptions = append(prescriptions, p)
	}
	return prescriptions, rows.Err()
}

func (r *prescriptionRepoPG) CountByStatus(ctx context.Context, status string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM prescription WHERE status = $1`
	if err := r.conn(ctx).QueryRow(ctx, query, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count prescriptions by status: %w", err)
	}
	return n, nil
}

// =========== Line Item Repository ===========

const lineItemCols = `id, prescription_id, catalog_item_id, quantity, instructions`

func (r *prescriptionRepoPG) AddLineItems(ctx context.Context, prescriptionID uuid.UUID, items []*LineItem) error {
	query := `
		INSERT INTO prescription_item (id, prescription_id, catalog_item_id, quantity, instructions)
		VALUES ($1, $2, $3, $4, $5)`

	for _, it := range items {
		it.ID = uuid.New()
		it.PrescriptionID = prescriptionID
		_, err := r.conn(ctx).Exec(ctx, query,
			it.ID, it.PrescriptionID, it.CatalogItemID, it.Quantity, it.Instructions)
		if err != nil {
			return fmt.Errorf("insert prescription item: %w", err)
		}
	}
	return nil
}

func (r *prescriptionRepoPG) ListItems(ctx context.Context, prescriptionID uuid.UUID) ([]*LineItem, error) {
	query := `SELECT ` + lineItemCols + ` FROM prescription_item WHERE prescription_id = $1 ORDER BY id`

	rows, err := r.conn(ctx).Query(ctx, query, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("list prescription items: %w", err)
	}
	defer rows.Close()

	var items []*LineItem
	for rows.Next() {
		var it LineItem
		err := rows.Scan(&it.ID, &it.PrescriptionID, &it.CatalogItemID, &it.Quantity, &it.Instructions)
		if err != nil {
			return nil, fmt.Errorf("scan prescription item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}
