package catalog

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

// =========== CatalogItem Repository ===========

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogItemRepoPG(pool *pgxpool.Pool) CatalogItemRepository {
	return &catalogRepoPG{pool: pool}
}

func (r *catalogRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const catalogCols = `id, name, kind, description, dosage_form, strength, manufacturer,
	requires_prescription, active, created_at, updated_at`

func (r *catalogRepoPG) scanItem(row pgx.Row) (*CatalogItem, error) {
	var ci CatalogItem
	err := row.Scan(&ci.ID, &ci.Name, &ci.Kind, &ci.Description, &ci.DosageForm, &ci.Strength,
		&ci.Manufacturer, &ci.RequiresPrescription, &ci.Active, &ci.CreatedAt, &ci.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return &ci, err
}

func (r *catalogRepoPG) Create(ctx context.Context, ci *CatalogItem) error {
	ci.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO catalog_item (id, name, kind, description, dosage_form, strength, manufacturer,
			requires_prescription, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ci.ID, ci.Name, ci.Kind, ci.Description, ci.DosageForm, ci.Strength, ci.Manufacturer,
		ci.RequiresPrescription, ci.Active)
	return err
}

func (r *catalogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+catalogCols+` FROM catalog_item WHERE id = $1`, id))
}

func (r *catalogRepoPG) Update(ctx context.Context, ci *CatalogItem) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE catalog_item SET name=$2, kind=$3, description=$4, dosage_form=$5, strength=$6,
			manufacturer=$7, requires_prescription=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		ci.ID, ci.Name, ci.Kind, ci.Description, ci.DosageForm, ci.Strength,
		ci.Manufacturer, ci.RequiresPrescription, ci.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *catalogRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM catalog_item WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *catalogRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*CatalogItem, int, error) {
	query := `SELECT ` + catalogCols + ` FROM catalog_item WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM catalog_item WHERE 1=1`
	var args []interface{}
	idx := 1

	if name, ok := params["name"]; ok {
		clause := fmt.Sprintf(` AND name ILIKE $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+name+"%")
		idx++
	}
	if kind, ok := params["kind"]; ok {
		clause := fmt.Sprintf(` AND kind = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, kind)
		idx++
	}
	if rx, ok := params["requires_prescription"]; ok {
		clause := fmt.Sprintf(` AND requires_prescription = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, rx == "true")
		idx++
	}
	if active, ok := params["active"]; ok {
		clause := fmt.Sprintf(` AND active = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, active == "true")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*CatalogItem
	for rows.Next() {
		ci, err := r.scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ci)
	}
	return items, total, nil
}
