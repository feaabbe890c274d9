package provider

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

// =========== Provider Repository ===========

type providerRepoPG struct{ pool *pgxpool.Pool }

func NewProviderRepoPG(pool *pgxpool.Pool) ProviderRepository {
	return &providerRepoPG{pool: pool}
}

func (r *providerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const providerCols = `id, name, kind, verified, active, latitude, longitude,
	address, state, lga, ward, phone, email, operating_hours, created_at, updated_at`

func (r *providerRepoPG) scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.Verified, &p.Active, &p.Latitude, &p.Longitude,
		&p.Address, &p.State, &p.LGA, &p.Ward, &p.Phone, &p.Email, &p.OperatingHours,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	return &p, err
}

func (r *providerRepoPG) Create(ctx context.Context, p *Provider) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO provider (id, name, kind, verified, active, latitude, longitude,
			address, state, lga, ward, phone, email, operating_hours)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.Name, p.Kind, p.Verified, p.Active, p.Latitude, p.Longitude,
		p.Address, p.State, p.LGA, p.Ward, p.Phone, p.Email, p.OperatingHours)
	return err
}

func (r *providerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return r.scanProvider(r.conn(ctx).QueryRow(ctx, `SELECT `+providerCols+` FROM provider WHERE id = $1`, id))
}

func (r *providerRepoPG) Update(ctx context.Context, p *Provider) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE provider SET name=$2, kind=$3, active=$4, latitude=$5, longitude=$6,
			address=$7, state=$8, lga=$9, ward=$10, phone=$11, email=$12,
			operating_hours=$13, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Kind, p.Active, p.Latitude, p.Longitude,
		p.Address, p.State, p.LGA, p.Ward, p.Phone, p.Email, p.OperatingHours)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (r *providerRepoPG) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE provider SET verified=$2, updated_at=NOW() WHERE id = $1`, id, verified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProviderNotFound
	}
	return nil
}

func (r *providerRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Provider, int, error) {
	query := `SELECT ` + providerCols + ` FROM provider WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM provider WHERE 1=1`
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
	if state, ok := params["state"]; ok {
		clause := fmt.Sprintf(` AND LOWER(state) = LOWER($%d)`, idx)
		query += clause
		countQuery += clause
		args = append(args, state)
		idx++
	}
	if lga, ok := params["lga"]; ok {
		clause := fmt.Sprintf(` AND LOWER(lga) = LOWER($%d)`, idx)
		query += clause
		countQuery += clause
		args = append(args, lga)
		idx++
	}
	if verified, ok := params["verified"]; ok {
		clause := fmt.Sprintf(` AND verified = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, verified == "true")
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

	var providers []*Provider
	for rows.Next() {
		p, err := r.scanProvider(rows)
		if err != nil {
			return nil, 0, err
		}
		providers = append(providers, p)
	}
	return providers, total, nil
}

func (r *providerRepoPG) ListGeocoded(ctx context.Context) ([]*Provider, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+providerCols+` FROM provider
		WHERE verified AND active AND latitude IS NOT NULL AND longitude IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := r.scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// =========== Offer Repository ===========

type offerRepoPG struct{ pool *pgxpool.Pool }

func NewOfferRepoPG(pool *pgxpool.Pool) OfferRepository {
	return &offerRepoPG{pool: pool}
}

func (r *offerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const offerCols = `id, provider_id, catalog_item_id, stock, available, price, expiry_date, created_at, updated_at`

func (r *offerRepoPG) scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.ProviderID, &o.CatalogItemID, &o.Stock, &o.Available,
		&o.Price, &o.ExpiryDate, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	return &o, err
}

func (r *offerRepoPG) Upsert(ctx context.Context, o *Offer) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO provider_offer (id, provider_id, catalog_item_id, stock, available, price, expiry_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (provider_id, catalog_item_id)
		DO UPDATE SET stock=EXCLUDED.stock, available=EXCLUDED.available,
			price=EXCLUDED.price, expiry_date=EXCLUDED.expiry_date, updated_at=NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), o.ProviderID, o.CatalogItemID, o.Stock, o.Available, o.Price, o.ExpiryDate).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *offerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Offer, error) {
	return r.scanOffer(r.conn(ctx).QueryRow(ctx, `SELECT `+offerCols+` FROM provider_offer WHERE id = $1`, id))
}

func (r *offerRepoPG) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*Offer, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+offerCols+` FROM provider_offer WHERE provider_id = $1 ORDER BY created_at`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*Offer
	for rows.Next() {
		o, err := r.scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, nil
}

func (r *offerRepoPG) FindEligible(ctx context.Context, f OfferFilter) ([]*AvailableOffer, error) {
	query := `
		SELECT o.id, o.provider_id, o.catalog_item_id,
			p.name, p.kind, p.address, p.phone, p.state, p.lga, p.ward,
			p.operating_hours, p.latitude, p.longitude,
			o.price, o.stock, o.available, o.expiry_date
		FROM provider_offer o
		JOIN provider p ON p.id = o.provider_id
		JOIN catalog_item c ON c.id = o.catalog_item_id
		WHERE o.catalog_item_id = $1
			AND p.verified AND p.active AND c.active
			AND (o.expiry_date IS NULL OR o.expiry_date > NOW())
			AND ((c.kind = 'service' AND o.available) OR (c.kind = 'medication' AND o.stock >= $2))`
	args := []interface{}{f.CatalogItemID, f.Quantity}
	idx := 3

	if f.ProviderIDs != nil {
		query += fmt.Sprintf(` AND o.provider_id = ANY($%d)`, idx)
		args = append(args, f.ProviderIDs)
		idx++
	}
	if f.State != "" {
		query += fmt.Sprintf(` AND LOWER(p.state) = LOWER($%d)`, idx)
		args = append(args, f.State)
		idx++
	}
	if f.LGA != "" {
		query += fmt.Sprintf(` AND LOWER(p.lga) = LOWER($%d)`, idx)
		args = append(args, f.LGA)
		idx++
	}
	if f.Ward != "" {
		query += fmt.Sprintf(` AND LOWER(p.ward) = LOWER($%d)`, idx)
		args = append(args, f.Ward)
		idx++
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*AvailableOffer
	for rows.Next() {
		var ao AvailableOffer
		if err := rows.Scan(&ao.OfferID, &ao.ProviderID, &ao.CatalogItemID,
			&ao.ProviderName, &ao.ProviderKind, &ao.Address, &ao.Phone, &ao.State, &ao.LGA, &ao.Ward,
			&ao.OperatingHours, &ao.Latitude, &ao.Longitude,
			&ao.Price, &ao.Stock, &ao.Available, &ao.ExpiryDate); err != nil {
			return nil, err
		}
		offers = append(offers, &ao)
	}
	return offers, nil
}

func (r *offerRepoPG) ReserveStock(ctx context.Context, offerID uuid.UUID, qty int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE provider_offer SET stock = stock - $2, updated_at=NOW() WHERE id = $1 AND stock >= $2`,
		offerID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *offerRepoPG) ReleaseStock(ctx context.Context, offerID uuid.UUID, qty int) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE provider_offer SET stock = stock + $2, updated_at=NOW() WHERE id = $1`,
		offerID, qty)
	return err
}
