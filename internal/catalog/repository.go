package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `p.id, p.name, p.location, p.status, p.created_at, p.updated_at`

// Create inserts a product and returns it with generated fields.
func (r *Repository) Create(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products (name, location, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		p.Name, p.Location, string(p.ExplicitStatus),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// Get loads a product by id.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// ListWithActivity returns every product with a flag telling whether any
// rental covering day references it. One statement, so the flags and rows
// come from the same snapshot.
func (r *Repository) ListWithActivity(ctx context.Context, day time.Time) ([]ProductRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+productColumns+`,
		       EXISTS (
		           SELECT 1
		           FROM rental_products rp
		           JOIN rentals r ON r.id = rp.rental_id
		           WHERE rp.product_id = p.id
		             AND r.start_date <= $1::date
		             AND r.end_date >= $1::date
		       ) AS active_today
		FROM products p
		ORDER BY p.id`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductRow
	for rows.Next() {
		var (
			row    ProductRow
			status string
		)
		if err := rows.Scan(&row.ID, &row.Name, &row.Location, &status, &row.CreatedAt, &row.UpdatedAt, &row.ActiveToday); err != nil {
			return nil, err
		}
		row.ExplicitStatus = Status(status)
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetStatus overwrites the explicit status.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// Delete removes a product. Rental associations cascade.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// scanProduct reads a row produced from productColumns.
func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Location, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	p.ExplicitStatus = Status(status)
	return p, nil
}
