package rentals

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/equiprent/equiprent/internal/catalog"
	"github.com/equiprent/equiprent/internal/platform/db"
	"github.com/equiprent/equiprent/internal/shared"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// dbPool is the subset of *pgxpool.Pool the repository uses.
type dbPool interface {
	db.Beginner
	querier
}

// Repository persists rentals in PostgreSQL.
type Repository struct {
	pool dbPool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// LockProducts row-locks the given products in ascending id order and
	// returns the ids that do not exist.
	LockProducts(ctx context.Context, ids []int64) ([]int64, error)
	// LockRental row-locks a rental and returns it with its product ids.
	LockRental(ctx context.Context, id int64) (Rental, error)
	FindConflicts(ctx context.Context, productIDs []int64, period DateRange, excludeID int64) ([]int64, error)
	InsertRental(ctx context.Context, rental Rental) (int64, error)
	UpdateRental(ctx context.Context, rental Rental) error
	ReplaceProducts(ctx context.Context, rentalID int64, productIDs []int64) error
	DeleteRental(ctx context.Context, id int64) error
	SetProductStatus(ctx context.Context, productIDs []int64, status catalog.Status) error
	HasActiveRental(ctx context.Context, productID int64, day time.Time) (bool, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Every
// statement sees rows committed before it started, so a conflict check run
// after LockProducts is granted observes the previous lock holder's writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// FindConflicts runs the overlap query without locking.
func (r *Repository) FindConflicts(ctx context.Context, productIDs []int64, period DateRange, excludeID int64) ([]int64, error) {
	return findConflicts(ctx, r.pool, productIDs, period, excludeID)
}

// Get loads a rental with its product ids.
func (r *Repository) Get(ctx context.Context, id int64) (Rental, error) {
	return getRental(ctx, r.pool, id, false)
}

// List returns every rental with its product names, ordered by start date.
func (r *Repository) List(ctx context.Context) ([]Summary, error) {
	return listSummaries(ctx, r.pool, "", nil)
}

// ForProduct lists the rentals referencing a product.
func (r *Repository) ForProduct(ctx context.Context, productID int64) ([]Summary, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, catalog.ErrProductNotFound
	}
	return listSummaries(ctx, r.pool, `WHERE r.id IN (SELECT rental_id FROM rental_products WHERE product_id = $1)`, []any{productID})
}

// Products returns the products associated with a rental.
func (r *Repository) Products(ctx context.Context, rentalID int64) ([]catalog.Product, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rentals WHERE id = $1)`, rentalID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRentalNotFound
	}
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.location, p.status, p.created_at, p.updated_at
		FROM rental_products rp
		JOIN products p ON p.id = rp.product_id
		WHERE rp.rental_id = $1
		ORDER BY p.id`, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		var (
			p      catalog.Product
			status string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Location, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ExplicitStatus = catalog.Status(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) LockProducts(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return difference(shared.LockOrder(ids), found), nil
}

func (r *txRepository) LockRental(ctx context.Context, id int64) (Rental, error) {
	return getRental(ctx, r.tx, id, true)
}

func (r *txRepository) FindConflicts(ctx context.Context, productIDs []int64, period DateRange, excludeID int64) ([]int64, error) {
	return findConflicts(ctx, r.tx, productIDs, period, excludeID)
}

func (r *txRepository) InsertRental(ctx context.Context, rental Rental) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO rentals (project_number, start_date, end_date)
		VALUES ($1, $2::date, $3::date)
		RETURNING id`,
		rental.ProjectNumber, rental.Start, rental.End,
	).Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return 0, ErrDuplicateProject
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) UpdateRental(ctx context.Context, rental Rental) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE rentals
		SET project_number = $2, start_date = $3::date, end_date = $4::date, updated_at = NOW()
		WHERE id = $1`,
		rental.ID, rental.ProjectNumber, rental.Start, rental.End,
	)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return ErrDuplicateProject
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRentalNotFound
	}
	return nil
}

func (r *txRepository) ReplaceProducts(ctx context.Context, rentalID int64, productIDs []int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM rental_products WHERE rental_id = $1`, rentalID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `
		INSERT INTO rental_products (rental_id, product_id)
		SELECT $1, unnest($2::bigint[])`,
		rentalID, productIDs,
	)
	if shared.IsForeignKeyViolation(err) {
		return shared.Invalid("rental references unknown products")
	}
	return err
}

func (r *txRepository) DeleteRental(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM rentals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRentalNotFound
	}
	return nil
}

func (r *txRepository) SetProductStatus(ctx context.Context, productIDs []int64, status catalog.Status) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `UPDATE products SET status = $2, updated_at = NOW() WHERE id = ANY($1)`, productIDs, string(status))
	return err
}

func (r *txRepository) HasActiveRental(ctx context.Context, productID int64, day time.Time) (bool, error) {
	var active bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM rental_products rp
			JOIN rentals r ON r.id = rp.rental_id
			WHERE rp.product_id = $1
			  AND r.start_date <= $2::date
			  AND r.end_date >= $2::date
		)`, productID, day,
	).Scan(&active)
	return active, err
}

func findConflicts(ctx context.Context, q querier, productIDs []int64, period DateRange, excludeID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT rp.product_id
		FROM rental_products rp
		JOIN rentals r ON r.id = rp.rental_id
		WHERE rp.product_id = ANY($1)
		  AND r.start_date <= $3::date
		  AND r.end_date >= $2::date
		  AND r.id <> $4
		ORDER BY rp.product_id`,
		productIDs, period.Start, period.End, excludeID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func getRental(ctx context.Context, q querier, id int64, forUpdate bool) (Rental, error) {
	query := `SELECT id, project_number, start_date, end_date, created_at, updated_at FROM rentals WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var rental Rental
	err := q.QueryRow(ctx, query, id).Scan(&rental.ID, &rental.ProjectNumber, &rental.Start, &rental.End, &rental.CreatedAt, &rental.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rental{}, ErrRentalNotFound
	}
	if err != nil {
		return Rental{}, err
	}
	rows, err := q.Query(ctx, `SELECT product_id FROM rental_products WHERE rental_id = $1 ORDER BY product_id`, id)
	if err != nil {
		return Rental{}, err
	}
	rental.ProductIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return Rental{}, err
	}
	return rental, nil
}

func listSummaries(ctx context.Context, q querier, where string, args []any) ([]Summary, error) {
	rows, err := q.Query(ctx, `
		SELECT r.id, r.project_number, r.start_date, r.end_date,
		       COALESCE(array_agg(p.name ORDER BY p.name) FILTER (WHERE p.id IS NOT NULL), '{}') AS product_names
		FROM rentals r
		LEFT JOIN rental_products rp ON rp.rental_id = r.id
		LEFT JOIN products p ON p.id = rp.product_id
		`+where+`
		GROUP BY r.id
		ORDER BY r.start_date, r.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.ProjectNumber, &s.Start, &s.End, &s.ProductNames); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
