package rentals

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/equiprent/equiprent/internal/catalog"
	"github.com/equiprent/equiprent/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindConflicts(ctx context.Context, productIDs []int64, period DateRange, excludeID int64) ([]int64, error)
	Get(ctx context.Context, id int64) (Rental, error)
	List(ctx context.Context) ([]Summary, error)
	ForProduct(ctx context.Context, productID int64) ([]Summary, error)
	Products(ctx context.Context, rentalID int64) ([]catalog.Product, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards create against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsPort records the outcome of each engine operation.
type MetricsPort interface {
	Observe(op, outcome string, elapsed time.Duration)
}

var defaultLocale = language.MustParse("nb")

// cleanupTimeout bounds the work done after a transaction has finished,
// which runs detached from the request context.
const cleanupTimeout = 2 * time.Second

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Clock shared.Clock
	// RevertRemovedOnUpdate applies the delete-time status recompute to
	// products dropped from a rental by an update.
	RevertRemovedOnUpdate bool
	// Locale orders product names in listings. Defaults to Norwegian Bokmål.
	Locale language.Tag
}

// Service is the scheduling engine: every mutation runs check-then-act
// inside one transaction holding row locks on the affected products.
type Service struct {
	repo        RepositoryPort
	cache       catalog.CachePort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	logger      *slog.Logger
	clock       shared.Clock
	revert      bool
	locale      language.Tag
	validator   *validator.Validate
}

// Dependencies bundles the optional collaborators of Service. Any may be nil.
type Dependencies struct {
	Cache       catalog.CachePort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     MetricsPort
	Logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Dependencies, cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = shared.SystemClock
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locale := cfg.Locale
	if locale == language.Und {
		locale = defaultLocale
	}
	return &Service{
		repo:        repo,
		cache:       deps.Cache,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      logger,
		clock:       clock,
		revert:      cfg.RevertRemovedOnUpdate,
		locale:      locale,
		validator:   validator.New(),
	}
}

// normalize trims and validates input, returning the product ids in lock order.
func (s *Service) normalize(input Input) (Input, DateRange, error) {
	input.ProjectNumber = strings.TrimSpace(input.ProjectNumber)
	if err := s.validator.Struct(input); err != nil {
		return Input{}, DateRange{}, shared.Invalid("rental: %v", err)
	}
	period, err := NewDateRange(input.Start, input.End)
	if err != nil {
		return Input{}, DateRange{}, err
	}
	input.ProductIDs = shared.LockOrder(input.ProductIDs)
	input.Start, input.End = period.Start, period.End
	return input, period, nil
}

// HasConflict reports whether any of the products is booked by a rental
// other than excludeID in a period overlapping the given one. It is a
// read-only check; Create and Update repeat the check under lock.
func (s *Service) HasConflict(ctx context.Context, productIDs []int64, period DateRange, excludeID int64) (bool, error) {
	if len(productIDs) == 0 {
		return false, nil
	}
	period, err := NewDateRange(period.Start, period.End)
	if err != nil {
		return false, err
	}
	conflicts, err := s.repo.FindConflicts(ctx, shared.LockOrder(productIDs), period, excludeID)
	if err != nil {
		return false, shared.AsStorage(err)
	}
	return len(conflicts) > 0, nil
}

// Create books the products for the period and marks them ON_RENTAL.
func (s *Service) Create(ctx context.Context, input Input, opts CreateOptions) (id int64, err error) {
	defer s.observe("create", time.Now(), &err)

	input, period, err := s.normalize(input)
	if err != nil {
		return 0, err
	}

	var idemKey string
	if opts.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = "rentals:create:" + opts.IdempotencyKey
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "rentals"); err != nil {
			return 0, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.lockAndCheck(ctx, tx, input.ProductIDs, input.ProductIDs, period, 0); err != nil {
			return err
		}
		newID, err := tx.InsertRental(ctx, Rental{ProjectNumber: input.ProjectNumber, Start: period.Start, End: period.End})
		if err != nil {
			return err
		}
		if err := tx.ReplaceProducts(ctx, newID, input.ProductIDs); err != nil {
			return err
		}
		if err := tx.SetProductStatus(ctx, input.ProductIDs, catalog.StatusOnRental); err != nil {
			return err
		}
		id = newID
		return nil
	})
	if err != nil {
		if idemKey != "" {
			s.releaseKey(ctx, idemKey)
		}
		return 0, shared.AsStorage(err)
	}

	s.afterWrite(ctx, "rentals:create", id, map[string]any{
		"project_number": input.ProjectNumber,
		"product_ids":    input.ProductIDs,
		"period":         period.String(),
	})
	return id, nil
}

// Update replaces project number, period and product set of a rental. The
// submitted products are marked ON_RENTAL; products dropped from the rental
// keep their status unless RevertRemovedOnUpdate is set.
func (s *Service) Update(ctx context.Context, id int64, input Input) (err error) {
	defer s.observe("update", time.Now(), &err)

	if id <= 0 {
		return shared.Invalid("rental id must be positive")
	}
	input, period, err := s.normalize(input)
	if err != nil {
		return err
	}
	today := shared.Today(s.clock)

	var removed []int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockRental(ctx, id)
		if err != nil {
			return err
		}
		removed = difference(current.ProductIDs, input.ProductIDs)
		lockSet := shared.LockOrder(append(append([]int64{}, input.ProductIDs...), removed...))
		if err := s.lockAndCheck(ctx, tx, lockSet, input.ProductIDs, period, id); err != nil {
			return err
		}
		if err := tx.UpdateRental(ctx, Rental{ID: id, ProjectNumber: input.ProjectNumber, Start: period.Start, End: period.End}); err != nil {
			return err
		}
		if err := tx.ReplaceProducts(ctx, id, input.ProductIDs); err != nil {
			return err
		}
		if err := tx.SetProductStatus(ctx, input.ProductIDs, catalog.StatusOnRental); err != nil {
			return err
		}
		if s.revert {
			return releaseIdle(ctx, tx, removed, today)
		}
		return nil
	})
	if err != nil {
		return shared.AsStorage(err)
	}

	s.afterWrite(ctx, "rentals:update", id, map[string]any{
		"project_number": input.ProjectNumber,
		"product_ids":    input.ProductIDs,
		"removed_ids":    removed,
		"period":         period.String(),
	})
	return nil
}

// Delete removes a rental. Each product it referenced returns to ON_HAND
// unless another rental covering today still references it.
func (s *Service) Delete(ctx context.Context, id int64) (err error) {
	defer s.observe("delete", time.Now(), &err)

	if id <= 0 {
		return shared.Invalid("rental id must be positive")
	}
	today := shared.Today(s.clock)

	var released []int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockRental(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockProducts(ctx, current.ProductIDs); err != nil {
			return err
		}
		if err := tx.DeleteRental(ctx, id); err != nil {
			return err
		}
		released = current.ProductIDs
		return releaseIdle(ctx, tx, current.ProductIDs, today)
	})
	if err != nil {
		return shared.AsStorage(err)
	}

	s.afterWrite(ctx, "rentals:delete", id, map[string]any{"product_ids": released})
	return nil
}

// lockAndCheck locks lockSet, rejects unknown products in booked and fails
// with a ConflictError when any booked product overlaps another rental.
func (s *Service) lockAndCheck(ctx context.Context, tx TxRepository, lockSet, booked []int64, period DateRange, excludeID int64) error {
	missing, err := tx.LockProducts(ctx, lockSet)
	if err != nil {
		return err
	}
	var unknown []int64
	for _, id := range missing {
		if _, found := slices.BinarySearch(booked, id); found {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return shared.Invalid("unknown product ids %v", unknown)
	}
	conflicts, err := tx.FindConflicts(ctx, booked, period, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{ProductIDs: conflicts}
	}
	return nil
}

// releaseIdle sets ON_HAND on every product no rental covering today still
// references. Callers must hold the product locks.
func releaseIdle(ctx context.Context, tx TxRepository, productIDs []int64, today time.Time) error {
	for _, pid := range productIDs {
		active, err := tx.HasActiveRental(ctx, pid, today)
		if err != nil {
			return err
		}
		if active {
			continue
		}
		if err := tx.SetProductStatus(ctx, []int64{pid}, catalog.StatusOnHand); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a rental with its product ids.
func (s *Service) Get(ctx context.Context, id int64) (Rental, error) {
	if id <= 0 {
		return Rental{}, shared.Invalid("rental id must be positive")
	}
	rental, err := s.repo.Get(ctx, id)
	if err != nil {
		return Rental{}, shared.AsStorage(err)
	}
	return rental, nil
}

// List returns every rental with the names of its products.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	if s.cache == nil {
		return s.loadList(ctx)
	}
	key, err := s.cache.BuildKey(ctx, "rentals", s.locale.String())
	if err != nil {
		return s.loadList(ctx)
	}
	var (
		out     []Summary
		loadErr error
	)
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		summaries, err := s.loadList(ctx)
		loadErr = err
		return summaries, err
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if err != nil {
		return s.loadList(ctx)
	}
	return out, nil
}

func (s *Service) loadList(ctx context.Context) ([]Summary, error) {
	summaries, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.AsStorage(err)
	}
	s.sortNames(summaries)
	return summaries, nil
}

// ForProduct lists the rentals that reference a product.
func (s *Service) ForProduct(ctx context.Context, productID int64) ([]Summary, error) {
	if productID <= 0 {
		return nil, shared.Invalid("product id must be positive")
	}
	summaries, err := s.repo.ForProduct(ctx, productID)
	if err != nil {
		return nil, shared.AsStorage(err)
	}
	s.sortNames(summaries)
	return summaries, nil
}

// Products returns the products associated with a rental.
func (s *Service) Products(ctx context.Context, rentalID int64) ([]catalog.Product, error) {
	if rentalID <= 0 {
		return nil, shared.Invalid("rental id must be positive")
	}
	products, err := s.repo.Products(ctx, rentalID)
	if err != nil {
		return nil, shared.AsStorage(err)
	}
	return products, nil
}

// sortNames orders product names by the configured locale so Æ, Ø and Å
// sort after Z. Collators are not safe for concurrent use, hence one per call.
func (s *Service) sortNames(summaries []Summary) {
	col := collate.New(s.locale, collate.IgnoreCase)
	for i := range summaries {
		if summaries[i].ProductNames == nil {
			summaries[i].ProductNames = []string{}
		}
		col.SortStrings(summaries[i].ProductNames)
	}
}

// releaseKey frees an idempotency key whose create did not commit, so the
// client can retry with it.
func (s *Service) releaseKey(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

// afterWrite runs once the transaction has committed. The write already
// happened, so it must not depend on the caller still waiting.
func (s *Service) afterWrite(ctx context.Context, action string, id int64, meta map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("invalidate listing cache", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   action,
			Entity:   "rental",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     meta,
			At:       s.clock().UTC(),
		}); err != nil {
			s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
		}
	}
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Observe(op, Outcome(*errp), time.Since(start))
}

// Outcome classifies err into a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	default:
		return "storage"
	}
}
