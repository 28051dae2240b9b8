package catalog

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/equiprent/equiprent/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Create(ctx context.Context, p Product) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	ListWithActivity(ctx context.Context, day time.Time) ([]ProductRow, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	Delete(ctx context.Context, id int64) error
}

// CachePort is the versioned read cache shared with the rental ledger.
type CachePort interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Clock  shared.Clock
	Logger *slog.Logger
}

const afterWriteTimeout = 2 * time.Second

// Service coordinates product catalog operations.
type Service struct {
	repo      RepositoryPort
	cache     CachePort
	audit     AuditPort
	clock     shared.Clock
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, cache CachePort, audit AuditPort, cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = shared.SystemClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, clock: clock, logger: logger, validator: validator.New()}
}

// Create registers a new product.
func (s *Service) Create(ctx context.Context, input CreateInput) (Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Location = strings.TrimSpace(input.Location)
	if err := s.validator.Struct(input); err != nil {
		return Product{}, shared.Invalid("product: %v", err)
	}
	status := StatusOnHand
	if strings.TrimSpace(input.Status) != "" {
		parsed, err := ParseStatus(input.Status)
		if err != nil {
			return Product{}, err
		}
		status = parsed
	}
	p, err := s.repo.Create(ctx, Product{Name: input.Name, Location: input.Location, ExplicitStatus: status})
	if err != nil {
		return Product{}, shared.AsStorage(err)
	}
	s.afterWrite(ctx, "catalog:create", p.ID, map[string]any{"name": p.Name, "status": string(status)})
	return p, nil
}

// Get returns a product with its stored status.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, shared.Invalid("product id must be positive")
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, shared.AsStorage(err)
	}
	return p, nil
}

// List returns every product with its effective status as of today (UTC).
func (s *Service) List(ctx context.Context) ([]ProductView, error) {
	today := shared.Today(s.clock)
	if s.cache == nil {
		return s.load(ctx, today)
	}
	key, err := s.cache.BuildKey(ctx, "products", shared.FormatDate(today))
	if err != nil {
		return s.load(ctx, today)
	}
	var (
		out     []ProductView
		loadErr error
	)
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		views, err := s.load(ctx, today)
		loadErr = err
		return views, err
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if err != nil {
		// Cache unavailable: answer from the database.
		return s.load(ctx, today)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, today time.Time) ([]ProductView, error) {
	rows, err := s.repo.ListWithActivity(ctx, today)
	if err != nil {
		return nil, shared.AsStorage(err)
	}
	views := make([]ProductView, 0, len(rows))
	for _, row := range rows {
		views = append(views, row.View())
	}
	return views, nil
}

// SetStatus overwrites the explicit status of a product. It does not touch
// rentals, so a product covered by a rental today still lists as ON_RENTAL.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status) error {
	if id <= 0 {
		return shared.Invalid("product id must be positive")
	}
	if !status.Valid() {
		return shared.Invalid("unknown product status %q", string(status))
	}
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		return shared.AsStorage(err)
	}
	s.afterWrite(ctx, "catalog:set_status", id, map[string]any{"status": string(status)})
	return nil
}

// Delete removes a product. Its rental associations are dropped with it;
// the rentals themselves remain.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.Invalid("product id must be positive")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return shared.AsStorage(err)
	}
	s.afterWrite(ctx, "catalog:delete", id, nil)
	return nil
}

// afterWrite invalidates listings and records the audit entry of a committed
// write, detached from the request so a disconnecting client cannot skip it.
func (s *Service) afterWrite(ctx context.Context, action string, id int64, meta map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterWriteTimeout)
	defer cancel()
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("invalidate listing cache", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   action,
			Entity:   "product",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     meta,
			At:       s.clock().UTC(),
		}); err != nil {
			s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
		}
	}
}
