package rentals

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/equiprent/equiprent/internal/catalog"
	"github.com/equiprent/equiprent/internal/shared"
)

// memoryStore is an in-memory stand-in for PostgreSQL. WithTx holds a single
// mutex for the whole callback, which is stricter than per-product row locks
// but gives the same isolation the engine relies on, and restores a snapshot
// when the callback fails.
type memoryStore struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
	rentals  map[int64]Rental
	nextPID  int64
	nextRID  int64
	txCount  int
	failNext error
}

type memoryTx struct {
	s *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{products: make(map[int64]catalog.Product), rentals: make(map[int64]Rental)}
}

func (s *memoryStore) snapshot() (map[int64]catalog.Product, map[int64]Rental, int64) {
	products := make(map[int64]catalog.Product, len(s.products))
	for k, v := range s.products {
		products[k] = v
	}
	rentals := make(map[int64]Rental, len(s.rentals))
	for k, v := range s.rentals {
		v.ProductIDs = slices.Clone(v.ProductIDs)
		rentals[k] = v
	}
	return products, rentals, s.nextRID
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	products, rentals, nextRID := s.snapshot()
	err := fn(ctx, &memoryTx{s: s})
	if err == nil && s.failNext != nil {
		err, s.failNext = s.failNext, nil
	}
	if err != nil {
		s.products, s.rentals, s.nextRID = products, rentals, nextRID
		return err
	}
	return nil
}

// abortingStore stands in for a request whose client goes away while the
// transaction is being set up: it cancels the context and fails the
// transaction with the cancellation error.
type abortingStore struct {
	*memoryStore
	cancel context.CancelFunc
}

func (s abortingStore) WithTx(ctx context.Context, _ func(context.Context, TxRepository) error) error {
	s.cancel()
	<-ctx.Done()
	return ctx.Err()
}

// addProduct seeds a product outside any transaction.
func (s *memoryStore) addProduct(name string, status catalog.Status) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	s.products[s.nextPID] = catalog.Product{ID: s.nextPID, Name: name, Location: "Lager", ExplicitStatus: status}
	return s.nextPID
}

func (s *memoryStore) status(id int64) catalog.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].ExplicitStatus
}

func (s *memoryStore) rentalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rentals)
}

func (s *memoryStore) conflicts(productIDs []int64, period DateRange, excludeID int64) []int64 {
	var out []int64
	for _, pid := range shared.LockOrder(productIDs) {
		for _, r := range s.rentals {
			if r.ID == excludeID || !slices.Contains(r.ProductIDs, pid) {
				continue
			}
			if r.Range().Overlaps(period) {
				out = append(out, pid)
				break
			}
		}
	}
	return out
}

func (s *memoryStore) FindConflicts(_ context.Context, productIDs []int64, period DateRange, excludeID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflicts(productIDs, period, excludeID), nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rentals[id]
	if !ok {
		return Rental{}, ErrRentalNotFound
	}
	return r, nil
}

func (s *memoryStore) summaries(filter func(Rental) bool) []Summary {
	var out []Summary
	for _, r := range s.rentals {
		if filter != nil && !filter(r) {
			continue
		}
		sum := Summary{ID: r.ID, ProjectNumber: r.ProjectNumber, Start: r.Start, End: r.End}
		for _, pid := range r.ProductIDs {
			if p, ok := s.products[pid]; ok {
				sum.ProductNames = append(sum.ProductNames, p.Name)
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryStore) List(context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries(nil), nil
}

func (s *memoryStore) ForProduct(_ context.Context, productID int64) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[productID]; !ok {
		return nil, catalog.ErrProductNotFound
	}
	return s.summaries(func(r Rental) bool { return slices.Contains(r.ProductIDs, productID) }), nil
}

func (s *memoryStore) Products(_ context.Context, rentalID int64) ([]catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rentals[rentalID]
	if !ok {
		return nil, ErrRentalNotFound
	}
	var out []catalog.Product
	for _, pid := range r.ProductIDs {
		out = append(out, s.products[pid])
	}
	return out, nil
}

// memoryCatalog exposes the store as a catalog.RepositoryPort so both
// services can share it.
type memoryCatalog struct {
	s *memoryStore
}

func (c memoryCatalog) Get(_ context.Context, id int64) (catalog.Product, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p, ok := c.s.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (c memoryCatalog) Create(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	p.ID = s.nextPID
	s.products[p.ID] = p
	return p, nil
}

func (c memoryCatalog) ListWithActivity(_ context.Context, day time.Time) ([]catalog.ProductRow, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.ProductRow
	for id := int64(1); id <= s.nextPID; id++ {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		out = append(out, catalog.ProductRow{Product: p, ActiveToday: s.active(id, day)})
	}
	return out, nil
}

func (c memoryCatalog) SetStatus(_ context.Context, id int64, status catalog.Status) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.ExplicitStatus = status
	s.products[id] = p
	return nil
}

// Delete removes a product and cascades its rental associations.
func (c memoryCatalog) Delete(_ context.Context, id int64) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return catalog.ErrProductNotFound
	}
	delete(s.products, id)
	for rid, r := range s.rentals {
		r.ProductIDs = slices.DeleteFunc(r.ProductIDs, func(pid int64) bool { return pid == id })
		s.rentals[rid] = r
	}
	return nil
}

func (s *memoryStore) active(productID int64, day time.Time) bool {
	for _, r := range s.rentals {
		if slices.Contains(r.ProductIDs, productID) && r.Range().Covers(day) {
			return true
		}
	}
	return false
}

func (tx *memoryTx) LockProducts(_ context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	for _, id := range shared.LockOrder(ids) {
		if _, ok := tx.s.products[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (tx *memoryTx) LockRental(_ context.Context, id int64) (Rental, error) {
	r, ok := tx.s.rentals[id]
	if !ok {
		return Rental{}, ErrRentalNotFound
	}
	r.ProductIDs = slices.Clone(r.ProductIDs)
	return r, nil
}

func (tx *memoryTx) FindConflicts(_ context.Context, productIDs []int64, period DateRange, excludeID int64) ([]int64, error) {
	return tx.s.conflicts(productIDs, period, excludeID), nil
}

func (tx *memoryTx) projectTaken(project string, excludeID int64) bool {
	for _, r := range tx.s.rentals {
		if r.ID != excludeID && r.ProjectNumber == project {
			return true
		}
	}
	return false
}

func (tx *memoryTx) InsertRental(_ context.Context, rental Rental) (int64, error) {
	if tx.projectTaken(rental.ProjectNumber, 0) {
		return 0, ErrDuplicateProject
	}
	tx.s.nextRID++
	rental.ID = tx.s.nextRID
	tx.s.rentals[rental.ID] = rental
	return rental.ID, nil
}

func (tx *memoryTx) UpdateRental(_ context.Context, rental Rental) error {
	current, ok := tx.s.rentals[rental.ID]
	if !ok {
		return ErrRentalNotFound
	}
	if tx.projectTaken(rental.ProjectNumber, rental.ID) {
		return ErrDuplicateProject
	}
	current.ProjectNumber, current.Start, current.End = rental.ProjectNumber, rental.Start, rental.End
	tx.s.rentals[rental.ID] = current
	return nil
}

func (tx *memoryTx) ReplaceProducts(_ context.Context, rentalID int64, productIDs []int64) error {
	r := tx.s.rentals[rentalID]
	r.ProductIDs = slices.Clone(productIDs)
	tx.s.rentals[rentalID] = r
	return nil
}

func (tx *memoryTx) DeleteRental(_ context.Context, id int64) error {
	if _, ok := tx.s.rentals[id]; !ok {
		return ErrRentalNotFound
	}
	delete(tx.s.rentals, id)
	return nil
}

func (tx *memoryTx) SetProductStatus(_ context.Context, productIDs []int64, status catalog.Status) error {
	for _, id := range productIDs {
		if p, ok := tx.s.products[id]; ok {
			p.ExplicitStatus = status
			tx.s.products[id] = p
		}
	}
	return nil
}

func (tx *memoryTx) HasActiveRental(_ context.Context, productID int64, day time.Time) (bool, error) {
	return tx.s.active(productID, day), nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type recordedOp struct{ op, outcome string }

type memoryMetrics struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (m *memoryMetrics) Observe(op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, recordedOp{op, outcome})
}
