package valuation

import (
	"context"
	"sort"
	"sync"
	"time"

	"costledger/internal/core/apperror"
	"costledger/internal/core/id"
)

// memStore is an in-memory ledger implementing the repositories and the
// transaction manager. Write transactions are serialized unless unlocked is set,
// and roll back by undoing the layer writes they made.
type memStore struct {
	txMu sync.RWMutex

	// unlocked lets write transactions interleave so that only the layer version
	// check decides between concurrent writers.
	unlocked bool

	mu        sync.Mutex
	seq       int64
	layers    map[id.ID]CostLayer
	products  map[id.ID]Product
	movements []StockMovement
}

// memTx is one open write transaction.
type memTx struct {
	undo  map[id.ID]*CostLayer // prior value, nil when the layer was created
	hooks []func(ctx context.Context)
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		layers:   make(map[id.ID]CostLayer),
		products: make(map[id.ID]Product),
	}
}

func (s *memStore) addProduct(stock, threshold int64) Product {
	p := Product{ID: id.New(), StockQuantity: stock, LowStockThreshold: threshold}
	s.mu.Lock()
	s.products[p.ID] = p
	s.mu.Unlock()
	return p
}

func (s *memStore) addMovement(m StockMovement) {
	if id.IsNil(m.ID) {
		m.ID = id.New()
	}
	s.mu.Lock()
	s.movements = append(s.movements, m)
	s.mu.Unlock()
}

func (s *memStore) layer(layerID id.ID) CostLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers[layerID]
}

func (s *memStore) layerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

// --- tx.ReadOnlyManager ---

func (s *memStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.InTransaction(ctx) {
		return fn(ctx)
	}

	if !s.unlocked {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}

	t := &memTx{undo: make(map[id.ID]*CostLayer)}
	if err := fn(context.WithValue(ctx, memTxKey{}, t)); err != nil {
		s.mu.Lock()
		for layerID, prev := range t.undo {
			if prev == nil {
				delete(s.layers, layerID)
			} else {
				s.layers[layerID] = *prev
			}
		}
		s.mu.Unlock()
		return err
	}

	for _, hook := range t.hooks {
		hook(ctx)
	}
	return nil
}

func (s *memStore) InTransaction(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

func (s *memStore) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if t := txFrom(ctx); t != nil {
		t.hooks = append(t.hooks, fn)
		return
	}
	fn(ctx)
}

func (s *memStore) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.InTransaction(ctx) || s.unlocked {
		return fn(ctx)
	}
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	return fn(ctx)
}

func txFrom(ctx context.Context) *memTx {
	t, _ := ctx.Value(memTxKey{}).(*memTx)
	return t
}

// track remembers a layer's value before its first write in the transaction.
// Callers hold s.mu.
func (s *memStore) track(ctx context.Context, layerID id.ID) {
	t := txFrom(ctx)
	if t == nil {
		return
	}
	if _, seen := t.undo[layerID]; seen {
		return
	}
	if prev, ok := s.layers[layerID]; ok {
		t.undo[layerID] = &prev
	} else {
		t.undo[layerID] = nil
	}
}

// --- LayerRepository ---

func (s *memStore) LockProduct(context.Context, id.ID) error { return nil }

func (s *memStore) Create(ctx context.Context, layer *CostLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(ctx, layer.ID)
	s.seq++
	layer.Seq = s.seq
	layer.Version = 1
	layer.CreatedAt = time.Now().UTC()
	s.layers[layer.ID] = *layer
	return nil
}

func (s *memStore) CreateBatch(ctx context.Context, layers []CostLayer) error {
	for i := range layers {
		if err := s.Create(ctx, &layers[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Get(_ context.Context, layerID id.ID) (CostLayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[layerID]
	if !ok {
		return CostLayer{}, apperror.NewNotFound("cost layer", layerID)
	}
	return l, nil
}

func (s *memStore) ListByProduct(_ context.Context, productID id.ID, f LayerFilter) (Layers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Layers
	for _, l := range s.layers {
		if l.ProductID != productID {
			continue
		}
		if f.ActiveOnly && !l.IsActive {
			continue
		}
		if f.AcquiredBefore != nil && l.AcquisitionDate.After(*f.AcquiredBefore) {
			continue
		}
		out = append(out, l)
	}
	return SelectOrder(out, MethodFIFO), nil
}

func (s *memStore) ListForUpdate(ctx context.Context, productID id.ID) (Layers, error) {
	all, err := s.ListByProduct(ctx, productID, LayerFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	return all.Candidates(), nil
}

func (s *memStore) UpdateRemaining(ctx context.Context, layers Layers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range layers {
		stored, ok := s.layers[l.ID]
		if !ok || stored.Version != l.Version {
			return apperror.NewConcurrentModification("cost layer", l.ID)
		}
	}
	for _, l := range layers {
		s.track(ctx, l.ID)
		stored := s.layers[l.ID]
		stored.RemainingQuantity = l.RemainingQuantity
		stored.Version++
		s.layers[l.ID] = stored
	}
	return nil
}

func (s *memStore) Deactivate(ctx context.Context, layer CostLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.layers[layer.ID]
	if !ok || stored.Version != layer.Version {
		return apperror.NewConcurrentModification("cost layer", layer.ID)
	}
	s.track(ctx, layer.ID)
	stored.IsActive = false
	stored.Version++
	s.layers[layer.ID] = stored
	return nil
}

func (s *memStore) ListProductIDs(context.Context) ([]id.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[id.ID]struct{})
	var out []id.ID
	for _, l := range s.layers {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		out = append(out, l.ProductID)
	}
	return out, nil
}

// --- ProductReader ---

func (s *memStore) GetProduct(_ context.Context, productID id.ID) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return Product{}, apperror.NewNotFound("product", productID)
	}
	return p, nil
}

func (s *memStore) GetProducts(_ context.Context, productIDs []id.ID) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Product
	for _, pid := range productIDs {
		if p, ok := s.products[pid]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- MovementReader ---

func (s *memStore) ListOutbound(_ context.Context, productID id.ID, until time.Time) ([]StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StockMovement
	for _, m := range s.movements {
		if m.ProductID == productID && m.Type == MovementOut && !m.CreatedAt.After(until) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// memCache records invalidations.
type memCache struct {
	mu          sync.Mutex
	entries     map[CacheKey]Valuation
	invalidated []id.ID
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[CacheKey]Valuation)}
}

func (c *memCache) Get(_ context.Context, key CacheKey) (Valuation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[CacheKey{ProductID: key.ProductID, Method: key.Method}]
	if key.AsOf != nil {
		return Valuation{}, false, nil
	}
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key CacheKey, v Valuation) error {
	if key.AsOf != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
	return nil
}

func (c *memCache) InvalidateProduct(_ context.Context, productID id.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.ProductID == productID {
			delete(c.entries, k)
		}
	}
	c.invalidated = append(c.invalidated, productID)
	return nil
}
