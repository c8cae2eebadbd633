package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/linkboard/internal/board"
	"github.com/lazypower/linkboard/internal/metrics"
)

// RegistryKey is the fixed name of the registry record in the metadata store.
const RegistryKey = "linkboard.registry"

// MetadataStore is the small, synchronous tier. Put overwrites the record
// wholesale and wraps capacity failures in ErrStoreFull.
type MetadataStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// BinaryStore is the large, asynchronous tier holding opaque payloads under
// keys of the form boardId:itemId:fieldName.
type BinaryStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// BinaryKey builds a binary tier key.
func BinaryKey(boardID, itemID, field string) string {
	return boardID + ":" + itemID + ":" + field
}

// Options tunes a Manager.
type Options struct {
	// BinaryWorkers bounds concurrent binary writes. Default 4.
	BinaryWorkers int
	Logger        *zap.Logger
	Metrics       *metrics.Collector
}

// Manager splits board state across the metadata and binary tiers.
type Manager struct {
	meta     MetadataStore
	bin      BinaryStore
	workers  int
	logger   *zap.Logger
	metrics  *metrics.Collector
	validate *validator.Validate

	wg sync.WaitGroup

	mu    sync.Mutex
	tails map[string]chan struct{} // last queued binary job per board
}

// New creates a Manager over the two tiers.
func New(meta MetadataStore, bin BinaryStore, opts Options) *Manager {
	if opts.BinaryWorkers <= 0 {
		opts.BinaryWorkers = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		meta:     meta,
		bin:      bin,
		workers:  opts.BinaryWorkers,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		validate: validator.New(),
		tails:    make(map[string]chan struct{}),
	}
}

// enqueue runs fn in the background after every job queued earlier for the
// same board has finished. Writes and sweeps of one board land in the order
// they were queued.
func (m *Manager) enqueue(boardID string, fn func()) {
	done := make(chan struct{})
	m.mu.Lock()
	prev := m.tails[boardID]
	m.tails[boardID] = done
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if prev != nil {
			<-prev
		}
		fn()

		m.mu.Lock()
		if m.tails[boardID] == done {
			delete(m.tails, boardID)
		}
		m.mu.Unlock()
		close(done)
	}()
}

// LoadOrCreateRegistry reads and validates the registry record. Any read,
// parse or validation failure falls back to a fresh registry with one empty
// board. It never returns an error.
func (m *Manager) LoadOrCreateRegistry(ctx context.Context) *board.State {
	state, err := m.loadRegistry(ctx)
	if err == nil {
		return state
	}

	m.logger.Warn("registry unusable, starting fresh", zap.Error(err))
	state = board.NewState()
	if err := m.SaveRegistry(ctx, state); err != nil {
		m.logger.Warn("write fresh registry", zap.Error(err))
	}
	return state
}

var errNoRegistry = errors.New("no registry record")

func (m *Manager) loadRegistry(ctx context.Context) (*board.State, error) {
	raw, ok, err := m.meta.Get(ctx, RegistryKey)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if !ok {
		return nil, errNoRegistry
	}

	var state board.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if err := m.validateState(&state); err != nil {
		return nil, err
	}

	for id, b := range state.Boards {
		if b.Items == nil {
			b.Items = []board.Item{}
		}
		if b.ReconcileCounter() {
			m.logger.Warn("item counter behind issued ids, raised",
				zap.String("board", id), zap.Int("counter", b.ItemIDCounter))
		}
	}
	return &state, nil
}

func (m *Manager) validateState(state *board.State) error {
	if err := m.validate.Struct(state); err != nil {
		return fmt.Errorf("validate registry: %w", err)
	}
	if _, ok := state.Boards[state.ActiveBoardID]; !ok {
		return fmt.Errorf("validate registry: active board %q not present", state.ActiveBoardID)
	}
	for id, b := range state.Boards {
		if b.ID != id {
			return fmt.Errorf("validate registry: board key %q holds id %q", id, b.ID)
		}
	}
	return nil
}

// SaveRegistry writes the metadata projection of state: every item with its
// binary fields stripped. state itself is not modified and the binary tier
// is never touched. Failures come back as *Warning.
func (m *Manager) SaveRegistry(ctx context.Context, state *board.State) error {
	proj := Project(state)

	data, err := json.Marshal(proj)
	if err != nil {
		m.metrics.PersistFailure("metadata", string(KindGeneric))
		return newWarning(fmt.Errorf("encode registry: %w", err))
	}

	if err := m.meta.Put(ctx, RegistryKey, string(data)); err != nil {
		w := newWarning(err)
		m.metrics.PersistFailure("metadata", string(w.Kind))
		m.logger.Warn("save registry failed", zap.String("kind", string(w.Kind)), zap.Error(err))
		return w
	}
	m.metrics.MetadataSaved()
	return nil
}

// Project returns a copy of state carrying no binary fields.
func Project(state *board.State) *board.State {
	out := &board.State{
		SchemaVersion: state.SchemaVersion,
		ActiveBoardID: state.ActiveBoardID,
		Boards:        make(map[string]*board.Board, len(state.Boards)),
	}
	for id, b := range state.Boards {
		cp := *b
		cp.Items = Strip(b.Items)
		out.Boards[id] = &cp
	}
	return out
}

// Strip returns copies of items with every binary payload removed. An
// empty binary field carries no payload and stays, so it survives a reload
// as empty rather than being filled from the binary tier.
func Strip(items []board.Item) []board.Item {
	out := make([]board.Item, len(items))
	for i, it := range items {
		cp := it.Clone()
		for _, f := range board.BinaryFields(it.Kind) {
			if v, ok := cp.Fields[f].(string); ok && v == "" {
				continue
			}
			delete(cp.Fields, f)
		}
		out[i] = cp
	}
	return out
}

type binaryWrite struct {
	key   string
	value string
}

// SaveBinaryFields writes every non-empty binary field of items to the
// binary tier in the background. Failures are logged and counted, never
// returned.
func (m *Manager) SaveBinaryFields(boardID string, items []board.Item) {
	var writes []binaryWrite
	for _, it := range items {
		for _, f := range board.BinaryFields(it.Kind) {
			v, ok := it.Fields[f].(string)
			if !ok || v == "" {
				continue
			}
			writes = append(writes, binaryWrite{key: BinaryKey(boardID, it.ID, f), value: v})
		}
	}
	if len(writes) == 0 {
		return
	}

	m.enqueue(boardID, func() {
		var g errgroup.Group
		g.SetLimit(m.workers)
		for _, w := range writes {
			g.Go(func() error {
				if err := m.bin.Set(context.Background(), w.key, w.value); err != nil {
					m.metrics.PersistFailure("binary", "write")
					m.logger.Warn("binary write failed", zap.String("key", w.key), zap.Error(err))
					return err
				}
				m.metrics.BinaryWritten()
				return nil
			})
		}
		_ = g.Wait()
	})
}

// ClearBinaryFields deletes the named binary fields of one item, queued
// behind earlier writes for the board.
func (m *Manager) ClearBinaryFields(boardID, itemID string, fields []string) {
	if len(fields) == 0 {
		return
	}
	m.enqueue(boardID, func() {
		for _, f := range fields {
			key := BinaryKey(boardID, itemID, f)
			if err := m.bin.Delete(context.Background(), key); err != nil {
				m.metrics.PersistFailure("binary", "delete")
				m.logger.Warn("binary delete failed", zap.String("key", key), zap.Error(err))
			}
		}
	})
}

// Hydrate returns copies of items with absent binary fields read back from
// the binary tier, after any writes still queued for the board have landed.
// Fields already present are left alone; missing entries and read errors
// leave the field absent.
func (m *Manager) Hydrate(ctx context.Context, boardID string, items []board.Item) []board.Item {
	m.mu.Lock()
	tail := m.tails[boardID]
	m.mu.Unlock()
	if tail != nil {
		select {
		case <-tail:
		case <-ctx.Done():
		}
	}

	out := board.CloneItems(items)
	for i := range out {
		it := &out[i]
		for _, f := range board.BinaryFields(it.Kind) {
			if _, present := it.Fields[f]; present {
				continue
			}
			v, ok, err := m.bin.Get(ctx, BinaryKey(boardID, it.ID, f))
			if err != nil {
				m.metrics.PersistFailure("binary", "read")
				m.logger.Warn("binary read failed",
					zap.String("board", boardID), zap.String("item", it.ID),
					zap.String("field", f), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if it.Fields == nil {
				it.Fields = make(map[string]any)
			}
			it.Fields[f] = v
		}
	}
	return out
}

// DeleteBoardData removes the board from the metadata record and sweeps its
// binary keys in the background.
func (m *Manager) DeleteBoardData(ctx context.Context, state *board.State, boardID string) error {
	delete(state.Boards, boardID)
	err := m.SaveRegistry(ctx, state)
	m.sweep(boardID, boardID+":")
	return err
}

// DeleteItemData sweeps one item's binary keys in the background.
func (m *Manager) DeleteItemData(boardID, itemID string) {
	m.sweep(boardID, boardID+":"+itemID+":")
}

// PrefixDeleter is implemented by binary stores that can drop a whole key
// range at once. The sweep uses it in place of list-then-delete.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

func (m *Manager) sweep(boardID, prefix string) {
	m.enqueue(boardID, func() {
		ctx := context.Background()

		if pd, ok := m.bin.(PrefixDeleter); ok {
			n, err := pd.DeletePrefix(ctx, prefix)
			if err != nil {
				m.metrics.PersistFailure("binary", "delete")
				m.logger.Warn("binary sweep failed", zap.String("prefix", prefix), zap.Error(err))
				return
			}
			if n > 0 {
				m.logger.Debug("binary sweep", zap.String("prefix", prefix), zap.Int("removed", n))
			}
			return
		}

		keys, err := m.bin.Keys(ctx, prefix)
		if err != nil {
			m.metrics.PersistFailure("binary", "list")
			m.logger.Warn("binary sweep list failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		removed := 0
		for _, k := range keys {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			if err := m.bin.Delete(ctx, k); err != nil {
				m.metrics.PersistFailure("binary", "delete")
				m.logger.Warn("binary delete failed", zap.String("key", k), zap.Error(err))
				continue
			}
			removed++
		}
		if removed > 0 {
			m.logger.Debug("binary sweep", zap.String("prefix", prefix), zap.Int("removed", removed))
		}
	})
}

// Wait blocks until all background binary work has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
