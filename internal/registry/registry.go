// Package registry owns the set of boards and the active board session:
// its item list, connection graph, hydration and debounced persistence.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/linkboard/internal/board"
	"github.com/lazypower/linkboard/internal/engine"
	"github.com/lazypower/linkboard/internal/graph"
	"github.com/lazypower/linkboard/internal/persist"
)

var (
	// ErrNotHydrated is returned while the active board's binary fields are
	// still being read back.
	ErrNotHydrated  = errors.New("active board is still loading")
	ErrItemNotFound = errors.New("item not found")
)

// Options tunes a Registry.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
}

// Registry is safe for concurrent use.
type Registry struct {
	mgr    *persist.Manager
	logger *zap.Logger
	saver  *persist.Debouncer

	// saveMu orders metadata writes so an older snapshot never lands last.
	saveMu sync.Mutex

	mu        sync.Mutex
	state     *board.State
	graph     *graph.Graph
	epochBase uint64
	gen       uint64
	hydrated  bool
	ready     chan struct{}
	warning   *persist.Warning
}

// Open loads the registry through mgr (falling back to a fresh one) and
// starts hydrating the active board.
func Open(ctx context.Context, mgr *persist.Manager, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Registry{
		mgr:    mgr,
		logger: opts.Logger,
		state:  mgr.LoadOrCreateRegistry(ctx),
	}
	r.saver = persist.NewDebouncer(opts.Debounce, func() {
		_ = r.persist(context.Background())
	})

	r.mu.Lock()
	r.activateLocked(r.state.ActiveBoardID)
	r.mu.Unlock()
	return r
}

// activateLocked points the session at board id: rebuilds the graph from
// the board's connections and starts hydration tagged with a new
// generation. The previous board's graph must already be synced.
func (r *Registry) activateLocked(id string) {
	b := r.state.Boards[id]
	r.state.ActiveBoardID = id

	if r.graph != nil && r.graph.Epoch() >= r.epochBase {
		r.epochBase = r.graph.Epoch()
	}
	r.epochBase++
	r.graph = graph.FromConnectionsAt(b.Connections, r.epochBase)

	// release anyone waiting on the superseded board
	if r.ready != nil && !r.hydrated {
		close(r.ready)
	}
	r.gen++
	r.ready = make(chan struct{})
	r.hydrated = false

	if !hasBinaryFields(b.Items) {
		r.hydrated = true
		close(r.ready)
		return
	}

	gen := r.gen
	items := board.CloneItems(b.Items)
	go func() {
		hydrated := r.mgr.Hydrate(context.Background(), id, items)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gen != gen || r.state.ActiveBoardID != id {
			r.logger.Debug("stale hydration discarded", zap.String("board", id))
			return
		}
		if b, ok := r.state.Boards[id]; ok {
			b.Items = hydrated
		}
		r.hydrated = true
		close(r.ready)
		r.logger.Debug("board hydrated", zap.String("board", id), zap.Int("items", len(hydrated)))
	}()
}

func hasBinaryFields(items []board.Item) bool {
	for _, it := range items {
		if len(board.BinaryFields(it.Kind)) > 0 {
			return true
		}
	}
	return false
}

// syncGraphLocked copies the live graph into the active board.
func (r *Registry) syncGraphLocked() {
	if b := r.state.Active(); b != nil && r.graph != nil {
		b.Connections = r.graph.All()
	}
}

func (r *Registry) changedLocked(b *board.Board) {
	b.Touch()
	r.saver.Trigger()
}

// Ready reports whether the active board is hydrated.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hydrated
}

// WaitReady blocks until the active board is hydrated. If the board changes
// while waiting, it waits for the new one.
func (r *Registry) WaitReady(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.hydrated {
			r.mu.Unlock()
			return nil
		}
		ch := r.ready
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CreateBoard adds an empty board, makes it active and returns its id. The
// previous board is not flushed here.
func (r *Registry) CreateBoard(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.syncGraphLocked()
	b := board.New(strings.TrimSpace(name))
	r.state.Boards[b.ID] = b
	r.activateLocked(b.ID)
	r.saver.Trigger()
	r.logger.Info("board created", zap.String("board", b.ID), zap.String("name", b.Name))
	return b.ID
}

// SwitchBoard activates board id. Unknown ids and the already-active board
// are ignored; the return value reports whether a switch happened.
func (r *Registry) SwitchBoard(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.Boards[id]; !ok || id == r.state.ActiveBoardID {
		return false
	}
	r.syncGraphLocked()
	r.activateLocked(id)
	r.saver.Trigger()
	return true
}

// RenameBoard renames board id. Unknown ids are ignored.
func (r *Registry) RenameBoard(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.state.Boards[id]
	if !ok {
		return false
	}
	b.Name = strings.TrimSpace(name)
	if b.Name == "" {
		b.Name = "Untitled board"
	}
	r.changedLocked(b)
	return true
}

// DeleteBoard removes board id and its binary payloads. It refuses to
// delete the only board and ignores unknown ids. Deleting the active board
// activates the most recently updated remaining one.
func (r *Registry) DeleteBoard(ctx context.Context, id string) bool {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	if _, ok := r.state.Boards[id]; !ok || len(r.state.Boards) <= 1 {
		r.mu.Unlock()
		return false
	}
	r.syncGraphLocked()
	delete(r.state.Boards, id)
	if r.state.ActiveBoardID == id {
		next := r.state.Summaries()[0].ID
		r.activateLocked(next)
	}
	snapshot := r.state.Clone()
	r.mu.Unlock()

	if err := r.mgr.DeleteBoardData(ctx, snapshot, id); err != nil {
		r.setWarning(err)
	}
	r.logger.Info("board deleted", zap.String("board", id), zap.String("active", snapshot.ActiveBoardID))
	return true
}

// ActiveID returns the active board's id.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ActiveBoardID
}

// ActiveBoard returns a copy of the active board with its live connections.
func (r *Registry) ActiveBoard() (*board.Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hydrated {
		return nil, ErrNotHydrated
	}
	r.syncGraphLocked()
	return r.state.Active().Clone(), nil
}

// Boards lists board summaries, most recently updated first.
func (r *Registry) Boards() []board.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncGraphLocked()
	return r.state.Summaries()
}

// Items returns copies of the active board's items.
func (r *Registry) Items() ([]board.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hydrated {
		return nil, ErrNotHydrated
	}
	return board.CloneItems(r.state.Active().Items), nil
}

// AddItem adds an item to the active board under a freshly issued id.
func (r *Registry) AddItem(it board.Item) (board.Item, error) {
	kind, err := board.ParseKind(string(it.Kind))
	if err != nil {
		return board.Item{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hydrated {
		return board.Item{}, ErrNotHydrated
	}
	b := r.state.Active()

	it = it.Clone()
	it.ID = b.NextItemID()
	it.Kind = kind
	if it.Fields == nil {
		it.Fields = map[string]any{}
	}
	b.Items = append(b.Items, it)
	r.changedLocked(b)
	return it.Clone(), nil
}

// ItemPatch is a partial item update. A nil field value deletes the field.
type ItemPatch struct {
	Position *board.Position
	Size     *board.Size
	Fields   map[string]any
}

// UpdateItem applies patch to item id on the active board.
func (r *Registry) UpdateItem(id string, patch ItemPatch) (board.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hydrated {
		return board.Item{}, ErrNotHydrated
	}
	b := r.state.Active()
	i := b.ItemIndex(id)
	if i < 0 {
		return board.Item{}, fmt.Errorf("update %s: %w", id, ErrItemNotFound)
	}

	it := &b.Items[i]
	var cleared []string
	for _, f := range board.BinaryFields(it.Kind) {
		v, ok := patch.Fields[f]
		if !ok {
			continue
		}
		if str, isString := v.(string); v == nil || (isString && str == "") {
			cleared = append(cleared, f)
		}
	}
	if patch.Position != nil {
		it.Position = *patch.Position
	}
	if patch.Size != nil {
		it.Size = *patch.Size
	}
	for k, v := range patch.Fields {
		if it.Fields == nil {
			it.Fields = map[string]any{}
		}
		if v == nil {
			delete(it.Fields, k)
			continue
		}
		it.Fields[k] = v
	}
	r.mgr.ClearBinaryFields(b.ID, it.ID, cleared)
	r.changedLocked(b)
	return it.Clone(), nil
}

// RemoveItem deletes item id from the active board and sweeps its binary
// payloads. Connections naming the item stay; they render as nothing.
func (r *Registry) RemoveItem(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hydrated {
		return ErrNotHydrated
	}
	b := r.state.Active()
	i := b.ItemIndex(id)
	if i < 0 {
		return fmt.Errorf("remove %s: %w", id, ErrItemNotFound)
	}
	itemID := b.Items[i].ID
	b.Items = append(b.Items[:i], b.Items[i+1:]...)
	r.mgr.DeleteItemData(b.ID, itemID)
	r.changedLocked(b)
	return nil
}

// Graph returns the active board's connection graph. It is replaced on
// every board switch; don't hold on to it.
func (r *Registry) Graph() *graph.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graph
}

// ClearConnections removes every connection on the active board.
func (r *Registry) ClearConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graph.ClearAll()
	r.changedLocked(r.state.Active())
}

// AnalysisSnapshot implements engine.Workspace.
func (r *Registry) AnalysisSnapshot() (engine.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hydrated {
		return engine.Snapshot{}, ErrNotHydrated
	}
	return engine.Snapshot{
		BoardID:     r.state.ActiveBoardID,
		Items:       board.CloneItems(r.state.Active().Items),
		Connections: r.graph.All(),
		Epoch:       r.graph.Epoch(),
	}, nil
}

// Commit implements engine.Workspace. Results for a board that is no
// longer active, or for a graph cleared or rebuilt since epoch, are refused.
func (r *Registry) Commit(boardID string, epoch uint64, layer graph.Layer, conns []graph.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if boardID != r.state.ActiveBoardID {
		return false
	}
	if !r.graph.AppendAt(epoch, layer, conns) {
		return false
	}
	r.changedLocked(r.state.Active())
	return true
}

// Flush cancels any scheduled save and saves now: binary fields of the
// active board in the background, then the metadata record.
func (r *Registry) Flush(ctx context.Context) error {
	r.saver.Cancel()
	return r.persist(ctx)
}

func (r *Registry) persist(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	r.syncGraphLocked()
	boardID := r.state.ActiveBoardID
	var items []board.Item
	if r.hydrated {
		items = board.CloneItems(r.state.Active().Items)
	}
	// queued under mu so a later clear or sweep of the same keys runs after it
	if items != nil {
		r.mgr.SaveBinaryFields(boardID, items)
	}
	snapshot := r.state.Clone()
	r.mu.Unlock()

	if err := r.mgr.SaveRegistry(ctx, snapshot); err != nil {
		r.setWarning(err)
		return err
	}
	return nil
}

func (r *Registry) setWarning(err error) {
	var w *persist.Warning
	if !errors.As(err, &w) {
		w = &persist.Warning{Kind: persist.KindGeneric, Message: err.Error(), Err: err}
	}
	r.mu.Lock()
	r.warning = w
	r.mu.Unlock()
}

// Warning returns the current persistence warning, or nil.
func (r *Registry) Warning() *persist.Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warning
}

// DismissWarning clears the current warning.
func (r *Registry) DismissWarning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warning = nil
}

// Close saves any pending changes, stops the save timer and waits for
// background binary work.
func (r *Registry) Close(ctx context.Context) error {
	err := r.Flush(ctx)
	r.saver.Stop()
	r.mgr.Wait()
	return err
}
