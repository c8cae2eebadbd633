// Package engine decides when to ask the relationship finder for new
// connections and which of its answers are new enough to keep.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/linkboard/internal/board"
	"github.com/lazypower/linkboard/internal/graph"
	"github.com/lazypower/linkboard/internal/llm"
	"github.com/lazypower/linkboard/internal/metrics"
)

// ErrBusy is returned when the layer already has an analysis running.
var ErrBusy = errors.New("analysis already running for layer")

// State is a layer's analysis state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateError   State = "error"
	StateNoNew   State = "no-new"
)

// DefaultErrorDisplay is how long a failed layer shows its error.
const DefaultErrorDisplay = 4 * time.Second

// Snapshot is the slice of the active board an analysis works on.
type Snapshot struct {
	BoardID     string
	Items       []board.Item
	Connections []graph.Connection
	Epoch       uint64
}

// Workspace supplies snapshots and accepts results. Commit must refuse
// results for a board that is no longer active or a graph cleared since
// the snapshot's epoch.
type Workspace interface {
	AnalysisSnapshot() (Snapshot, error)
	Commit(boardID string, epoch uint64, layer graph.Layer, conns []graph.Connection) bool
}

// Result reports one Analyze call.
type Result struct {
	Layer      graph.Layer        `json:"layer"`
	State      State              `json:"state"`
	Kept       []graph.Connection `json:"kept"`
	Candidates int                `json:"candidates"`
	Rejected   int                `json:"rejected"`
	Skipped    bool               `json:"skipped"`   // finder not called
	Discarded  bool               `json:"discarded"` // board switched or graph cleared mid-run
	Error      string             `json:"error,omitempty"`
}

// LayerStatus is the externally visible state of one layer.
type LayerStatus struct {
	Layer     graph.Layer `json:"layer"`
	State     State       `json:"state"`
	Error     string      `json:"error,omitempty"`
	LastKept  int         `json:"lastKept"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type layerState struct {
	status LayerStatus
	gen    uint64
	timer  *time.Timer
}

// Options tunes a Controller.
type Options struct {
	Policy       board.Policy
	ErrorDisplay time.Duration
	// Timeout bounds one finder call. Zero means no extra bound.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Controller runs analyses, one at a time per layer.
type Controller struct {
	ws     Workspace
	finder Finder
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	layers map[graph.Layer]*layerState
}

// NewController creates a controller.
func NewController(ws Workspace, finder Finder, opts Options) *Controller {
	if opts.ErrorDisplay <= 0 {
		opts.ErrorDisplay = DefaultErrorDisplay
	}
	if opts.Policy.Placeholders == nil {
		opts.Policy = board.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Controller{
		ws:     ws,
		finder: finder,
		opts:   opts,
		logger: opts.Logger,
		layers: make(map[graph.Layer]*layerState, len(graph.Layers)),
	}
	for _, l := range graph.Layers {
		c.layers[l] = &layerState{status: LayerStatus{Layer: l, State: StateIdle}}
	}
	return c
}

// NewLLMController wires a controller to a language model client.
func NewLLMController(ws Workspace, client llm.Client, opts Options) *Controller {
	return NewController(ws, LLMFinder{Client: client}, opts)
}

// Status returns every layer's state in display order.
func (c *Controller) Status() []LayerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LayerStatus, 0, len(graph.Layers))
	for _, l := range graph.Layers {
		out = append(out, c.layers[l].status)
	}
	return out
}

// State returns one layer's state.
func (c *Controller) State(layer graph.Layer) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ls, ok := c.layers[layer]; ok {
		return ls.status.State
	}
	return StateIdle
}

// Reset returns every layer that is not running to idle. Called when the
// active board changes.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ls := range c.layers {
		if ls.status.State == StateRunning {
			continue
		}
		c.settleLocked(ls, StateIdle, "", 0)
	}
}

func (c *Controller) settleLocked(ls *layerState, st State, msg string, kept int) {
	if ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
	}
	ls.status.State = st
	ls.status.Error = msg
	ls.status.LastKept = kept
	ls.status.UpdatedAt = time.Now()
}

// Analyze runs one analysis round for layer. It returns ErrBusy if one is
// already running for that layer. A finder failure returns the result in
// StateError together with the error; the layer goes back to idle after
// the error display time.
func (c *Controller) Analyze(ctx context.Context, layer graph.Layer) (*Result, error) {
	c.mu.Lock()
	ls, ok := c.layers[layer]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown layer %q", layer)
	}
	if ls.status.State == StateRunning {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	ls.gen++
	gen := ls.gen
	c.settleLocked(ls, StateRunning, "", 0)
	c.mu.Unlock()

	res, err := c.run(ctx, layer)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case res == nil:
		// never reached the finder
		c.settleLocked(ls, StateIdle, "", 0)
		return nil, err
	case res.State == StateError:
		c.settleLocked(ls, StateError, res.Error, 0)
		ls.timer = time.AfterFunc(c.opts.ErrorDisplay, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if ls.gen == gen && ls.status.State == StateError {
				c.settleLocked(ls, StateIdle, "", 0)
			}
		})
	default:
		c.settleLocked(ls, res.State, "", len(res.Kept))
	}
	c.opts.Metrics.AnalysisOutcome(string(layer), outcome(res))
	return res, err
}

func outcome(res *Result) string {
	switch {
	case res.Discarded:
		return "discarded"
	case res.State == StateIdle:
		return "kept"
	default:
		return string(res.State)
	}
}

func (c *Controller) run(ctx context.Context, layer graph.Layer) (*Result, error) {
	snap, err := c.ws.AnalysisSnapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	eligible := c.opts.Policy.EligibleItems(snap.Items)
	g := graph.FromConnections(snap.Connections)
	connected := g.ConnectedNodeSet(layer)
	firstRun := g.Count(layer) == 0

	res := &Result{Layer: layer}

	if len(eligible) < 2 {
		res.State, res.Skipped = StateNoNew, true
		return res, nil
	}
	if !firstRun && allConnected(eligible, connected) {
		c.logger.Debug("analysis skipped, every item connected",
			zap.String("layer", string(layer)), zap.Int("items", len(eligible)))
		res.State, res.Skipped = StateNoNew, true
		return res, nil
	}

	req := Request{Layer: layer, Items: make([]llm.AnalysisItem, len(eligible))}
	known := make(map[string]struct{}, len(eligible))
	for i, it := range eligible {
		id := graph.Canonicalize(it.ID)
		req.Items[i] = llm.AnalysisItem{ID: id, Kind: string(it.Kind), Payload: board.Payload(it)}
		known[id] = struct{}{}
	}
	if layer.BuildsOnPrior() {
		req.Prior = snap.Connections
	}

	callCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	cands, err := c.finder.FindConnections(callCtx, req)
	c.opts.Metrics.ObserveCollaborator(time.Since(start))
	if err != nil {
		c.logger.Warn("relationship finder failed", zap.String("layer", string(layer)), zap.Error(err))
		res.State, res.Error = StateError, err.Error()
		return res, fmt.Errorf("find connections: %w", err)
	}
	res.Candidates = len(cands)

	for _, cand := range cands {
		vc, err := validateCandidate(cand, known)
		if err != nil {
			c.logger.Debug("rejecting candidate", zap.String("layer", string(layer)), zap.Error(err))
			res.Rejected++
			continue
		}
		if !firstRun && inSet(connected, vc.From) && inSet(connected, vc.To) {
			continue
		}
		vc.Layer = layer
		res.Kept = append(res.Kept, vc)
	}

	if len(res.Kept) == 0 {
		res.State = StateNoNew
		return res, nil
	}

	if !c.ws.Commit(snap.BoardID, snap.Epoch, layer, res.Kept) {
		c.logger.Info("analysis result discarded, board changed during run",
			zap.String("layer", string(layer)), zap.String("board", snap.BoardID))
		res.State, res.Discarded, res.Kept = StateIdle, true, nil
		return res, nil
	}

	c.logger.Info("analysis complete",
		zap.String("layer", string(layer)),
		zap.Int("candidates", res.Candidates),
		zap.Int("kept", len(res.Kept)))
	res.State = StateIdle
	return res, nil
}

func allConnected(items []board.Item, connected map[string]struct{}) bool {
	for _, it := range items {
		if !inSet(connected, graph.Canonicalize(it.ID)) {
			return false
		}
	}
	return true
}

func inSet(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}
