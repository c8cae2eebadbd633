package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lazypower/linkboard/internal/board"
	"github.com/lazypower/linkboard/internal/engine"
	"github.com/lazypower/linkboard/internal/geometry"
	"github.com/lazypower/linkboard/internal/graph"
	"github.com/lazypower/linkboard/internal/persist"
	"github.com/lazypower/linkboard/internal/registry"
)

// registryError maps registry errors to a status code.
func registryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotHydrated):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, registry.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// flushBeforeSwitch saves the outgoing board. A failed save is kept as the
// registry warning and does not block the switch.
func (s *Server) flushBeforeSwitch(r *http.Request) {
	if err := s.reg.Flush(r.Context()); err != nil {
		s.logger.Warn("flush before board switch", zap.Error(err))
	}
}

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.reg.ActiveID(),
		"boards": s.reg.Boards(),
	})
}

func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"max=200"`
	}
	if err := decode(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.flushBeforeSwitch(r)
	id := s.reg.CreateBoard(req.Name)
	s.ctrl.Reset()

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRenameBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"max=200"`
	}
	if err := decode(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	renamed := s.reg.RenameBoard(chi.URLParam(r, "boardID"), req.Name)
	writeJSON(w, http.StatusOK, map[string]bool{"renamed": renamed})
}

func (s *Server) handleActivateBoard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "boardID")
	if id != s.reg.ActiveID() {
		s.flushBeforeSwitch(r)
	}
	switched := s.reg.SwitchBoard(id)
	if switched {
		s.ctrl.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"switched": switched,
		"active":   s.reg.ActiveID(),
	})
}

func (s *Server) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "boardID")
	wasActive := id == s.reg.ActiveID()

	if !s.reg.DeleteBoard(r.Context(), id) {
		writeError(w, http.StatusConflict, "board not deleted: unknown id or last remaining board")
		return
	}
	if wasActive {
		s.ctrl.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": s.reg.ActiveID()})
}

func (s *Server) handleActiveBoard(w http.ResponseWriter, r *http.Request) {
	b, err := s.reg.ActiveBoard()
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind     string         `json:"kind" validate:"required,oneof=text image link pdf"`
		Position board.Position `json:"position"`
		Size     board.Size     `json:"size"`
		Fields   map[string]any `json:"fields"`
	}
	if err := decode(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	it, err := s.reg.AddItem(board.Item{
		Kind:     board.Kind(req.Kind),
		Position: req.Position,
		Size:     req.Size,
		Fields:   req.Fields,
	})
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position *board.Position `json:"position"`
		Size     *board.Size     `json:"size"`
		Fields   map[string]any  `json:"fields"`
	}
	if err := decode(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	it, err := s.reg.UpdateItem(chi.URLParam(r, "itemID"), registry.ItemPatch{
		Position: req.Position,
		Size:     req.Size,
		Fields:   req.Fields,
	})
	if err != nil {
		registryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.RemoveItem(chi.URLParam(r, "itemID")); err != nil {
		registryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// layerParam parses the named query parameter. Empty means all layers.
func layerParam(r *http.Request, name string) (graph.Layer, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", nil
	}
	return graph.ParseLayer(v)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	layer, err := layerParam(r, "layer")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g := s.reg.Graph()
	conns := g.All()
	if layer != "" {
		conns = g.Connections(layer)
	}
	if conns == nil {
		conns = []graph.Connection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"layer":       layer,
		"count":       len(conns),
		"connections": conns,
	})
}

func (s *Server) handleClearConnections(w http.ResponseWriter, r *http.Request) {
	s.reg.ClearConnections()
	s.ctrl.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	focus, err := layerParam(r, "focus")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.reg.ActiveBoard()
	if err != nil {
		registryError(w, err)
		return
	}

	boxes := make(map[string]geometry.Rect, len(b.Items))
	for _, it := range b.Items {
		x, y, bw, bh := it.Box()
		boxes[it.ID] = geometry.Rect{X: x, Y: y, W: bw, H: bh}
	}
	edges := geometry.Layout(b.Connections, func(id string) (geometry.Rect, bool) {
		rect, ok := boxes[id]
		return rect, ok
	}, focus)
	if edges == nil {
		edges = []geometry.Edge{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"board": b.ID,
		"focus": focus,
		"edges": edges,
	})
}

func (s *Server) handleAnalysisStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"layers": s.ctrl.Status()})
}

// handleAnalyze runs one analysis round synchronously. A collaborator
// failure still answers 200; the result carries the error state.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	layer, err := graph.ParseLayer(chi.URLParam(r, "layer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.ctrl.Analyze(r.Context(), layer)
	switch {
	case res != nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		registryError(w, err)
	}
}

func (s *Server) handleWarning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"warning": s.reg.Warning()})
}

func (s *Server) handleDismissWarning(w http.ResponseWriter, r *http.Request) {
	s.reg.DismissWarning()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Flush(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, persist.ErrStoreFull) {
			status = http.StatusInsufficientStorage
		}
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"warning": s.reg.Warning(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
