package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/linkboard/internal/blob"
	"github.com/lazypower/linkboard/internal/engine"
	"github.com/lazypower/linkboard/internal/llm"
	"github.com/lazypower/linkboard/internal/metrics"
	"github.com/lazypower/linkboard/internal/persist"
	"github.com/lazypower/linkboard/internal/registry"
	"github.com/lazypower/linkboard/internal/store"
)

type harness struct {
	srv  *Server
	reg  *registry.Registry
	llm  *llm.MockClient
	db   *store.DB
	bin  *blob.Store
	mets *metrics.Collector
}

// gatedBin blocks binary reads until the gate is closed.
type gatedBin struct {
	persist.BinaryStore
	gate chan struct{}
}

func (g *gatedBin) Get(ctx context.Context, key string) (string, bool, error) {
	<-g.gate
	return g.BinaryStore.Get(ctx, key)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	bin, err := blob.Open(blob.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		bin.Close()
		db.Close()
	})
	return openHarness(t, db, bin, bin)
}

func openHarness(t *testing.T, db *store.DB, bin *blob.Store, tier persist.BinaryStore) *harness {
	t.Helper()
	mets := metrics.New("linkboard")
	mgr := persist.New(store.Records{DB: db}, tier, persist.Options{Metrics: mets})
	reg := registry.Open(context.Background(), mgr, registry.Options{Debounce: time.Hour})
	t.Cleanup(func() { reg.Close(context.Background()) })

	client := &llm.MockClient{}
	ctrl := engine.NewLLMController(reg, client, engine.Options{Metrics: mets})
	srv := New(reg, ctrl, Options{
		Version: "test-version",
		Metrics: mets,
		Checks:  map[string]func() error{"metadata": db.Ping, "binary": bin.Ping},
	})
	return &harness{srv: srv, reg: reg, llm: client, db: db, bin: bin, mets: mets}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.reg.WaitReady(ctx))
}

func (h *harness) addText(t *testing.T, text string) string {
	t.Helper()
	w := h.do(t, "POST", "/api/items", `{"kind":"text","position":{"x":0,"y":0},"fields":{"text":"`+text+`"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody(t, w)["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)

	w := h.do(t, "GET", "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, map[string]any{"metadata": true, "binary": true}, body["stores"])
}

func TestBoardLifecycle(t *testing.T) {
	h := newHarness(t)
	first := h.reg.ActiveID()

	w := h.do(t, "POST", "/api/boards", `{"name":"Rivers"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decodeBody(t, w)["id"].(string)
	assert.Equal(t, second, h.reg.ActiveID())

	w = h.do(t, "GET", "/api/boards", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, second, body["active"])
	assert.Len(t, body["boards"], 2)

	w = h.do(t, "PATCH", "/api/boards/"+first, `{"name":"Mountains"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["renamed"])

	w = h.do(t, "PATCH", "/api/boards/nope", `{"name":"x"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["renamed"])

	w = h.do(t, "POST", "/api/boards/"+first+"/activate", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, true, body["switched"])
	assert.Equal(t, first, body["active"])

	w = h.do(t, "POST", "/api/boards/nope/activate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["switched"])
	assert.Equal(t, first, h.reg.ActiveID())

	w = h.do(t, "DELETE", "/api/boards/"+first, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, second, decodeBody(t, w)["active"])

	w = h.do(t, "DELETE", "/api/boards/"+second, "")
	assert.Equal(t, http.StatusConflict, w.Code, "last board stays")
	assert.NotEmpty(t, decodeBody(t, w)["error"])
}

func TestCreateBoardEmptyBody(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, "POST", "/api/boards", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestItemRoutes(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)

	id := h.addText(t, "glaciers carve valleys")
	assert.Equal(t, "item-1", id)

	w := h.do(t, "PATCH", "/api/items/"+id, `{"position":{"x":300,"y":40},"fields":{"text":"glaciers"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, map[string]any{"x": 300.0, "y": 40.0}, body["position"])

	w = h.do(t, "GET", "/api/board", "")
	require.Equal(t, http.StatusOK, w.Code)
	items := decodeBody(t, w)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "glaciers", items[0].(map[string]any)["fields"].(map[string]any)["text"])

	w = h.do(t, "PATCH", "/api/items/item-9", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, "DELETE", "/api/items/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, "DELETE", "/api/items/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddItemValidation(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{"kind":`},
		{"missing kind", `{"fields":{"text":"x"}}`},
		{"unknown kind", `{"kind":"video"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(t, "POST", "/api/items", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decodeBody(t, w)["error"])
		})
	}
}

func TestBoardLoadingReturns503(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	bin, err := blob.Open(blob.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		bin.Close()
		db.Close()
	})

	seed := openHarness(t, db, bin, bin)
	seed.waitReady(t)
	w := seed.do(t, "POST", "/api/items", `{"kind":"image","fields":{"src":"data:image/png;base64,AAAA"}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, seed.reg.Close(context.Background()))

	gate := make(chan struct{})
	h := openHarness(t, db, bin, &gatedBin{BinaryStore: bin, gate: gate})

	w = h.do(t, "GET", "/api/board", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = h.do(t, "POST", "/api/items", `{"kind":"text","fields":{"text":"x"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = h.do(t, "POST", "/api/analyze/standard", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	close(gate)
	h.waitReady(t)
	w = h.do(t, "GET", "/api/board", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnalyzeAndConnections(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)
	a := h.addText(t, "glaciers carve valleys")
	b := h.addText(t, "rivers follow valleys")

	h.llm.Respond(`{"connections":[{"from":"` + a + `","to":"` + b + `","label":"valleys","explanation":"both shape valleys","category":"process","strength":0.8,"surprise":0.3}]}`)

	w := h.do(t, "POST", "/api/analyze/standard", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody(t, w)
	assert.Equal(t, "idle", res["state"])
	assert.Len(t, res["kept"], 1)

	w = h.do(t, "GET", "/api/connections?layer=standard", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])

	w = h.do(t, "GET", "/api/connections?layer=tensions", "")
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])

	w = h.do(t, "GET", "/api/connections?layer=sideways", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// every item connected: the next run never reaches the model
	w = h.do(t, "POST", "/api/analyze/standard", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["skipped"])
	assert.Len(t, h.llm.Calls(), 1)

	w = h.do(t, "GET", "/api/analyze", "")
	require.Equal(t, http.StatusOK, w.Code)
	layers := decodeBody(t, w)["layers"].([]any)
	require.Len(t, layers, 3)
	assert.Equal(t, "standard", layers[0].(map[string]any)["layer"])

	w = h.do(t, "DELETE", "/api/connections", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, "GET", "/api/connections", "")
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])
}

func TestAnalyzeUnknownLayer(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, "POST", "/api/analyze/sideways", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeBusy(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)
	h.addText(t, "glaciers carve valleys")
	h.addText(t, "rivers follow valleys")

	started := make(chan struct{})
	release := make(chan struct{})
	h.llm.Respond(`{"connections":[]}`)
	h.llm.Hook = func(ctx context.Context, prompt string) {
		close(started)
		<-release
	}

	done := make(chan int)
	go func() {
		req := httptest.NewRequest("POST", "/api/analyze/deeper", nil)
		w := httptest.NewRecorder()
		h.srv.ServeHTTP(w, req)
		done <- w.Code
	}()

	<-started
	w := h.do(t, "POST", "/api/analyze/deeper", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestAnalyzeCollaboratorFailure(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)
	h.addText(t, "glaciers carve valleys")
	h.addText(t, "rivers follow valleys")
	h.llm.Respond("no json here")

	w := h.do(t, "POST", "/api/analyze/tensions", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody(t, w)
	assert.Equal(t, "error", res["state"])
	assert.NotEmpty(t, res["error"])
}

func TestLayoutRoute(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)
	a := h.addText(t, "glaciers carve valleys")
	w := h.do(t, "POST", "/api/items", `{"kind":"text","position":{"x":600,"y":0},"fields":{"text":"rivers"}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	b := decodeBody(t, w)["id"].(string)

	h.llm.Respond(`{"connections":[{"from":"` + a + `","to":"` + b + `","label":"valleys"}]}`)
	w = h.do(t, "POST", "/api/analyze/standard", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, "GET", "/api/layout?focus=standard", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	edges := decodeBody(t, w)["edges"].([]any)
	require.Len(t, edges, 1)
	edge := edges[0].(map[string]any)
	assert.True(t, strings.HasPrefix(edge["path"].(string), "M "))
	assert.Equal(t, 0.9, edge["opacity"])

	w = h.do(t, "GET", "/api/layout?focus=tensions", "")
	edge = decodeBody(t, w)["edges"].([]any)[0].(map[string]any)
	assert.Equal(t, 0.06, edge["opacity"])

	w = h.do(t, "GET", "/api/layout?focus=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlushAndWarning(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)

	w := h.do(t, "POST", "/api/flush", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, "GET", "/api/warning", "")
	assert.Nil(t, decodeBody(t, w)["warning"])

	require.NoError(t, h.db.SetQuota(1))
	h.addText(t, strings.Repeat("long note ", 30000))

	w = h.do(t, "POST", "/api/flush", "")
	require.Equal(t, http.StatusInsufficientStorage, w.Code)
	warning := decodeBody(t, w)["warning"].(map[string]any)
	assert.Equal(t, "store_full", warning["kind"])
	assert.Equal(t, true, warning["retryable"])

	w = h.do(t, "GET", "/api/warning", "")
	assert.NotNil(t, decodeBody(t, w)["warning"])

	w = h.do(t, "DELETE", "/api/warning", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(t, "GET", "/api/warning", "")
	assert.Nil(t, decodeBody(t, w)["warning"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.waitReady(t)
	h.addText(t, "only one")
	w := h.do(t, "POST", "/api/analyze/standard", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "linkboard_analysis_runs_total")
}
