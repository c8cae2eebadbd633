package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/linkboard/internal/engine"
	"github.com/lazypower/linkboard/internal/graph"
)

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analyze/deeper", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"layer":"deeper","state":"idle","kept":[{"from":"item-1","to":"item-2","label":"valleys","layer":"deeper"}],"candidates":2,"rejected":1}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL+"/", 0).Analyze(context.Background(), graph.LayerDeeper)
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, res.State)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "valleys", res.Kept[0].Label)
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"analysis already running for layer"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, 0).Analyze(context.Background(), graph.LayerStandard)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, "analysis already running for layer", se.Msg)
}

func TestAnalysisStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"layers":[{"layer":"standard","state":"no-new","lastKept":0},{"layer":"deeper","state":"error","error":"boom"}]}`))
	}))
	defer srv.Close()

	layers, err := New(srv.URL, 0).AnalysisStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, engine.StateNoNew, layers[0].State)
	assert.Equal(t, "boom", layers[1].Error)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	c := New(srv.URL, 0)
	assert.True(t, c.Healthy(context.Background()))

	srv.Close()
	assert.False(t, c.Healthy(context.Background()))
}
