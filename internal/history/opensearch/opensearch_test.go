package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sidecar/internal/history"
)

func TestSink_Send(t *testing.T) {
	var gotPath, gotMethod string
	var got history.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := New(srv.URL+"/", "worker-history")
	e := history.Event{Type: history.EventReaped, OccurredAt: time.Now().UTC().Truncate(time.Second), Worker: "flask-backend", PID: 9, Trigger: "exit"}
	require.NoError(t, sink.Send(context.Background(), e))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/worker-history/_doc", gotPath)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.PID, got.PID)
	assert.True(t, e.OccurredAt.Equal(got.OccurredAt))
}

func TestSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	err := New(srv.URL, "idx").Send(context.Background(), history.Event{Type: history.EventLaunched})
	assert.Error(t, err)
}

func TestSink_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	err := New(url, "idx").Send(context.Background(), history.Event{})
	assert.Error(t, err)
}
