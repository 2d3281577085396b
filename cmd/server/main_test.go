package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/hpp-checkout/internal/config"
)

func setupTestApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Log.Level = "error"

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	return a
}

func TestBuildApp_Health(t *testing.T) {
	a := setupTestApp(t)

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/healthz", nil)
	require.NoError(t, err)
	a.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestBuildApp_RejectsInvalidCheckout(t *testing.T) {
	a := setupTestApp(t)

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, "/checkout/sessions", bytes.NewBufferString(`{"gateway_type":"card"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	a.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuildApp_BadGraceRule(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Reconcile.Rules = []config.GraceRuleConfig{{ID: "broken", Expression: "gateway_type =="}}

	_, err = buildApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestRootCmd_HasServe(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", cmd.Name())
	assert.NotNil(t, cmd.Flags().Lookup("config"))
}

const cardCheckout = `{
  "basket_token": "basket-1",
  "store_id": "store-1",
  "gateway_type": "card",
  "fulfilment": {
    "method": "delivery",
    "address_id": "addr-1",
    "slot_start": "2026-10-19T18:00:00Z",
    "slot_end": "2026-10-19T19:00:00Z"
  }
}`

func sessionState(t *testing.T, h http.Handler, id string) map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/checkout/sessions/"+id, nil)
	require.NoError(t, err)
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestRun_DrainsSessionsBeforeReturning(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var confirms atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/draft-orders":
			_, _ = w.Write([]byte(`{"draft_order_id":41}`))
		case "/draft-orders/41/producer-data":
			_, _ = w.Write([]byte(`<form>hpp</form>`))
		case "/draft-orders/41/confirmation":
			confirms.Add(1)
			_, _ = w.Write([]byte(`{"business_order_id":4100}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Log.Level = "error"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Backend.BaseURL = backend.URL
	cfg.Reconcile.GracePeriod = 150 * time.Millisecond
	cfg.Stores = []config.StoreConfig{{ID: "store-1", AcceptedGateways: []string{"card"}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := buildApp(ctx, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.run(ctx, cfg.Server) }()

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodPost, "/checkout/sessions", bytes.NewBufferString(cardCheckout))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	a.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	require.Eventually(t, func() bool {
		return sessionState(t, a.handler, created.SessionID)["state"] == "presenting_page"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}

	assert.Equal(t, int32(1), confirms.Load(), "confirm must finish before exit")
	st := sessionState(t, a.handler, created.SessionID)
	assert.Equal(t, "terminal", st["state"])
	assert.Equal(t, "success", st["outcome"])
}
