package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPull_SendsQueryAndBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/pull", r.URL.Path)
		assert.Equal(t, "clients", r.URL.Query().Get("table"))
		assert.Equal(t, "1000", r.URL.Query().Get("lastSync"))
		assert.Equal(t, "dev-1", r.URL.Query().Get("deviceId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(wire.PullResponse{
			Success:                 true,
			Data:                    []wire.Record{{ID: 1, UpdatedAt: 1000, Fields: map[string]any{"name": "A"}}},
			ServerLastSyncTimestamp: 2000,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, StaticCredentials("tok"), nil)
	resp, err := c.Pull(context.Background(), "clients", 1000, "dev-1")
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(2000), resp.ServerLastSyncTimestamp)
	assert.Equal(t, "A", resp.Data[0].Fields["name"])
}

func TestPush_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sync/push", r.URL.Path)

		var req wire.PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "budgets", req.Table)
		assert.Equal(t, "dev-1", req.DeviceID)
		require.Len(t, req.Data, 1)
		assert.Equal(t, wire.StatusPendingPush, req.Data[0].SyncStatus)

		json.NewEncoder(w).Encode(wire.PushResponse{
			Success:         true,
			ProcessedIDs:    []int64{req.Data[0].ID},
			ServerTimestamp: 2050,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, StaticCredentials("tok"), nil)
	resp, err := c.Push(context.Background(), "budgets", []wire.Record{
		{ID: 5, UpdatedAt: 2000, SyncStatus: wire.StatusPendingPush},
	}, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, resp.ProcessedIDs)
	assert.Equal(t, int64(2050), resp.ServerTimestamp)
}

func errorServer(t *testing.T, status int, body wire.ErrorResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   wire.ErrorResponse
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, wire.ErrorResponse{Error: wire.CodeUnauthorized}, common.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, wire.ErrorResponse{}, common.ErrUnauthorized},
		{"invalid table", http.StatusBadRequest, wire.ErrorResponse{Error: wire.CodeInvalidTable}, common.ErrInvalidTable},
		{"validation", http.StatusBadRequest, wire.ErrorResponse{Error: wire.CodeValidationError, Message: "bad deviceId"}, common.ErrValidation},
		{"server error", http.StatusInternalServerError, wire.ErrorResponse{Error: wire.CodeServerError}, common.ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := errorServer(t, tc.status, tc.body)
			defer srv.Close()

			c := NewHTTPClient(srv.URL, StaticCredentials("tok"), nil)
			_, err := c.Pull(context.Background(), "clients", 0, "dev-1")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNetworkFailure_MapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewHTTPClient(srv.URL, StaticCredentials("tok"), nil)
	_, err := c.Pull(context.Background(), "clients", 0, "dev-1")
	assert.ErrorIs(t, err, common.ErrUnavailable)

	assert.ErrorIs(t, c.Ping(context.Background()), common.ErrUnavailable)
}

func TestPing_NoAuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ping", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, StaticCredentials("tok"), nil)
	assert.NoError(t, c.Ping(context.Background()))
}
