// Package httpapi exposes the sync operations over JSON HTTP: GET /sync/pull,
// POST /sync/push and the unauthenticated GET /ping probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/bizkeeper/internal/common"
	"github.com/dmitrijs2005/bizkeeper/internal/logging"
	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// maxPushBody caps a push request payload.
const maxPushBody = 10 << 20

// Service is the sync surface the handlers delegate to.
type Service interface {
	Pull(ctx context.Context, userID, table string, lastSync int64, deviceID string) (*wire.PullResponse, error)
	Push(ctx context.Context, userID, table string, data []wire.Record, deviceID string) (*wire.PushResponse, error)
}

// Handler translates HTTP requests into Service calls and errors into the
// wire error taxonomy.
type Handler struct {
	svc    Service
	logger logging.Logger
}

func NewHandler(svc Service, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Handler{svc: svc, logger: logger.With("module", "httpapi")}
}

func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userIDFrom(ctx)

	q := r.URL.Query()
	table := q.Get("table")
	deviceID := q.Get("deviceId")

	lastSync := int64(0)
	if raw := q.Get("lastSync"); raw != "" {
		var err error
		lastSync, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, common.ErrValidation, "lastSync must be an integer")
			return
		}
	}

	resp, err := h.svc.Pull(ctx, userID, table, lastSync, deviceID)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userIDFrom(ctx)

	var req wire.PushRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, common.ErrValidation, "malformed request body")
		return
	}

	resp, err := h.svc.Push(ctx, userID, req.Table, req.Data, req.DeviceID)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(context.Background(), "failed to write response", "error", err)
	}
}

// writeError maps a service error onto the wire error taxonomy. Internal
// details stay in the log; the client sees a stable code and a short message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if msg == "" {
		msg = err.Error()
	}

	var status int
	var code string
	switch {
	case errors.Is(err, common.ErrInvalidTable):
		status, code = http.StatusBadRequest, wire.CodeInvalidTable
	case errors.Is(err, common.ErrValidation):
		status, code = http.StatusBadRequest, wire.CodeValidationError
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		status, code = http.StatusUnauthorized, wire.CodeUnauthorized
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		status, code, msg = http.StatusInternalServerError, wire.CodeServerError, "internal error"
	}

	h.writeJSON(w, status, wire.ErrorResponse{Success: false, Error: code, Message: msg})
}
