// handler.go provides the HTTP API of the block dater.
//
// Endpoints:
//   - GET /v1/blocks/by-date?date=<RFC3339>&after=<bool>: resolve a date to a block
//   - GET /health: reports whether the chain node answers
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/archon-research/blockdater/internal/domain/entity"
	"github.com/archon-research/blockdater/internal/ports/inbound"
	"github.com/archon-research/blockdater/internal/services/block_dater"
)

// DaterFactory returns a fresh BlockDater. Each request gets its own so no
// block cache is shared between concurrent callers.
type DaterFactory func() (inbound.BlockDater, error)

// Handler implements HTTP handlers for the API.
type Handler struct {
	newDater DaterFactory
	pinger   inbound.Pinger
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(newDater DaterFactory, pinger inbound.Pinger, logger *slog.Logger) (*Handler, error) {
	if newDater == nil {
		return nil, fmt.Errorf("dater factory cannot be nil")
	}
	if pinger == nil {
		return nil, fmt.Errorf("pinger cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		newDater: newDater,
		pinger:   pinger,
		logger:   logger.With("component", "http-handler"),
	}, nil
}

// RegisterRoutes registers the HTTP routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/blocks/by-date", h.BlockByDate)
	mux.HandleFunc("GET /health", h.Health)
}

// BlockResponse is the JSON body returned for a resolved block.
type BlockResponse struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
	Hash      string `json:"hash"`
	Time      string `json:"time"`
}

// NewBlockResponse converts a block to its API representation.
func NewBlockResponse(block *entity.Block) BlockResponse {
	return BlockResponse{
		Number:    block.Number,
		Timestamp: block.Timestamp,
		Hash:      block.HashHex(),
		Time:      block.Time().Format(time.RFC3339),
	}
}

// BlockByDate handles GET /v1/blocks/by-date.
func (h *Handler) BlockByDate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	rawDate := query.Get("date")
	if rawDate == "" {
		h.respondError(w, http.StatusBadRequest, "missing date parameter")
		return
	}
	target, err := time.Parse(time.RFC3339, rawDate)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "date must be RFC3339, e.g. 2022-03-16T18:31:00Z")
		return
	}

	after := true
	if rawAfter := query.Get("after"); rawAfter != "" {
		after, err = strconv.ParseBool(rawAfter)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "after must be a boolean")
			return
		}
	}

	dater, err := h.newDater()
	if err != nil {
		h.logger.Error("failed to create block dater", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	block, err := dater.BlockByDate(r.Context(), target, after)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("block resolution failed", "date", rawDate, "after", after, "error", err)
		} else {
			h.logger.Debug("block resolution rejected", "date", rawDate, "after", after, "error", err)
		}
		h.respondError(w, status, messageForError(status, err))
		return
	}

	h.respondJSON(w, http.StatusOK, NewBlockResponse(block))
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "service unhealthy")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForError maps resolution errors to HTTP status codes.
func statusForError(err error) int {
	var fetchErr *block_dater.FetchError
	switch {
	case errors.Is(err, block_dater.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, block_dater.ErrOutOfRange), errors.Is(err, block_dater.ErrInvalidRange):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageForError picks the client-facing error text. Node errors can carry
// the RPC URL and its API key, so only range errors are echoed back.
func messageForError(status int, err error) string {
	switch status {
	case http.StatusUnprocessableEntity:
		return err.Error()
	case http.StatusNotFound:
		return "block not found"
	case http.StatusBadGateway:
		return "upstream node error"
	default:
		return "internal error"
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
