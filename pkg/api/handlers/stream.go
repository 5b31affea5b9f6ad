package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orderflow/orderflow/pkg/api/response"
	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/stream"
)

const sseHeartbeatInterval = 15 * time.Second

// StreamHandler serves the per-order server-sent status stream.
type StreamHandler struct {
	gateway saga.Gateway
	bus     stream.Bus
	logger  logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(gateway saga.Gateway, bus stream.Bus, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		gateway: gateway,
		bus:     bus,
		logger:  log,
	}
}

// Stream handles GET /orders/{id}/stream. The current status is sent first
// so a late subscriber never starts blind, then live updates follow until
// the client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Streaming unsupported", getRequestID(ctx))
		return
	}

	order, _, err := h.gateway.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, saga.ErrNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Order not found", getRequestID(ctx))
			return
		}
		h.logger.Error("failed to load order for stream", "order_id", orderID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load order", getRequestID(ctx))
		return
	}

	// Subscribe before the snapshot so no transition between the two is lost.
	updates, err := h.bus.Subscribe(ctx, orderID)
	if err != nil {
		h.logger.Error("stream subscription failed", "order_id", orderID, "error", err)
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "Status stream unavailable", getRequestID(ctx))
		return
	}
	defer h.bus.Unsubscribe(orderID, updates)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := stream.StatusUpdate{
		OrderID: order.ID,
		Status:  string(order.Status),
		At:      order.UpdatedAt,
	}
	if err := writeSSE(w, "status", snapshot); err != nil {
		return
	}
	flusher.Flush()

	if order.Status.IsTerminal() {
		writeSSEDone(w)
		flusher.Flush()
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case update, open := <-updates:
			if !open {
				return
			}
			if err := writeSSE(w, "status", update); err != nil {
				return
			}
			flusher.Flush()
			if saga.ExecutionStatus(update.Status).IsTerminal() {
				writeSSEDone(w)
				flusher.Flush()
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEDone(w http.ResponseWriter) {
	fmt.Fprint(w, "event: done\ndata: {}\n\n")
}
