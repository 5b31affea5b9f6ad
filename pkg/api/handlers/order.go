// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/orderflow/orderflow/pkg/api/middleware"
	"github.com/orderflow/orderflow/pkg/api/models"
	"github.com/orderflow/orderflow/pkg/api/response"
	"github.com/orderflow/orderflow/pkg/history"
	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/steps"
)

// OrderHandler handles order submission, reads, and retries.
type OrderHandler struct {
	engine      *saga.Engine
	coordinator *saga.Coordinator
	logger      logger.Logger
	validator   *validator.Validate
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(engine *saga.Engine, coordinator *saga.Coordinator, log logger.Logger) *OrderHandler {
	return &OrderHandler{
		engine:      engine,
		coordinator: coordinator,
		logger:      log,
		validator:   validator.New(),
	}
}

// CreateOrder handles POST /orders. The saga runs asynchronously; the
// response reports the accepted order and its initial status.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	items := make([]saga.OrderItem, 0, len(req.Items))
	lines := make([]steps.Line, 0, len(req.Items))
	var total int64
	for _, item := range req.Items {
		items = append(items, saga.OrderItem{
			ProductID:             item.ProductID,
			ProductName:           item.ProductName,
			Quantity:              item.Quantity,
			UnitPriceInMinorUnits: item.UnitPriceInMinorUnits,
		})
		lines = append(lines, steps.Line{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
		total += int64(item.Quantity) * item.UnitPriceInMinorUnits
	}

	seed := map[string]any{
		steps.KeyCustomerID.Name():      req.CustomerID,
		steps.KeyPaymentMethodID.Name(): req.PaymentMethodID,
		steps.KeyOrderItems.Name():      lines,
		steps.KeyTotalAmount.Name():     total,
		steps.KeyShippingAddress.Name(): steps.Address{
			Line1:      req.ShippingAddress.Line1,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
	}

	order, exec, sc, err := h.engine.StartOrder(ctx, saga.NewOrderInput{
		CustomerID:              req.CustomerID,
		Items:                   items,
		TotalAmountInMinorUnits: total,
		Seed:                    seed,
	})
	if err != nil {
		h.logger.Error("order submission rejected", "error", err)
		response.Error(w, http.StatusBadRequest, saga.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	// The request context dies with the response; the saga outlives it.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if err := h.engine.Run(runCtx, exec, sc); err != nil && !errors.Is(err, saga.ErrVersionConflict) {
			h.logger.Error("saga execution failed",
				"order_id", order.ID,
				"execution_id", exec.ID,
				"error", err,
			)
		}
	}()

	response.JSON(w, http.StatusCreated, models.CreateOrderResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
	})
}

// GetOrder handles GET /orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	order, items, err := h.engine.Gateway().GetOrder(ctx, orderID)
	if err != nil {
		h.writeLookupError(w, r, orderID, err)
		return
	}

	response.JSON(w, http.StatusOK, struct {
		*saga.Order
		Items []saga.OrderItem `json:"items"`
	}{Order: order, Items: items})
}

// GetStatus handles GET /orders/{id}/status.
func (h *OrderHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")
	gw := h.engine.Gateway()

	order, _, err := gw.GetOrder(ctx, orderID)
	if err != nil {
		h.writeLookupError(w, r, orderID, err)
		return
	}

	resp := models.OrderStatusResponse{OverallStatus: string(order.Status)}

	execs, err := gw.ListExecutions(ctx, orderID)
	if err != nil && !errors.Is(err, saga.ErrNotFound) {
		h.logger.Error("failed to list executions", "order_id", orderID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load order status", getRequestID(ctx))
		return
	}
	if len(execs) > 0 {
		latest := execs[len(execs)-1]
		registry := h.engine.Registry()
		if latest.Status.IsActive() && latest.CurrentStepIndex < registry.Len() {
			if step, err := registry.Step(latest.CurrentStepIndex); err == nil {
				resp.CurrentStep = step.Name()
			}
		}
		if latest.FailedStepIndex != nil {
			if step, err := registry.Step(*latest.FailedStepIndex); err == nil {
				resp.FailedStep = step.Name()
			}
		}
		resp.FailureReason = latest.FailureReason
	}

	response.JSON(w, http.StatusOK, resp)
}

// GetHistory handles GET /orders/{id}/history.
func (h *OrderHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")
	gw := h.engine.Gateway()

	order, _, err := gw.GetOrder(ctx, orderID)
	if err != nil {
		h.writeLookupError(w, r, orderID, err)
		return
	}
	execs, err := gw.ListExecutions(ctx, orderID)
	if err != nil && !errors.Is(err, saga.ErrNotFound) {
		h.logger.Error("failed to list executions", "order_id", orderID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load order history", getRequestID(ctx))
		return
	}
	events, err := gw.ListEvents(ctx, orderID)
	if err != nil {
		h.logger.Error("failed to list events", "order_id", orderID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load order history", getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, history.BuildHistory(order, execs, h.engine.Registry(), events))
}

// Retry handles POST /orders/{id}/retry. The retry execution runs
// synchronously; the response carries the attempt outcome or, when refused,
// the eligibility answer.
func (h *OrderHandler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	var body models.RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}

	req := saga.RetryRequest{
		AcknowledgedPriceChanges: body.AcknowledgedPriceChanges,
		CompletedActions:         body.CompletedActions,
	}

	// The retry runs in this handler, but a client disconnect must not
	// cancel the in-flight saga.
	runCtx := context.WithoutCancel(ctx)
	result, eligibility, err := h.coordinator.Retry(runCtx, orderID, req)
	switch {
	case err == nil:
		resp := models.RetryResponse{
			Granted:         true,
			OrderID:         orderID,
			ExecutionID:     result.Execution.ID,
			AttemptNumber:   result.Attempt.AttemptNumber,
			Outcome:         string(result.Attempt.Outcome),
			SkippedSteps:    result.Attempt.SkippedStepNames,
			ResumedFromStep: result.Attempt.ResumedFromStepName,
			Eligibility:     eligibility,
		}
		if order, _, err := h.engine.Gateway().GetOrder(runCtx, orderID); err == nil {
			resp.FinalOrderStatus = string(order.Status)
		}
		response.JSON(w, http.StatusOK, resp)

	case errors.Is(err, saga.ErrRetryNotEligible):
		response.JSON(w, http.StatusConflict, models.RetryResponse{
			Granted:     false,
			OrderID:     orderID,
			Eligibility: eligibility,
		})

	case errors.Is(err, saga.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Order not found", getRequestID(ctx))

	case errors.Is(err, saga.ErrVersionConflict), errors.Is(err, saga.ErrExecutionActive):
		response.Error(w, http.StatusConflict, response.ErrCodeConflict, "A retry is already in flight", getRequestID(ctx))

	default:
		// The retry was granted but its execution failed; the failure is in
		// the order's durable state, so report the final status.
		h.logger.Warn("retry execution failed", "order_id", orderID, "error", err)
		resp := models.RetryResponse{
			Granted:     true,
			OrderID:     orderID,
			Outcome:     string(saga.RetryFailed),
			Eligibility: eligibility,
		}
		if order, _, lookupErr := h.engine.Gateway().GetOrder(runCtx, orderID); lookupErr == nil {
			resp.FinalOrderStatus = string(order.Status)
		}
		response.JSON(w, http.StatusOK, resp)
	}
}

func (h *OrderHandler) writeLookupError(w http.ResponseWriter, r *http.Request, orderID string, err error) {
	ctx := r.Context()
	if errors.Is(err, saga.ErrNotFound) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Order not found", getRequestID(ctx))
		return
	}
	h.logger.Error("failed to load order", "order_id", orderID, "error", err)
	response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load order", getRequestID(ctx))
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		return reqID
	}
	return "unknown"
}
