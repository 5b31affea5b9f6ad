package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orderflow/orderflow/config"
	"github.com/orderflow/orderflow/pkg/api/handlers"
	"github.com/orderflow/orderflow/pkg/api/models"
	"github.com/orderflow/orderflow/pkg/api/response"
	"github.com/orderflow/orderflow/pkg/clock"
	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/steps"
	"github.com/orderflow/orderflow/pkg/stream"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.RateLimit.Enabled = false
	return cfg
}

func testLogger() logger.Logger {
	return logger.New(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: "json",
		Output: "stdout",
	})
}

// createTestHandlers wires a full in-memory stack: memory gateway, local
// bus, simulated collaborators.
func createTestHandlers(t *testing.T) (*Handlers, func()) {
	t.Helper()

	ids := clock.UUIDGenerator{}
	registry, err := saga.NewRegistry(
		steps.NewInventoryStep(steps.NewSimInventory(ids), time.Second),
		steps.NewPaymentStep(steps.NewSimPayment(ids), time.Second),
		steps.NewShippingStep(steps.NewSimShipping(clock.System{}, ids), time.Second),
	)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	log := testLogger()
	gateway := saga.NewMemoryGateway()
	bus := stream.NewLocalBus(16)
	runtime := saga.NewRuntime(time.Second, log)

	engine, err := saga.NewEngine(registry, gateway, runtime,
		saga.WithStream(bus),
		saga.WithLogger(log),
	)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	coordinator, err := saga.NewCoordinator(engine, saga.RetryPolicy{
		MaxAttempts: 3,
		Cooldown:    time.Millisecond,
	}, saga.WithCoordinatorLogger(log))
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}

	cleanup := func() {
		_ = bus.Close()
		_ = gateway.Close()
	}

	return &Handlers{
		Order:  handlers.NewOrderHandler(engine, coordinator, log),
		Stream: handlers.NewStreamHandler(gateway, bus, log),
		Health: handlers.NewHealthHandler(gateway, bus, "test"),
	}, cleanup
}

func submitOrder(t *testing.T, router http.Handler, productID string) models.CreateOrderResponse {
	t.Helper()

	body, _ := json.Marshal(models.CreateOrderRequest{
		CustomerID:      "cust-1",
		PaymentMethodID: "pm-1",
		Items: []models.OrderItemRequest{
			{ProductID: productID, ProductName: "Widget", Quantity: 2, UnitPriceInMinorUnits: 1250},
		},
		ShippingAddress: models.AddressRequest{
			Line1:      "1 Main St",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "US",
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("POST /orders status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.CreateOrderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// waitForStatus polls the status endpoint until the order leaves active
// states or the deadline passes.
func waitForStatus(t *testing.T, router http.Handler, orderID string, want string) models.OrderStatusResponse {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	var last models.OrderStatusResponse
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+orderID+"/status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET status = %d, body = %s", w.Code, w.Body.String())
		}
		if err := json.Unmarshal(w.Body.Bytes(), &last); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if last.OverallStatus == want {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("order %s never reached %s, last status %+v", orderID, want, last)
	return last
}

func TestNewRouter(t *testing.T) {
	router := NewRouter(testConfig(), testLogger(), &Handlers{})
	if router == nil {
		t.Fatal("NewRouter returned nil")
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	created := submitOrder(t, router, "prod-1")
	if created.OrderID == "" {
		t.Fatal("expected order id in response")
	}
	if created.Status != string(saga.OrderPending) {
		t.Errorf("initial status = %s, want %s", created.Status, saga.OrderPending)
	}

	waitForStatus(t, router, created.OrderID, string(saga.OrderCompleted))

	// Order read model
	req := httptest.NewRequest(http.MethodGet, "/orders/"+created.OrderID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /orders/{id} status = %d", w.Code)
	}

	// History includes the full timeline
	req = httptest.NewRequest(http.MethodGet, "/orders/"+created.OrderID+"/history", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET history status = %d", w.Code)
	}
	var hist struct {
		OrderNumber string `json:"order_number"`
		Timeline    []struct {
			Title string `json:"title"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if hist.OrderNumber == "" {
		t.Error("expected order number in history")
	}
	if len(hist.Timeline) == 0 {
		t.Error("expected timeline entries in history")
	}
}

func TestFailedOrderCompensatesOverHTTP(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	// The simulated inventory rejects OOS-prefixed products.
	created := submitOrder(t, router, "OOS-1")
	status := waitForStatus(t, router, created.OrderID, string(saga.OrderFailed))

	if status.FailedStep != "Inventory Reservation" {
		t.Errorf("failed step = %q, want Inventory Reservation", status.FailedStep)
	}
	if status.FailureReason == "" {
		t.Error("expected failure reason")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(`{"customerId":""}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	req := httptest.NewRequest(http.MethodGet, "/orders/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRetryNotEligibleForCompletedOrder(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	created := submitOrder(t, router, "prod-1")
	waitForStatus(t, router, created.OrderID, string(saga.OrderCompleted))

	req := httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderID+"/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("retry status = %d, want %d", w.Code, http.StatusConflict)
	}
	var resp models.RetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode retry response: %v", err)
	}
	if resp.Granted {
		t.Error("expected retry to be refused")
	}
}

func TestRetryFailedOrderOverHTTP(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	// Shipping rejects postal code 00000, so inventory and payment complete
	// before the saga fails and compensates.
	body, _ := json.Marshal(models.CreateOrderRequest{
		CustomerID:      "cust-1",
		PaymentMethodID: "pm-1",
		Items: []models.OrderItemRequest{
			{ProductID: "prod-1", Quantity: 1, UnitPriceInMinorUnits: 500},
		},
		ShippingAddress: models.AddressRequest{
			Line1:      "1 Main St",
			City:       "Nowhere",
			PostalCode: "00000",
			Country:    "US",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /orders status = %d", w.Code)
	}
	var created models.CreateOrderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	waitForStatus(t, router, created.OrderID, string(saga.OrderCompensated))

	// Shipping stays unavailable, so the retry runs and fails again.
	req = httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderID+"/retry", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.RetryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode retry response: %v", err)
	}
	if !resp.Granted {
		t.Fatal("expected retry to be granted")
	}
	if resp.Outcome != string(saga.RetryFailed) {
		t.Errorf("retry outcome = %s, want %s", resp.Outcome, saga.RetryFailed)
	}
}

func TestHealthEndpoints(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	for _, path := range []string{"/healthz", "/readyz", "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestStatusStreamSnapshot(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	created := submitOrder(t, router, "prod-1")
	waitForStatus(t, router, created.OrderID, string(saga.OrderCompleted))

	req := httptest.NewRequest(http.MethodGet, "/orders/"+created.OrderID+"/stream", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("stream status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	body := w.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: status")) {
		t.Errorf("expected status event in stream, got %q", body)
	}
	if !bytes.Contains([]byte(body), []byte("event: done")) {
		t.Errorf("expected done event for terminal order, got %q", body)
	}
}

func TestRetrySurvivesClientDisconnect(t *testing.T) {
	log := testLogger()
	gateway := saga.NewMemoryGateway()
	runtime := saga.NewRuntime(5*time.Second, log)

	// ship fails once, then blocks until released so the test can cancel
	// the request while the retry is mid-step.
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	ship := saga.NewFuncStep("ship", func(ctx context.Context, _ *saga.SagaContext) saga.StepResult {
		if calls.Add(1) == 1 {
			return saga.Fail(saga.NewErrorInfo(saga.ErrCodeServiceUnavailable, "carrier down", true))
		}
		close(entered)
		select {
		case <-release:
			return saga.Succeed(nil)
		case <-ctx.Done():
			return saga.Fail(saga.NewErrorInfo(saga.ErrCodeServiceUnavailable, ctx.Err().Error(), true))
		}
	})

	registry, err := saga.NewRegistry(ship)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	engine, err := saga.NewEngine(registry, gateway, runtime, saga.WithLogger(log))
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	coordinator, err := saga.NewCoordinator(engine, saga.RetryPolicy{
		MaxAttempts: 3,
		Cooldown:    time.Millisecond,
	}, saga.WithCoordinatorLogger(log))
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}
	router := NewRouter(testConfig(), log, &Handlers{
		Order: handlers.NewOrderHandler(engine, coordinator, log),
	})

	created := submitOrder(t, router, "prod-1")
	waitForStatus(t, router, created.OrderID, string(saga.OrderCompensated))
	time.Sleep(5 * time.Millisecond)

	reqCtx, cancelRequest := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/orders/"+created.OrderID+"/retry", nil).
		WithContext(reqCtx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, req)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("retry never reached the ship step")
	}
	cancelRequest()
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retry handler never returned")
	}

	// The saga outlived the caller.
	order, _, err := gateway.GetOrder(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.Status != saga.OrderCompleted {
		t.Errorf("order status = %s, want %s", order.Status, saga.OrderCompleted)
	}
	attempts, err := gateway.ListRetryAttempts(context.Background(), created.OrderID)
	if err != nil {
		t.Fatalf("ListRetryAttempts failed: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != saga.RetrySuccess {
		t.Errorf("attempts = %+v, want one successful attempt", attempts)
	}
}

func TestErrorResponseCarriesRequestID(t *testing.T) {
	testHandlers, cleanup := createTestHandlers(t)
	defer cleanup()
	router := NewRouter(testConfig(), testLogger(), testHandlers)

	req := httptest.NewRequest(http.MethodGet, "/orders/nope", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var resp response.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("request_id = %q, want req-123", resp.Error.RequestID)
	}
}
