package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	middleware "github.com/nimeshabuddhika/parcel-recovery/pkg/middlewares"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDisputePublisher struct {
	calls    int
	disputes []detection.Dispute
	err      error
}

func (f *fakeDisputePublisher) PublishDisputes(_ context.Context, _ string, disputes []detection.Dispute) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, d := range disputes {
		if d.HasDispute {
			f.disputes = append(f.disputes, d)
			n++
		}
	}
	return n, nil
}

func newTestRouter(publisher *fakeDisputePublisher, maxOrders int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	NewDetectionHandler(logger, detection.NewEngine(detection.EngineConfig{Logger: logger}), publisher, maxOrders).
		RegisterRoutes(api)
	NewBaseHandler(logger).RegisterRoutes(r)
	return r
}

func lostOrder(id string) models.Order {
	return models.Order{
		OrderID:      id,
		Carrier:      "Colissimo",
		Service:      models.ServiceStandard,
		ShippingCost: 8.5,
		ProductValue: 100,
		Status:       models.StatusLost,
	}
}

func cleanOrder(id string) models.Order {
	return models.Order{
		OrderID:      id,
		Carrier:      "UPS",
		Service:      models.ServiceStandard,
		ShippingCost: 5,
		ProductValue: 40,
		Status:       models.StatusDelivered,
		HasPOD:       true,
		PODValid:     true,
	}
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(pkg.HeaderTraceId, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope[T any] struct {
	TraceID string `json:"traceId"`
	Data    T      `json:"data"`
}

func TestAnalyzeOrder(t *testing.T) {
	r := newTestRouter(&fakeDisputePublisher{}, 0)

	w := do(t, r, http.MethodPost, "/api/v1/orders/analyze", lostOrder("ORD-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp envelope[detection.Dispute]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "trace-123", resp.TraceID)
	assert.True(t, resp.Data.HasDispute)
	require.Len(t, resp.Data.Matches, 1)
	assert.Equal(t, "package_lost", string(resp.Data.Matches[0].RuleID))
	assert.Equal(t, 108.5, resp.Data.TotalRecoverable)
}

func TestAnalyzeOrder_InvalidOrder(t *testing.T) {
	r := newTestRouter(&fakeDisputePublisher{}, 0)
	order := lostOrder("")

	w := do(t, r, http.MethodPost, "/api/v1/orders/analyze", order)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp pkg.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pkg.ErrValidationCode.Code, resp.Code)
}

func TestAnalyzeOrder_MalformedBody(t *testing.T) {
	r := newTestRouter(&fakeDisputePublisher{}, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/analyze", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp pkg.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pkg.ErrInvalidInputCode.Code, resp.Code)
}

func TestRunAudit(t *testing.T) {
	publisher := &fakeDisputePublisher{}
	r := newTestRouter(publisher, 0)
	body := AuditRequest{Orders: []models.Order{lostOrder("ORD-1"), cleanOrder("ORD-2"), lostOrder("")}}

	w := do(t, r, http.MethodPost, "/api/v1/audits", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp envelope[AuditResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Results, 2)
	require.Len(t, resp.Data.Skipped, 1)
	assert.Equal(t, 2, resp.Data.Skipped[0].Index)
	assert.Equal(t, 2, resp.Data.Statistics.Overview.TotalOrders)
	assert.Equal(t, 1, resp.Data.Statistics.Overview.DisputedOrders)
	assert.NotEmpty(t, resp.Data.Report)
	assert.Zero(t, resp.Data.Published)
	assert.Zero(t, publisher.calls)
}

func TestRunAudit_Publish(t *testing.T) {
	publisher := &fakeDisputePublisher{}
	r := newTestRouter(publisher, 0)
	body := AuditRequest{Orders: []models.Order{lostOrder("ORD-1"), cleanOrder("ORD-2"), lostOrder("ORD-3")}}

	w := do(t, r, http.MethodPost, "/api/v1/audits?publish=true", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp envelope[AuditResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Published)
	require.Len(t, publisher.disputes, 2)
	assert.Equal(t, "ORD-1", publisher.disputes[0].OrderID)
	assert.Equal(t, "ORD-3", publisher.disputes[1].OrderID)
}

func TestRunAudit_PublishFailure(t *testing.T) {
	publisher := &fakeDisputePublisher{err: pkg.NewAppError(pkg.ErrDependencyCode, "failed to publish disputes", errors.New("broker down"))}
	r := newTestRouter(publisher, 0)

	w := do(t, r, http.MethodPost, "/api/v1/audits?publish=true", AuditRequest{Orders: []models.Order{lostOrder("ORD-1")}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRunAudit_RejectsEmptyAndOversized(t *testing.T) {
	r := newTestRouter(&fakeDisputePublisher{}, 2)

	w := do(t, r, http.MethodPost, "/api/v1/audits", AuditRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	orders := []models.Order{lostOrder("A"), lostOrder("B"), lostOrder("C")}
	w = do(t, r, http.MethodPost, "/api/v1/audits", AuditRequest{Orders: orders})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&fakeDisputePublisher{}, 0)
	w := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
