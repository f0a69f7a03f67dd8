package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/common"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/models"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"github.com/nimeshabuddhika/parcel-recovery/services/detection-api/internal/services"
	"go.uber.org/zap"
)

// Detector is the part of detection.Engine the handler uses.
type Detector interface {
	AnalyzeOrder(ctx context.Context, order models.Order) (detection.Dispute, error)
	ProcessDataset(ctx context.Context, orders []models.Order) (detection.BatchResult, error)
}

type AuditRequest struct {
	Orders []models.Order `json:"orders" binding:"required,min=1"`
}

type AuditResponse struct {
	Results    []detection.Dispute      `json:"results"`
	Statistics detection.Statistics     `json:"statistics"`
	Report     string                   `json:"report"`
	Skipped    []detection.SkippedOrder `json:"skipped"`
	Published  int                      `json:"published"`
}

type DetectionHandler struct {
	logger    *zap.Logger
	detector  Detector
	publisher services.DisputePublisher
	maxOrders int
}

func NewDetectionHandler(logger *zap.Logger, detector Detector, publisher services.DisputePublisher, maxOrders int) *DetectionHandler {
	return &DetectionHandler{logger: logger, detector: detector, publisher: publisher, maxOrders: maxOrders}
}

// RegisterRoutes registers detection routes on the provided group.
func (h *DetectionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/analyze", h.AnalyzeOrder)
	r.POST("/audits", h.RunAudit)
}

func (h *DetectionHandler) AnalyzeOrder(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.fail(c, traceID, err)
		return
	}

	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		h.fail(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	dispute, err := h.detector.AnalyzeOrder(c.Request.Context(), order)
	if err != nil {
		h.fail(c, traceID, err)
		return
	}
	c.JSON(http.StatusOK, common.APIResponse{TraceID: traceID, Data: dispute})
}

func (h *DetectionHandler) RunAudit(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.fail(c, traceID, err)
		return
	}

	var req AuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}
	if h.maxOrders > 0 && len(req.Orders) > h.maxOrders {
		h.fail(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode,
			fmt.Sprintf("at most %d orders per audit", h.maxOrders), nil))
		return
	}

	batch, err := h.detector.ProcessDataset(c.Request.Context(), req.Orders)
	if err != nil {
		h.fail(c, traceID, err)
		return
	}
	report, err := detection.RenderReport(batch.Statistics)
	if err != nil {
		h.fail(c, traceID, err)
		return
	}

	resp := AuditResponse{
		Results:    batch.Results,
		Statistics: batch.Statistics,
		Report:     report,
		Skipped:    batch.Skipped,
	}
	if c.Query("publish") == "true" {
		resp.Published, err = h.publisher.PublishDisputes(c.Request.Context(), traceID, batch.Results)
		if err != nil {
			h.fail(c, traceID, err)
			return
		}
	}

	h.logger.Info("audit completed",
		zap.String(pkg.TraceId, traceID),
		zap.Int("orders", len(req.Orders)),
		zap.Int("disputed", batch.Statistics.Overview.DisputedOrders),
		zap.Int("published", resp.Published))
	c.JSON(http.StatusOK, common.APIResponse{TraceID: traceID, Data: resp})
}

func (h *DetectionHandler) fail(c *gin.Context, traceID string, err error) {
	resp := pkg.ToErrorResponse(h.logger, traceID, err)
	c.JSON(resp.Status, resp)
}
