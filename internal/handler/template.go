package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/template-storefront/internal/dto"
	"github.com/flicky/template-storefront/internal/middleware"
	"github.com/flicky/template-storefront/internal/model"
)

type TemplateService interface {
	StartPurchase(ctx context.Context, userID, templateID uuid.UUID) (*model.Purchase, string, error)
	ListOwned(ctx context.Context, userID uuid.UUID) ([]model.Purchase, error)
	RecordDownload(ctx context.Context, userID, purchaseID uuid.UUID) (*model.Purchase, error)
	AttachPaymobOrder(ctx context.Context, userID, purchaseID uuid.UUID, paymobOrderID string) (*model.Purchase, error)
}

type TemplateHandler struct {
	templates TemplateService
	log       *slog.Logger
}

func NewTemplateHandler(templates TemplateService, log *slog.Logger) *TemplateHandler {
	return &TemplateHandler{templates: templates, log: log}
}

func (h *TemplateHandler) StartPurchase(c *gin.Context) {
	templateID, ok := parseID(c, "template")
	if !ok {
		return
	}

	purchase, merchantOrderID, err := h.templates.StartPurchase(c.Request.Context(), middleware.GetUserID(c), templateID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, dto.StartPurchaseResponse{
		PurchaseID:      purchase.ID,
		MerchantOrderID: merchantOrderID,
		Price:           purchase.Price,
		PaymentStatus:   string(purchase.PaymentStatus),
	})
}

func (h *TemplateHandler) ListPurchased(c *gin.Context) {
	purchases, err := h.templates.ListOwned(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	items := make([]dto.PurchaseResponse, 0, len(purchases))
	for i := range purchases {
		items = append(items, dto.ToPurchaseResponse(&purchases[i]))
	}
	c.JSON(http.StatusOK, gin.H{"purchases": items, "total": len(items)})
}

func (h *TemplateHandler) Download(c *gin.Context) {
	purchaseID, ok := parseID(c, "purchase")
	if !ok {
		return
	}

	purchase, err := h.templates.RecordDownload(c.Request.Context(), middleware.GetUserID(c), purchaseID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"templateId":    purchase.TemplateID,
		"downloadCount": purchase.DownloadCount,
	})
}

func (h *TemplateHandler) AttachPaymobOrder(c *gin.Context) {
	purchaseID, ok := parseID(c, "purchase")
	if !ok {
		return
	}
	var req dto.AttachPaymobOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, bindingDetails(err))
		return
	}

	purchase, err := h.templates.AttachPaymobOrder(c.Request.Context(), middleware.GetUserID(c), purchaseID, string(req.PaymobOrderID))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToPurchaseResponse(purchase))
}
