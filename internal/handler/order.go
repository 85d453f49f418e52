package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/template-storefront/internal/dto"
	"github.com/flicky/template-storefront/internal/model"
	"github.com/flicky/template-storefront/internal/service"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, caller *service.Caller, req dto.CreateOrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, caller *service.Caller, id uuid.UUID) (*model.Order, error)
	UpdateState(ctx context.Context, caller *service.Caller, id uuid.UUID, state string) (*model.Order, error)
	UpdatePaymentStatus(ctx context.Context, caller *service.Caller, id uuid.UUID, status string) (*model.Order, error)
}

type OrderHandler struct {
	orderService OrderService
	log          *slog.Logger
}

func NewOrderHandler(orderService OrderService, log *slog.Logger) *OrderHandler {
	return &OrderHandler{orderService: orderService, log: log}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, bindingDetails(err))
		return
	}

	order, err := h.orderService.PlaceOrder(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"orderId": order.ID,
		"order":   dto.ToOrderResponse(order),
	})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := parseID(c, "order")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), callerFrom(c), orderID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToOrderResponse(order))
}

func (h *OrderHandler) UpdateState(c *gin.Context) {
	orderID, ok := parseID(c, "order")
	if !ok {
		return
	}
	var req dto.UpdateOrderStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, bindingDetails(err))
		return
	}

	order, err := h.orderService.UpdateState(c.Request.Context(), callerFrom(c), orderID, req.State)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOrderResponse(order))
}

func (h *OrderHandler) UpdatePaymentStatus(c *gin.Context) {
	orderID, ok := parseID(c, "order")
	if !ok {
		return
	}
	var req dto.UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, bindingDetails(err))
		return
	}

	order, err := h.orderService.UpdatePaymentStatus(c.Request.Context(), callerFrom(c), orderID, req.PaymentStatus)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOrderResponse(order))
}
