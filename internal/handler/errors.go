package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/flicky/template-storefront/internal/dto"
	"github.com/flicky/template-storefront/internal/middleware"
	"github.com/flicky/template-storefront/internal/model"
	"github.com/flicky/template-storefront/internal/service"
)

// callerFrom returns the authenticated caller, or nil for guests.
func callerFrom(c *gin.Context) *service.Caller {
	id := middleware.GetUserID(c)
	if id == uuid.Nil {
		return nil
	}
	return &service.Caller{UserID: id, IsAdmin: middleware.GetUserRole(c) == model.RoleAdmin}
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

func validationFailed(c *gin.Context, details []service.FieldError) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Validation Error",
		"details": details,
	})
}

// bindingDetails turns a ShouldBindJSON error into field details.
func bindingDetails(err error) []service.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []service.FieldError{{Path: "body", Message: err.Error(), Code: "invalid_json"}}
	}
	details := make([]service.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, service.FieldError{
			Path:    jsonPath(fe.Namespace()),
			Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
			Code:    fe.Tag(),
		})
	}
	return details
}

// jsonPath maps "CreateOrderRequest.Address.Name" to "address.name".
func jsonPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		r := []rune(p)
		r[0] = unicode.ToLower(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, ".")
}

// writeError maps service errors onto the HTTP error contract.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	var (
		verr  *service.ValidationError
		authz *service.AuthorizationError
		stock *service.InsufficientStockError
		nf    *service.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		details := verr.Details
		if len(details) == 0 {
			details = []service.FieldError{{Message: verr.Error(), Code: "invalid"}}
		}
		validationFailed(c, details)
	case errors.As(err, &authz), errors.Is(err, service.ErrOrderAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": err.Error()})
	case errors.As(err, &stock), errors.As(err, &nf):
		// Shown to the buyer as is.
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrTemplateNotFound),
		errors.Is(err, service.ErrPurchaseNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrPurchaseNotDownloadable):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrPurchaseNotPending):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	default:
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}
