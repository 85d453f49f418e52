package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flicky/template-storefront/internal/paymob"
	"github.com/flicky/template-storefront/internal/service"
)

const localeCookie = "NEXT_LOCALE"

var localePattern = regexp.MustCompile(`^[a-zA-Z]{2}(-[a-zA-Z]{2})?$`)

type PaymentService interface {
	HandleWebhook(ctx context.Context, obj map[string]any, signature string) error
	HandleCallback(ctx context.Context, q url.Values) service.CallbackResult
}

type PaymentHandler struct {
	payments      PaymentService
	webBaseURL    string
	defaultLocale string
	log           *slog.Logger
}

func NewPaymentHandler(payments PaymentService, webBaseURL, defaultLocale string, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:      payments,
		webBaseURL:    strings.TrimRight(webBaseURL, "/"),
		defaultLocale: defaultLocale,
		log:           log,
	}
}

type webhookPayload struct {
	Type string         `json:"type"`
	Obj  map[string]any `json:"obj"`
}

// Webhook receives Paymob transaction notifications. Once the signature
// checks out the answer is always 200, whatever processing did.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var payload webhookPayload
	dec := json.NewDecoder(c.Request.Body)
	// Numbers must keep their exact text for the signature.
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil || payload.Obj == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	err := h.payments.HandleWebhook(c.Request.Context(), payload.Obj, c.Query("hmac"))
	switch {
	case errors.Is(err, paymob.ErrSecretMissing):
		h.log.Error("paymob webhook received but PAYMOB_HMAC_SECRET is not set")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment verification is not configured"})
		return
	case err != nil:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Callback is the browser redirect target after checkout.
func (h *PaymentHandler) Callback(c *gin.Context) {
	res := h.payments.HandleCallback(c.Request.Context(), c.Request.URL.Query())
	locale := h.locale(c)

	if res.Success {
		target := h.webBaseURL + "/" + locale + "/templates/success?purchaseId=" + url.QueryEscape(res.PurchaseID.String())
		c.Redirect(http.StatusFound, target)
		return
	}
	c.Redirect(http.StatusFound, h.webBaseURL+"/"+locale+"/checkout?error=payment_failed")
}

func (h *PaymentHandler) locale(c *gin.Context) string {
	if l := c.Query("locale"); localePattern.MatchString(l) {
		return l
	}
	if l, err := c.Cookie(localeCookie); err == nil && localePattern.MatchString(l) {
		return l
	}
	return h.defaultLocale
}
