package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/service"
)

type payRequest struct {
	Method string `json:"method"`
}

// Pay handles POST /venues/{vid}/orders/{id}/pay for staff-settled methods.
func (h *OrderHandler) Pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	h.transition(w, r, enum.OpPay, func(ctx context.Context, venueID, orderID uuid.UUID, act service.Actor) (*service.TransitionResult, error) {
		return h.svc.MarkPaid(ctx, venueID, orderID, req.Method, act)
	})
}

// PayLater handles POST /venues/{vid}/orders/{id}/pay-later.
func (h *OrderHandler) PayLater(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, enum.OpPayLater, h.svc.MarkPayLater)
}

// --- Payment gateway webhook ---

const (
	SignatureHeader     = "X-Signature"
	maxWebhookBodyBytes = 64 << 10

	chargeSucceeded = "succeeded"
	chargeFailed    = "failed"
)

// PaymentMarker settles PAY_NOW orders. Satisfied by *service.OrderService.
type PaymentMarker interface {
	MarkPaid(ctx context.Context, venueID, orderID uuid.UUID, method string, actor service.Actor) (*service.TransitionResult, error)
}

// WebhookHandler receives charge notifications from the payment gateway.
type WebhookHandler struct {
	svc    PaymentMarker
	secret []byte
	guard  *idempotency.Guard
	logger *zap.Logger
}

func NewWebhookHandler(svc PaymentMarker, secret string, guard *idempotency.Guard, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{svc: svc, secret: []byte(secret), guard: guard, logger: logger}
}

type chargeNotification struct {
	VenueID  string `json:"venue_id"`
	OrderID  string `json:"order_id"`
	ChargeID string `json:"charge_id"`
	Status   string `json:"status"`
}

// Sign returns the hex HMAC-SHA256 of body, as expected in X-Signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) verify(body []byte, signature string) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Payments handles POST /webhooks/payments. A succeeded charge marks the
// order paid with PAY_NOW as the gateway; redelivery of the same charge is
// answered from the idempotency record.
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var n chargeNotification
	if err := json.Unmarshal(body, &n); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	venueID, err := uuid.Parse(n.VenueID)
	if err != nil {
		badRequest(w, "invalid venue ID")
		return
	}
	orderID, err := uuid.Parse(n.OrderID)
	if err != nil {
		badRequest(w, "invalid order ID")
		return
	}
	if n.ChargeID == "" {
		badRequest(w, "charge_id is required")
		return
	}

	switch n.Status {
	case chargeSucceeded:
	case chargeFailed:
		h.logger.Info("payment charge failed",
			zap.String("venue_id", venueID.String()),
			zap.String("order_id", orderID.String()),
			zap.String("charge_id", n.ChargeID))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	default:
		badRequest(w, "unknown charge status")
		return
	}

	r.Header.Set(IdempotencyKeyHeader, "charge:"+n.ChargeID)
	runIdempotent(w, r, h.guard, h.logger, venueID, orderID, enum.OpGatewayPay, func(ctx context.Context) (int, interface{}, error) {
		res, err := h.svc.MarkPaid(ctx, venueID, orderID, string(database.PaymentMethodPAYNOW), service.GatewayActor())
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toTransitionResponse(res), nil
	})
}
