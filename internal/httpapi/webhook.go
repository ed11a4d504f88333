package httpapi

import (
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/payment"
)

const maxWebhookBytes = 64 << 10

type webhookResponse struct {
	Received  bool   `json:"received"`
	OrderID   string `json:"orderId,omitempty"`
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// paymentWebhook verifies and applies a gateway notification. Errors that a
// redelivery cannot fix are acknowledged with 200 so the gateway stops
// retrying; anything else answers 500 to get the notification again.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Payments == nil || s.Verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "online payments are not configured", nil)
		return
	}
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body", nil)
		return
	}
	n, err := payment.ParseNotification(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !n.IsPayment() {
		writeJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	// The gateway signs the id from the query string when it is present.
	dataID := n.DataID
	if q := r.URL.Query().Get("data.id"); q != "" {
		dataID = q
	}
	if err := s.Verifier.Verify(r.Header.Get("X-Signature"), r.Header.Get("X-Request-Id"), dataID); err != nil {
		lg.Warn("Rejected payment webhook", zap.String("data_id", dataID), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	res, err := s.Payments.Process(ctx, n)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, webhookResponse{
			Received:  true,
			OrderID:   res.OrderID,
			Applied:   res.Applied,
			Duplicate: res.Duplicate,
		})
	case payment.Permanent(err):
		lg.Warn("Dropping payment notification", zap.String("payment_id", n.DataID), zap.Error(err))
		writeJSON(w, http.StatusOK, webhookResponse{Received: true})
	default:
		lg.Error("Payment notification failed", zap.String("payment_id", n.DataID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "processing failed", nil)
	}
}
