package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/payment"
)

type itemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	Variation string `json:"variation" validate:"max=100"`
}

type createOrderRequest struct {
	SessionID     string        `json:"sessionId" validate:"max=128"`
	Items         []itemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string        `json:"paymentMethod" validate:"omitempty,oneof=online bank_transfer"`
	Notes         string        `json:"notes" validate:"max=500"`
	Draft         bool          `json:"draft"`
}

type itemsRequest struct {
	Items []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type checkoutRequest struct {
	PayerEmail string `json:"payerEmail" validate:"omitempty,email"`
}

type checkoutResponse struct {
	OrderID      string `json:"orderId"`
	PreferenceID string `json:"preferenceId"`
	InitPoint    string `json:"initPoint"`
}

func toItemRequests(items []itemRequest) []order.ItemRequest {
	out := make([]order.ItemRequest, len(items))
	for i, it := range items {
		out[i] = order.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity, Variation: it.Variation}
	}
	return out
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := s.decode(r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}
	method := order.PaymentMethod(req.PaymentMethod)
	if method == "" {
		method = order.PaymentOnline
	}
	o, err := s.Orders.Create(r.Context(), order.CreateRequest{
		Actor:         mustActor(r),
		SessionID:     req.SessionID,
		Items:         toItemRequests(req.Items),
		PaymentMethod: method,
		Notes:         req.Notes,
		Draft:         req.Draft,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(o))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Get(r.Context(), chi.URLParam(r, "id"), mustActor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (s *Server) submitOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Submit(r.Context(), chi.URLParam(r, "id"), mustActor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (s *Server) modifyItems(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if err := s.decode(r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}
	o, err := s.Orders.ModifyItems(r.Context(), order.ModifyItemsRequest{
		OrderID: chi.URLParam(r, "id"),
		Actor:   mustActor(r),
		Items:   toItemRequests(req.Items),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := s.decode(r, &req, true); err != nil {
		respondError(w, r, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by customer"
	}
	o, err := s.Orders.Cancel(r.Context(), order.CancelRequest{
		OrderID: chi.URLParam(r, "id"),
		Actor:   mustActor(r),
		Reason:  reason,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (s *Server) requestBankTransfer(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.RequestBankTransfer(r.Context(), chi.URLParam(r, "id"), mustActor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (s *Server) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := s.decode(r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}
	to := order.Status(strings.ToUpper(req.Status))
	if !to.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status", map[string]string{"status": req.Status})
		return
	}
	o, err := s.Orders.Advance(r.Context(), order.AdvanceRequest{
		OrderID: chi.URLParam(r, "id"),
		To:      to,
		Actor:   mustActor(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

// checkout opens a gateway checkout for a pending online order. The order id
// travels as the external reference so webhooks can find it again.
func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	if s.Checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "online payments are not configured", nil)
		return
	}
	var req checkoutRequest
	if err := s.decode(r, &req, true); err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	o, err := s.Orders.Get(ctx, chi.URLParam(r, "id"), mustActor(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if o.Status != order.StatusPending {
		writeError(w, http.StatusBadRequest, "only pending orders can be paid", map[string]string{"status": string(o.Status)})
		return
	}

	ids := make([]string, len(o.Items))
	for i, it := range o.Items {
		ids[i] = it.ProductID
	}
	products, err := s.Products.GetByIDs(ctx, ids)
	if err != nil {
		respondError(w, r, err)
		return
	}
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	items := make([]payment.PreferenceItem, len(o.Items))
	for i, it := range o.Items {
		title := names[it.ProductID]
		if title == "" {
			title = it.ProductID
		}
		if it.Variation != "" {
			title += " (" + it.Variation + ")"
		}
		items[i] = payment.PreferenceItem{
			ID:        it.ProductID,
			Title:     title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	pref, err := s.Checkout.CreatePreference(ctx, s.preferenceRequest(o.ID, items, req.PayerEmail))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:      o.ID,
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
	})
}

func (s *Server) preferenceRequest(orderID string, items []payment.PreferenceItem, email string) payment.PreferenceRequest {
	req := payment.PreferenceRequest{
		OrderID:    orderID,
		Items:      items,
		PayerEmail: email,
	}
	if base := strings.TrimRight(s.cfg.PublicURL, "/"); base != "" {
		req.NotificationURL = base + "/api/webhooks/payments"
		req.SuccessURL = base + "/orders/" + orderID + "?payment=success"
		req.FailureURL = base + "/orders/" + orderID + "?payment=failure"
		req.PendingURL = base + "/orders/" + orderID + "?payment=pending"
	}
	return req
}
