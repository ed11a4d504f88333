package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

type reserveRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	SessionID string `json:"sessionId" validate:"required,max=128"`
}

type reserveResponse struct {
	Reserved  bool       `json:"reserved"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// reserve answers 200 either way; reserved is false when too few units are
// free.
func (s *Server) reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := s.decode(r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}
	res, ok, err := s.Reservations.Reserve(r.Context(), req.ProductID, req.Quantity, req.SessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp := reserveResponse{Reserved: ok}
	if ok {
		exp := res.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.Reservations.Release(r.Context(), sessionID, r.URL.Query().Get("productId")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) available(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.Reservations.Available(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"productId": id, "available": n})
}

type validateRequest struct {
	Items []stock.Item `json:"items" validate:"required,min=1"`
}

// validateStock checks lines against raw stock, or against stock minus other
// sessions' holds when sessionId is given.
func (s *Server) validateStock(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := s.decode(r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}
	var opts []stock.ValidateOption
	if session := r.URL.Query().Get("sessionId"); session != "" {
		opts = append(opts, stock.WithReservations(session))
	}
	res, err := s.Validator.Validate(r.Context(), req.Items, opts...)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type setStockRequest struct {
	Stock  *int   `json:"stock" validate:"required,gte=0"`
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) setStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := s.decode(r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}
	res, err := s.Ledger.SetStock(r.Context(), stock.SetStockRequest{
		ProductID: chi.URLParam(r, "id"),
		NewStock:  *req.Stock,
		Reason:    req.Reason,
		ActorID:   mustActor(r).UserID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMovementResultView(res))
}

type movementRequest struct {
	Type      string `json:"type" validate:"required,oneof=MANUAL_INCREASE MANUAL_DECREASE RETURN"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
	Reason    string `json:"reason" validate:"max=500"`
	Reference string `json:"reference" validate:"max=128"`
}

func (s *Server) applyMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := s.decode(r, &req, false); err != nil {
		respondError(w, r, err)
		return
	}
	res, err := s.Ledger.ApplyMovement(r.Context(), stock.MovementRequest{
		ProductID: chi.URLParam(r, "id"),
		Type:      stock.MovementType(req.Type),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		Reference: req.Reference,
		ActorID:   mustActor(r).UserID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMovementResultView(res))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}
	ms, err := s.Ledger.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]movementView, len(ms))
	for i, m := range ms {
		out[i] = newMovementView(m)
	}
	writeJSON(w, http.StatusOK, out)
}
