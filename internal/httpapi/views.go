package httpapi

import (
	"time"

	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

type itemView struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Variation string `json:"variation,omitempty"`
}

type orderView struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Status         string     `json:"status"`
	Items          []itemView `json:"items"`
	Total          string     `json:"total"`
	PaymentMethod  string     `json:"paymentMethod"`
	Notes          string     `json:"notes,omitempty"`
	StockCommitted bool       `json:"stockCommitted"`
	StockShortfall string     `json:"stockShortfall,omitempty"`
	CancelReason   string     `json:"cancelReason,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func newOrderView(o *order.Order) orderView {
	items := make([]itemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemView{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Variation: it.Variation,
		}
	}
	return orderView{
		ID:             o.ID,
		UserID:         o.UserID,
		Status:         string(o.Status),
		Items:          items,
		Total:          o.Total.StringFixed(2),
		PaymentMethod:  string(o.PaymentMethod),
		Notes:          o.Notes,
		StockCommitted: o.StockCommittedAt != nil,
		StockShortfall: o.StockShortfall,
		CancelReason:   o.CancelReason,
		CancelledAt:    o.CancelledAt,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

type movementView struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"productId"`
	Type          string    `json:"type"`
	Quantity      int       `json:"quantity"`
	PreviousStock int       `json:"previousStock"`
	NewStock      int       `json:"newStock"`
	Reason        string    `json:"reason,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	ActorID       string    `json:"actorId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newMovementView(m stock.Movement) movementView {
	return movementView{
		ID:            m.ID,
		ProductID:     m.ProductID,
		Type:          string(m.Type),
		Quantity:      m.Quantity,
		PreviousStock: m.PreviousStock,
		NewStock:      m.NewStock,
		Reason:        m.Reason,
		Reference:     m.Reference,
		ActorID:       m.ActorID,
		CreatedAt:     m.CreatedAt,
	}
}

type movementResultView struct {
	MovementID    string `json:"movementId"`
	PreviousStock int    `json:"previousStock"`
	NewStock      int    `json:"newStock"`
	Clamped       bool   `json:"clamped"`
}

func newMovementResultView(res *stock.MovementResult) movementResultView {
	return movementResultView{
		MovementID:    res.MovementID,
		PreviousStock: res.PreviousStock,
		NewStock:      res.NewStock,
		Clamped:       res.Clamped,
	}
}
