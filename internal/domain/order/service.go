package order

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bakery-inventory/internal/domain/stock"
)

// ItemRequest is a requested order line.
type ItemRequest struct {
	ProductID string
	Quantity  int
	Variation string
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	Actor Actor
	// SessionID keys the stock holds placed for this checkout. When empty
	// the new order id is used.
	SessionID     string
	Items         []ItemRequest
	PaymentMethod PaymentMethod
	Notes         string
	// Draft creates the order in DRAFT instead of PENDIENTE.
	Draft bool
}

// ModifyItemsRequest replaces the lines of a pending order.
type ModifyItemsRequest struct {
	OrderID string
	Actor   Actor
	Items   []ItemRequest
}

// CancelRequest cancels an order.
type CancelRequest struct {
	OrderID string
	Actor   Actor
	Reason  string
	// IfStatus, when set, makes the cancel fail with ErrStatusChanged unless
	// the order is still in that status once locked.
	IfStatus Status
}

// AdvanceRequest moves an order forward on behalf of an administrator.
type AdvanceRequest struct {
	OrderID string
	To      Status
	Actor   Actor
}

// PaymentResult is the gateway's verdict on a payment, already normalized.
type PaymentResult string

const (
	PaymentApproved  PaymentResult = "approved"
	PaymentRejected  PaymentResult = "rejected"
	PaymentInProcess PaymentResult = "pending"
	PaymentRefunded  PaymentResult = "refunded"
)

// PaymentUpdate is a payment notification resolved against the gateway.
type PaymentUpdate struct {
	OrderID       string
	TransactionID string
	Result        PaymentResult
	Amount        decimal.Decimal
	Currency      string
	ResponseCode  string
}

// PaymentOutcome reports what HandlePayment did. Applied is false when the
// update was a redelivery or otherwise changed nothing.
type PaymentOutcome struct {
	Order   *Order
	Payment *Payment
	Applied bool
}

// Service coordinates order status changes with their stock effects. Every
// operation that touches stock runs the order write, the ledger movements and
// the hold changes in one transaction.
type Service struct {
	store        Store
	ledger       *stock.Ledger
	reservations *stock.Reservations
	validator    *stock.Validator
	notifier     Notifier
	now          func() time.Time
}

// NewService creates an order Service. A nil notifier disables notifications.
func NewService(
	store Store,
	ledger *stock.Ledger,
	reservations *stock.Reservations,
	validator *stock.Validator,
	notifier Notifier,
) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		store:        store,
		ledger:       ledger,
		reservations: reservations,
		validator:    validator,
		notifier:     notifier,
		now:          time.Now,
	}
}

// Create validates the requested lines, holds their units for the checkout
// session, prices them from the catalog and persists the order.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if req.Actor.UserID == "" {
		return nil, ErrForbidden
	}
	if err := checkItems(req.Items); err != nil {
		return nil, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentOnline
	}

	id := uuid.New().String()
	session := req.SessionID
	if session == "" {
		session = id
	}

	lines := stockItems(req.Items)
	if err := s.validate(ctx, lines, session); err != nil {
		return nil, err
	}

	status := StatusPending
	if req.Draft {
		status = StatusDraft
	}
	now := s.now()
	o := &Order{
		ID:            id,
		UserID:        req.Actor.UserID,
		SessionID:     session,
		Status:        status,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := s.hold(ctx, tx, session, lines); err != nil {
			return err
		}
		items, total, err := priceItems(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		o.Items, o.Total = items, total
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.Total.StringFixed(2)),
	)
	if !req.Draft {
		s.notify(ctx, NotifyOrderCreated, o)
	}
	return o, nil
}

// Submit turns a draft into a pending order, refreshing its stock holds.
func (s *Service) Submit(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	cur, err := s.Get(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusDraft {
		return nil, &TransitionError{From: cur.Status, To: StatusPending}
	}
	if err := s.validate(ctx, cur.StockItems(), cur.SessionID); err != nil {
		return nil, err
	}

	var o *Order
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusDraft {
			return &TransitionError{From: o.Status, To: StatusPending}
		}
		if err := s.hold(ctx, tx, o.SessionID, o.StockItems()); err != nil {
			return err
		}
		o.Status = StatusPending
		o.UpdatedAt = s.now()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, errors.Wrap(err, "submit order")
	}

	s.notify(ctx, NotifyOrderCreated, o)
	return o, nil
}

// ModifyItems replaces the lines of a pending order. Stock already taken for
// the order is given back, the session holds are swapped for the new lines
// and the total is recomputed, all in one transaction.
func (s *Service) ModifyItems(ctx context.Context, req ModifyItemsRequest) (*Order, error) {
	if err := checkItems(req.Items); err != nil {
		return nil, err
	}
	cur, err := s.Get(ctx, req.OrderID, req.Actor)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPending {
		return nil, ErrNotModifiable
	}

	lines := stockItems(req.Items)
	if err := s.validate(ctx, lines, cur.SessionID); err != nil {
		return nil, err
	}

	var o *Order
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return ErrNotModifiable
		}

		restored, err := s.restoreStock(ctx, tx, o, stock.MovementManualIncrease, "order items modified", req.Actor)
		if err != nil {
			return err
		}
		if restored > 0 {
			o.StockCommittedAt = nil
			o.StockShortfall = ""
		}

		if _, err := s.reservations.ReleaseTx(ctx, tx, o.SessionID, ""); err != nil {
			return err
		}
		if err := s.hold(ctx, tx, o.SessionID, lines); err != nil {
			return err
		}

		items, total, err := priceItems(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, o.ID, items); err != nil {
			return errors.Wrap(err, "replace items")
		}
		o.Items, o.Total = items, total
		o.UpdatedAt = s.now()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, errors.Wrap(err, "modify items")
	}

	zctx.From(ctx).Info("Order items modified",
		zap.String("order_id", o.ID),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return o, nil
}

// HandlePayment applies a gateway payment verdict. An approval takes the
// order's units out of stock exactly once and moves it to PAGADO; repeated
// approvals for the same order change nothing.
func (s *Service) HandlePayment(ctx context.Context, upd PaymentUpdate) (*PaymentOutcome, error) {
	out := &PaymentOutcome{}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, upd.OrderID)
		if err != nil {
			return err
		}
		out.Order = o

		now := s.now()
		pay, err := tx.GetPayment(ctx, o.ID)
		existed := err == nil
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			pay = &Payment{OrderID: o.ID, Status: PaymentStatusPending, Amount: o.Total, CreatedAt: now}
		case err != nil:
			return errors.Wrap(err, "get payment")
		}
		out.Payment = pay
		prev := pay.Status
		applyPaymentFields(pay, upd)
		pay.UpdatedAt = now

		switch upd.Result {
		case PaymentApproved:
			if prev == PaymentStatusPaid && (o.StockCommittedAt != nil || o.Status.Paid()) {
				return nil
			}
			pay.Status = PaymentStatusPaid
			switch {
			case o.Status == StatusCancelled:
				zctx.From(ctx).Warn("Payment approved for cancelled order",
					zap.String("order_id", o.ID),
					zap.String("transaction_id", upd.TransactionID),
				)
			case o.Status.Paid():
			default:
				if !CanTransition(o.Status, StatusPaid) {
					return &TransitionError{From: o.Status, To: StatusPaid}
				}
				if err := s.commitStock(ctx, tx, o, SystemActor); err != nil {
					return err
				}
				o.Status = StatusPaid
				o.UpdatedAt = now
				if err := tx.UpdateOrder(ctx, o); err != nil {
					return errors.Wrap(err, "update order")
				}
				out.Applied = true
			}
		case PaymentRejected:
			if prev == PaymentStatusPaid || prev == PaymentStatusRefunded || (existed && prev == PaymentStatusFailed) {
				return nil
			}
			pay.Status = PaymentStatusFailed
			out.Applied = true
		case PaymentInProcess:
			if existed {
				return nil
			}
			out.Applied = true
		case PaymentRefunded:
			if prev == PaymentStatusRefunded {
				return nil
			}
			pay.Status = PaymentStatusRefunded
			out.Applied = true
		default:
			return errors.Errorf("unknown payment result %q", upd.Result)
		}

		if err := tx.UpsertPayment(ctx, pay); err != nil {
			return errors.Wrap(err, "upsert payment")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "handle payment")
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", upd.OrderID),
		zap.String("result", string(upd.Result)),
	)
	if !out.Applied {
		lg.Info("Payment update already applied")
		return out, nil
	}
	lg.Info("Payment update applied", zap.String("status", string(out.Order.Status)))
	if upd.Result == PaymentApproved {
		s.notify(ctx, NotifyPaymentConfirmed, out.Order)
	}
	return out, nil
}

// RequestBankTransfer parks a pending order until an administrator confirms
// the transfer. Stock is not touched.
func (s *Service) RequestBankTransfer(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(o) {
			return ErrForbidden
		}
		if !CanTransition(o.Status, StatusAwaitingConfirmation) {
			return &TransitionError{From: o.Status, To: StatusAwaitingConfirmation}
		}

		now := s.now()
		o.Status = StatusAwaitingConfirmation
		o.PaymentMethod = PaymentBankTransfer
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}

		if _, err := tx.GetPayment(ctx, o.ID); errors.Is(err, ErrPaymentNotFound) {
			return tx.UpsertPayment(ctx, &Payment{
				OrderID:   o.ID,
				Status:    PaymentStatusPending,
				Amount:    o.Total,
				CreatedAt: now,
				UpdatedAt: now,
			})
		} else if err != nil {
			return errors.Wrap(err, "get payment")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "request bank transfer")
	}

	s.notify(ctx, NotifyStatusChanged, o)
	return o, nil
}

// Advance performs an administrative status change. Any move into a paid
// status takes the order's units out of stock once, like an online approval.
// Publishing a draft goes through Submit so its holds are refreshed.
func (s *Service) Advance(ctx context.Context, req AdvanceRequest) (*Order, error) {
	if !req.Actor.Privileged() {
		return nil, ErrForbidden
	}
	switch req.To {
	case StatusCancelled:
		return s.Cancel(ctx, CancelRequest{
			OrderID: req.OrderID,
			Actor:   req.Actor,
			Reason:  "cancelled by administrator",
		})
	case StatusPending:
		return s.Submit(ctx, req.OrderID, req.Actor)
	}

	var (
		o         *Order
		confirmed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, req.To) {
			return &TransitionError{From: o.Status, To: req.To}
		}

		now := s.now()
		if req.To.Paid() && o.StockCommittedAt == nil {
			if err := s.commitStock(ctx, tx, o, req.Actor); err != nil {
				return err
			}
			if err := s.markPaid(ctx, tx, o, now); err != nil {
				return err
			}
			confirmed = true
		}

		o.Status = req.To
		o.UpdatedAt = now
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, errors.Wrap(err, "advance order")
	}

	zctx.From(ctx).Info("Order advanced",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("actor", req.Actor.UserID),
	)
	if confirmed {
		s.notify(ctx, NotifyPaymentConfirmed, o)
	} else {
		s.notify(ctx, NotifyStatusChanged, o)
	}
	return o, nil
}

// Cancel cancels an order. Customers may cancel their own orders before
// payment; administrators and background jobs may cancel wherever the
// lifecycle allows. Units the order took from stock are given back with
// CANCEL movements and the session holds are dropped.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*Order, error) {
	var (
		o        *Order
		restored int
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if !req.Actor.CanAccess(o) {
			return ErrForbidden
		}
		if req.IfStatus != "" && o.Status != req.IfStatus {
			return ErrStatusChanged
		}
		if !req.Actor.Privileged() && o.Status != StatusDraft && o.Status != StatusPending {
			return ErrForbidden
		}
		if !CanTransition(o.Status, StatusCancelled) {
			return &TransitionError{From: o.Status, To: StatusCancelled}
		}

		restored, err = s.restoreStock(ctx, tx, o, stock.MovementCancel, "order cancelled", req.Actor)
		if err != nil {
			return err
		}
		if _, err := s.reservations.ReleaseTx(ctx, tx, o.SessionID, ""); err != nil {
			return err
		}

		now := s.now()
		o.Status = StatusCancelled
		o.CancelledAt = &now
		o.CancelReason = req.Reason
		o.CancelledBy = req.Actor.UserID
		o.UpdatedAt = now
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}

	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.String("actor", req.Actor.UserID),
		zap.Int("restored_units", restored),
	)
	s.notify(ctx, NotifyOrderCancelled, o)
	return o, nil
}

// Get returns an order the actor is allowed to see.
func (s *Service) Get(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// Stale lists orders in status created before the cutoff.
func (s *Service) Stale(ctx context.Context, status Status, createdBefore time.Time) ([]Order, error) {
	orders, err := s.store.ListByStatus(ctx, status, createdBefore)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s orders", status)
	}
	return orders, nil
}

// DeleteDraft removes an abandoned draft together with its items, payment
// and stock holds. It returns false when the order is gone, no longer a
// draft, or newer than the cutoff.
func (s *Service) DeleteDraft(ctx context.Context, orderID string, createdBefore time.Time) (bool, error) {
	deleted := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if o.Status != StatusDraft || !o.CreatedAt.Before(createdBefore) {
			return nil
		}
		if _, err := s.reservations.ReleaseTx(ctx, tx, o.SessionID, ""); err != nil {
			return err
		}
		if err := tx.DeleteOrder(ctx, o.ID); err != nil {
			return errors.Wrap(err, "delete order")
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "delete draft %s", orderID)
	}
	return deleted, nil
}

func (s *Service) validate(ctx context.Context, lines []stock.Item, session string) error {
	res, err := s.validator.Validate(ctx, lines, stock.WithReservations(session))
	if err != nil {
		return errors.Wrap(err, "validate stock")
	}
	if !res.IsValid {
		return &stock.IssuesError{Issues: res.Errors}
	}
	return nil
}

// hold places session holds for merged lines. Products are locked in id
// order so concurrent checkouts never wait on each other in a cycle.
func (s *Service) hold(ctx context.Context, tx Tx, session string, lines []stock.Item) error {
	for _, it := range byProduct(lines) {
		_, ok, err := s.reservations.ReserveTx(ctx, tx, it.ProductID, it.Quantity, session)
		if err != nil {
			return err
		}
		if !ok {
			return &stock.InsufficientStockError{ProductID: it.ProductID, Requested: it.Quantity}
		}
	}
	return nil
}

// commitStock takes the order's units out of stock once, releases the
// session holds that covered them and stamps StockCommittedAt. Lines the
// stock no longer covers are still committed, floored at zero by the ledger,
// and recorded on the order as StockShortfall.
func (s *Service) commitStock(ctx context.Context, tx Tx, o *Order, actor Actor) error {
	if o.StockCommittedAt != nil {
		return nil
	}
	lines := byProduct(o.StockItems())
	short, err := s.validator.Shortfalls(ctx, tx, lines)
	if err != nil {
		return errors.Wrap(err, "check stock")
	}
	if len(short) > 0 {
		msgs := make([]string, len(short))
		for i, is := range short {
			msgs[i] = is.Message
		}
		o.StockShortfall = strings.Join(msgs, "; ")
		zctx.From(ctx).Warn("Committing order beyond available stock",
			zap.String("order_id", o.ID),
			zap.String("actor", actor.UserID),
			zap.Any("shortfalls", short),
		)
	}

	ref := stock.OrderReference(o.ID)
	for _, it := range lines {
		if _, err := s.ledger.Apply(ctx, tx, stock.MovementRequest{
			ProductID: it.ProductID,
			Type:      stock.MovementPurchase,
			Quantity:  it.Quantity,
			Reason:    "order paid",
			Reference: ref,
			ActorID:   actor.UserID,
		}); err != nil {
			return errors.Wrapf(err, "commit stock for %s", it.ProductID)
		}
	}
	if _, err := s.reservations.ReleaseTx(ctx, tx, o.SessionID, ""); err != nil {
		return err
	}
	now := s.now()
	o.StockCommittedAt = &now
	return nil
}

// restoreStock gives back every unit the ledger currently holds against the
// order and returns the number of units restored. Only movements the order
// wrote itself are counted.
func (s *Service) restoreStock(ctx context.Context, tx Tx, o *Order, typ stock.MovementType, reason string, actor Actor) (int, error) {
	ref := stock.OrderReference(o.ID)
	net, err := tx.NetMovements(ctx, ref)
	if err != nil {
		return 0, errors.Wrap(err, "net movements")
	}
	ids := make([]string, 0, len(net))
	for id := range net {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	restored := 0
	for _, id := range ids {
		taken := -net[id]
		if taken <= 0 {
			continue
		}
		if _, err := s.ledger.Apply(ctx, tx, stock.MovementRequest{
			ProductID: id,
			Type:      typ,
			Quantity:  taken,
			Reason:    reason,
			Reference: ref,
			ActorID:   actor.UserID,
		}); err != nil {
			return 0, errors.Wrapf(err, "restore stock for %s", id)
		}
		restored += taken
	}
	return restored, nil
}

// byProduct returns a copy of lines sorted by product id, the order in which
// product rows are locked.
func byProduct(lines []stock.Item) []stock.Item {
	lines = slices.Clone(lines)
	slices.SortFunc(lines, func(a, b stock.Item) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return lines
}

func (s *Service) markPaid(ctx context.Context, tx Tx, o *Order, now time.Time) error {
	pay, err := tx.GetPayment(ctx, o.ID)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		pay = &Payment{OrderID: o.ID, Amount: o.Total, CreatedAt: now}
	case err != nil:
		return errors.Wrap(err, "get payment")
	}
	pay.Status = PaymentStatusPaid
	pay.UpdatedAt = now
	return tx.UpsertPayment(ctx, pay)
}

func applyPaymentFields(p *Payment, upd PaymentUpdate) {
	if upd.TransactionID != "" {
		p.TransactionID = upd.TransactionID
	}
	if !upd.Amount.IsZero() {
		p.Amount = upd.Amount
	}
	if upd.Currency != "" {
		p.Currency = upd.Currency
	}
	if upd.ResponseCode != "" {
		p.ResponseCode = upd.ResponseCode
	}
}

func checkItems(items []ItemRequest) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: it.ProductID}
		}
	}
	return nil
}

func stockItems(items []ItemRequest) []stock.Item {
	out := make([]stock.Item, len(items))
	for i, it := range items {
		out[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return stock.MergeItems(out)
}

// priceItems builds order lines from current catalog prices. Total is
// rounded to cents.
func priceItems(ctx context.Context, tx Tx, reqs []ItemRequest) ([]Item, decimal.Decimal, error) {
	items := make([]Item, len(reqs))
	total := decimal.Zero
	for i, r := range reqs {
		p, err := tx.LockProduct(ctx, r.ProductID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		items[i] = Item{
			ID:        uuid.New().String(),
			ProductID: p.ID,
			Quantity:  r.Quantity,
			UnitPrice: p.Price,
			Variation: r.Variation,
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(r.Quantity))))
	}
	return items, total.Round(2), nil
}
