package stock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// DefaultReservationTTL is how long a hold lives after its last refresh.
const DefaultReservationTTL = 15 * time.Minute

// Reservation is a time-bounded hold of units for one checkout session. It
// never touches Product.Stock; it only lowers what other sessions can see.
type Reservation struct {
	ID        string
	ProductID string
	SessionID string
	Quantity  int
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the hold still counts against availability.
func (r *Reservation) Active(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// Reservations manages session holds. Reserve runs its availability check and
// its write under the product row lock, so concurrent sessions cannot both
// claim the last units.
type Reservations struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewReservations creates a reservation store whose holds live for ttl. A
// non-positive ttl selects DefaultReservationTTL.
func NewReservations(store Store, ttl time.Duration) *Reservations {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &Reservations{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Reserve creates or replaces the session's hold on productID and returns
// the stored hold. It returns false, and changes nothing, when fewer than
// quantity units are free.
func (r *Reservations) Reserve(ctx context.Context, productID string, quantity int, sessionID string) (*Reservation, bool, error) {
	var (
		res *Reservation
		ok  bool
	)
	err := r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		res, ok, err = r.ReserveTx(ctx, tx, productID, quantity, sessionID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return res, ok, nil
}

// ReserveTx is Reserve inside the caller's transaction.
func (r *Reservations) ReserveTx(ctx context.Context, tx Tx, productID string, quantity int, sessionID string) (*Reservation, bool, error) {
	if err := validateHold(productID, quantity, sessionID); err != nil {
		return nil, false, err
	}

	p, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return nil, false, err
	}

	now := r.now()
	// The session's previous hold is being superseded, so it does not count.
	held, err := tx.ActiveReserved(ctx, productID, sessionID, now)
	if err != nil {
		return nil, false, errors.Wrap(err, "sum active reservations")
	}
	if p.Stock-held < quantity {
		return nil, false, nil
	}

	res := &Reservation{
		ID:        uuid.New().String(),
		ProductID: productID,
		SessionID: sessionID,
		Quantity:  quantity,
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.UpsertReservation(ctx, res); err != nil {
		return nil, false, errors.Wrap(err, "upsert reservation")
	}
	return res, true, nil
}

// Release drops the session's hold on productID, or every hold of the session
// when productID is empty. Releasing nothing is not an error.
func (r *Reservations) Release(ctx context.Context, sessionID, productID string) error {
	return r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := r.ReleaseTx(ctx, tx, sessionID, productID)
		return err
	})
}

// ReleaseTx is Release inside the caller's transaction. It returns the number
// of holds removed.
func (r *Reservations) ReleaseTx(ctx context.Context, tx Tx, sessionID, productID string) (int, error) {
	if sessionID == "" {
		return 0, &ValidationError{Field: "sessionId", Message: "required"}
	}
	n, err := tx.DeleteReservations(ctx, sessionID, productID)
	if err != nil {
		return 0, errors.Wrap(err, "delete reservations")
	}
	return n, nil
}

// Available returns stock minus every unexpired hold. The result is negative
// when stock was lowered below what sessions already hold. Expired holds are
// ignored here and removed later by Compact.
func (r *Reservations) Available(ctx context.Context, productID string) (int, error) {
	ps, err := r.store.GetProducts(ctx, []string{productID})
	if err != nil {
		return 0, errors.Wrap(err, "get product")
	}
	if len(ps) == 0 {
		return 0, errNotFound(productID)
	}
	held, err := r.store.ActiveReserved(ctx, productID, "", r.now())
	if err != nil {
		return 0, errors.Wrap(err, "sum active reservations")
	}
	return ps[0].Stock - held, nil
}

// Compact physically deletes holds that expired before the retention window.
func (r *Reservations) Compact(ctx context.Context, retention time.Duration) (int, error) {
	n, err := r.store.DeleteExpiredReservations(ctx, r.now().Add(-retention))
	if err != nil {
		return 0, errors.Wrap(err, "delete expired reservations")
	}
	return n, nil
}

func validateHold(productID string, quantity int, sessionID string) error {
	switch {
	case productID == "":
		return &ValidationError{Field: "productId", Message: "required"}
	case sessionID == "":
		return &ValidationError{Field: "sessionId", Message: "required"}
	case quantity <= 0:
		return &ValidationError{Field: "quantity", Message: "must be greater than 0"}
	}
	return nil
}
