// Package payment talks to the payment gateway: it creates checkout
// preferences, fetches payment states and turns webhook notifications into
// order payment updates.
package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// DefaultBaseURL is the gateway API root.
const DefaultBaseURL = "https://api.mercadopago.com"

// Gateway payment statuses.
const (
	StatusApproved    = "approved"
	StatusAuthorized  = "authorized"
	StatusPending     = "pending"
	StatusInProcess   = "in_process"
	StatusInMediation = "in_mediation"
	StatusRejected    = "rejected"
	StatusCancelled   = "cancelled"
	StatusRefunded    = "refunded"
	StatusChargedBack = "charged_back"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// PreferenceItem is one line of a checkout preference.
type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PreferenceRequest describes the checkout to open for an order.
type PreferenceRequest struct {
	OrderID         string
	Items           []PreferenceItem
	PayerEmail      string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
}

// Preference is a created checkout. InitPoint is where the shopper pays.
type Preference struct {
	ID        string
	InitPoint string
}

// Payment is the gateway's view of one payment.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL     string
	AccessToken string
	Currency    string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is a gateway API client guarded by a circuit breaker.
type Client struct {
	baseURL  string
	token    string
	currency string
	http     *http.Client
	cb       *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("gateway access token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "ARS"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
	})

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.AccessToken,
		currency: cfg.Currency,
		http:     hc,
		cb:       cb,
	}, nil
}

// CreatePreference opens a checkout for an order.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body, err := c.do(ctx, http.MethodPost, "/checkout/preferences", c.encodePreference(req))
	if err != nil {
		return nil, errors.Wrapf(err, "create preference for order %s", req.OrderID)
	}
	pref, err := decodePreference(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode preference")
	}
	return pref, nil
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get payment %s", id)
	}
	p, err := decodePayment(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return c.cb.Execute(func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		}
		return data, nil
	})
}

func (c *Client) encodePreference(req PreferenceRequest) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range req.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(it.Title) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.RawStr(it.UnitPrice.StringFixed(2)) })
						e.Field("currency_id", func(e *jx.Encoder) { e.Str(c.currency) })
					})
				}
			})
		})
		e.Field("external_reference", func(e *jx.Encoder) { e.Str(req.OrderID) })
		if req.PayerEmail != "" {
			e.Field("payer", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("email", func(e *jx.Encoder) { e.Str(req.PayerEmail) })
				})
			})
		}
		if req.NotificationURL != "" {
			e.Field("notification_url", func(e *jx.Encoder) { e.Str(req.NotificationURL) })
		}
		if req.SuccessURL != "" {
			e.Field("back_urls", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("success", func(e *jx.Encoder) { e.Str(req.SuccessURL) })
					e.Field("failure", func(e *jx.Encoder) { e.Str(req.FailureURL) })
					e.Field("pending", func(e *jx.Encoder) { e.Str(req.PendingURL) })
				})
			})
			e.Field("auto_return", func(e *jx.Encoder) { e.Str("approved") })
		}
	})
	return bytes.Clone(e.Bytes())
}

func decodePreference(data []byte) (*Preference, error) {
	p := &Preference{}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeID(d)
		case "init_point":
			p.InitPoint, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.ID == "" || p.InitPoint == "" {
		return nil, errors.New("preference without id or init_point")
	}
	return p, nil
}

func decodePayment(data []byte) (*Payment, error) {
	p := &Payment{}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeID(d)
		case "status":
			p.Status, err = d.Str()
		case "status_detail":
			p.StatusDetail, err = optionalStr(d)
		case "external_reference":
			p.ExternalReference, err = optionalStr(d)
		case "transaction_amount":
			p.Amount, err = decodeDecimal(d)
		case "currency_id":
			p.Currency, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.ID == "" || p.Status == "" {
		return nil, errors.New("payment without id or status")
	}
	return p, nil
}

// decodeID accepts both numeric and string ids.
func decodeID(d *jx.Decoder) (string, error) {
	if d.Next() == jx.String {
		return d.Str()
	}
	n, err := d.Num()
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}

func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// errorMessage extracts "message" from a gateway error body, falling back to
// the raw text.
func errorMessage(data []byte) string {
	var msg string
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key == "message" && d.Next() == jx.String {
			var err error
			msg, err = d.Str()
			return err
		}
		return d.Skip()
	})
	if err != nil || msg == "" {
		return strings.TrimSpace(string(data))
	}
	return msg
}
