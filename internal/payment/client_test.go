package payment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, AccessToken: "TEST-token"})
	require.NoError(t, err)
	return c
}

func TestClient_CreatePreference(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		got = decodeAny(t, body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://pay.example/pref-1","collector_id":99}`))
	})

	pref, err := c.CreatePreference(context.Background(), PreferenceRequest{
		OrderID: "order-1",
		Items: []PreferenceItem{
			{ID: "medialuna", Title: "Medialuna", Quantity: 6, UnitPrice: decimal.RequireFromString("650")},
		},
		PayerEmail:      "ana@example.com",
		NotificationURL: "https://bakery.example/api/webhooks/payments",
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)
	assert.Equal(t, "https://pay.example/pref-1", pref.InitPoint)

	assert.Equal(t, "order-1", got["external_reference"])
	assert.Equal(t, "https://bakery.example/api/webhooks/payments", got["notification_url"])
	items, ok := got["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Medialuna", item["title"])
	assert.Equal(t, "650.00", item["unit_price"])
	assert.Equal(t, "6", item["quantity"])
	assert.Equal(t, "ARS", item["currency_id"])
	assert.NotContains(t, got, "back_urls")
}

func TestClient_GetPayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/1234567", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 1234567,
			"status": "approved",
			"status_detail": "accredited",
			"external_reference": "order-1",
			"transaction_amount": 3900.5,
			"currency_id": "ARS",
			"payer": {"email": "ana@example.com"},
			"metadata": null
		}`))
	})

	p, err := c.GetPayment(context.Background(), "1234567")
	require.NoError(t, err)
	assert.Equal(t, "1234567", p.ID)
	assert.Equal(t, StatusApproved, p.Status)
	assert.Equal(t, "accredited", p.StatusDetail)
	assert.Equal(t, "order-1", p.ExternalReference)
	assert.True(t, decimal.RequireFromString("3900.50").Equal(p.Amount))
	assert.Equal(t, "ARS", p.Currency)
}

func TestClient_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Payment not found","status":404}`))
	})

	_, err := c.GetPayment(context.Background(), "1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Payment not found", apiErr.Message)
	assert.False(t, apiErr.Temporary())
	assert.True(t, Permanent(err))

	bad := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"approved"}`))
	})
	_, err = bad.GetPayment(context.Background(), "1")
	require.Error(t, err, "a payment without id is rejected")
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for range 5 {
		_, err := c.GetPayment(context.Background(), "1")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.Temporary())
	}

	_, err := c.GetPayment(context.Background(), "1")
	require.True(t, errors.Is(err, gobreaker.ErrOpenState), "got %v", err)
	assert.Equal(t, int32(5), calls.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	for range 8 {
		_, err := c.GetPayment(context.Background(), "1")
		require.Error(t, err)
		require.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	assert.Equal(t, int32(8), calls.Load())
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.Error(t, err)
}

// decodeAny decodes a JSON object into maps, keeping numbers as their text.
func decodeAny(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var decode func(d *jx.Decoder) (any, error)
	decode = func(d *jx.Decoder) (any, error) {
		switch d.Next() {
		case jx.Object:
			m := map[string]any{}
			err := d.Obj(func(d *jx.Decoder, key string) error {
				v, err := decode(d)
				m[key] = v
				return err
			})
			return m, err
		case jx.Array:
			var arr []any
			err := d.Arr(func(d *jx.Decoder) error {
				v, err := decode(d)
				arr = append(arr, v)
				return err
			})
			return arr, err
		case jx.Number:
			n, err := d.Num()
			return n.String(), err
		case jx.String:
			return d.Str()
		case jx.Bool:
			return d.Bool()
		default:
			return nil, d.Null()
		}
	}
	v, err := decode(jx.DecodeBytes(data))
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	return m
}
