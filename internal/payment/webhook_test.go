package payment

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Notification
		wantErr bool
	}{
		{
			name: "payment with string id",
			body: `{"action":"payment.updated","api_version":"v1","data":{"id":"123456"},"type":"payment","live_mode":true}`,
			want: Notification{Type: "payment", Action: "payment.updated", DataID: "123456"},
		},
		{
			name: "payment with numeric id",
			body: `{"type":"payment","data":{"id":98765}}`,
			want: Notification{Type: "payment", DataID: "98765"},
		},
		{
			name: "legacy topic field",
			body: `{"topic":"merchant_order","resource":"https://api/merchant_orders/1"}`,
			want: Notification{Type: "merchant_order"},
		},
		{name: "payment without id", body: `{"type":"payment","data":{}}`, wantErr: true},
		{name: "no type", body: `{"data":{"id":"1"}}`, wantErr: true},
		{name: "not json", body: `type=payment`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNotification([]byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedWebhook)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifier(t *testing.T) {
	secret := []byte("webhook-secret")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := NewVerifier(string(secret), DefaultSignatureTolerance)
	v.now = func() time.Time { return now }

	valid := SignatureHeader(secret, "123456", "req-1", ts)
	require.NoError(t, v.Verify(valid, "req-1", "123456"))

	tests := []struct {
		name      string
		header    string
		requestID string
		dataID    string
	}{
		{"other data id", valid, "req-1", "123457"},
		{"other request id", valid, "req-2", "123456"},
		{"other secret", SignatureHeader([]byte("nope"), "123456", "req-1", ts), "req-1", "123456"},
		{"missing v1", "ts=" + ts, "req-1", "123456"},
		{"not hex", "ts=" + ts + ",v1=zz", "req-1", "123456"},
		{"empty", "", "req-1", "123456"},
		{
			"stale timestamp",
			SignatureHeader(secret, "123456", "req-1", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)),
			"req-1", "123456",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, v.Verify(tt.header, tt.requestID, tt.dataID), ErrInvalidSignature)
		})
	}
}

func TestVerifier_Tolerance(t *testing.T) {
	secret := []byte("s")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	old := strconv.FormatInt(now.Add(-time.Hour).UnixMilli(), 10)

	v := NewVerifier("s", 0)
	v.now = func() time.Time { return now }
	require.NoError(t, v.Verify(SignatureHeader(secret, "1", "", old), "", "1"), "no age check without tolerance")

	v = NewVerifier("s", 2*time.Hour)
	v.now = func() time.Time { return now }
	require.NoError(t, v.Verify(SignatureHeader(secret, "1", "", old), "", "1"), "millisecond timestamps")
}

func TestSign_Manifest(t *testing.T) {
	a := Sign([]byte("k"), "ABC", "r", "1")
	b := Sign([]byte("k"), "abc", "r", "1")
	assert.Equal(t, a, b, "data id is lower-cased")

	withReq := Sign([]byte("k"), "1", "r", "1")
	withoutReq := Sign([]byte("k"), "1", "", "1")
	assert.NotEqual(t, withReq, withoutReq)
}
