package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Webhook errors.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedWebhook = errors.New("malformed webhook")
)

// DefaultSignatureTolerance bounds how old a signed timestamp may be.
const DefaultSignatureTolerance = 5 * time.Minute

// Notification is a decoded webhook body. Only payment notifications carry
// an order-relevant DataID.
type Notification struct {
	Type   string
	Action string
	DataID string
}

// IsPayment reports whether the notification concerns a payment.
func (n Notification) IsPayment() bool {
	return n.Type == "payment"
}

// ParseNotification decodes a webhook body of the form
// {"type":"payment","action":"payment.updated","data":{"id":"123"}}.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type", "topic":
			if n.Type == "" {
				n.Type, err = optionalStr(d)
			} else {
				err = d.Skip()
			}
		case "action":
			n.Action, err = optionalStr(d)
		case "data":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				if key == "id" {
					var err error
					n.DataID, err = decodeID(d)
					return err
				}
				return d.Skip()
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Notification{}, errors.Wrap(ErrMalformedWebhook, err.Error())
	}
	if n.Type == "" {
		return Notification{}, errors.Wrap(ErrMalformedWebhook, "missing type")
	}
	if n.IsPayment() && n.DataID == "" {
		return Notification{}, errors.Wrap(ErrMalformedWebhook, "missing data.id")
	}
	return n, nil
}

// Verifier checks the x-signature header the gateway puts on webhooks.
// The header reads "ts=<unix>,v1=<hex hmac-sha256>" and the MAC covers
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. A zero tolerance disables the timestamp
// age check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify checks the signature header for a notification.
func (v *Verifier) Verify(signature, requestID, dataID string) error {
	ts, mac, err := parseSignature(signature)
	if err != nil {
		return err
	}

	if v.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return errors.Wrap(ErrInvalidSignature, "bad ts")
		}
		// Some senders use milliseconds.
		if sec > 1e12 {
			sec /= 1000
		}
		if age := v.now().Sub(time.Unix(sec, 0)); age > v.tolerance || age < -v.tolerance {
			return errors.Wrap(ErrInvalidSignature, "stale ts")
		}
	}

	want := Sign(v.secret, dataID, requestID, ts)
	if subtle.ConstantTimeCompare(want, mac) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the webhook MAC for the given fields.
func Sign(secret []byte, dataID, requestID, ts string) []byte {
	var b strings.Builder
	b.WriteString("id:")
	b.WriteString(strings.ToLower(dataID))
	b.WriteString(";")
	if requestID != "" {
		b.WriteString("request-id:")
		b.WriteString(requestID)
		b.WriteString(";")
	}
	b.WriteString("ts:")
	b.WriteString(ts)
	b.WriteString(";")

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(b.String()))
	return mac.Sum(nil)
}

// SignatureHeader formats an x-signature header value.
func SignatureHeader(secret []byte, dataID, requestID, ts string) string {
	return "ts=" + ts + ",v1=" + hex.EncodeToString(Sign(secret, dataID, requestID, ts))
}

func parseSignature(header string) (ts string, mac []byte, err error) {
	var v1 string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = val
		case "v1":
			v1 = val
		}
	}
	if ts == "" || v1 == "" {
		return "", nil, errors.Wrap(ErrInvalidSignature, "missing ts or v1")
	}
	mac, err = hex.DecodeString(v1)
	if err != nil {
		return "", nil, errors.Wrap(ErrInvalidSignature, "v1 is not hex")
	}
	return ts, mac, nil
}
