package paygateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is a provider notification about a checkout session, normalized so
// billing can treat Stripe and PayMongo the same way.
type WebhookEvent struct {
	Provider   string
	ID         string
	Type       string
	Session    Session
	OccurredAt time.Time
	Raw        []byte
}

// Event types that carry a checkout session.
const (
	StripeSessionCompleted      = "checkout.session.completed"
	StripeSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
	StripeSessionAsyncFailed    = "checkout.session.async_payment_failed"
	StripeSessionExpired        = "checkout.session.expired"
	PayMongoCheckoutPaid        = "checkout_session.payment.paid"
)

const (
	StripeSignatureHeader   = "Stripe-Signature"
	PayMongoSignatureHeader = "Paymongo-Signature"

	DefaultWebhookTolerance = 5 * time.Minute
)

// ParseStripeWebhook verifies the Stripe-Signature header and decodes the checkout
// session carried by the event. Events about other objects return a zero Session.
func ParseStripeWebhook(body []byte, header, secret string, tolerance time.Duration) (WebhookEvent, error) {
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	// Only checkout session fields are read, so the account's pinned API version does not matter.
	evt, err := webhook.ConstructEventWithOptions(body, header, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{
		Provider:   "stripe",
		ID:         evt.ID,
		Type:       string(evt.Type),
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
		Raw:        body,
	}
	if !strings.HasPrefix(out.Type, "checkout.session.") || evt.Data == nil {
		return out, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: checkout session payload: %v", ErrInvalidRequest, err)
	}
	out.Session = fromStripe(&sess)
	if out.Type == StripeSessionAsyncFailed {
		out.Session.Status = StatusUnpaid
	}
	return out, nil
}

type pmWebhookEvent struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Type      string          `json:"type"`
			Livemode  bool            `json:"livemode"`
			CreatedAt int64           `json:"created_at"`
			Data      json.RawMessage `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParsePayMongoWebhook verifies the Paymongo-Signature header and decodes the event.
// The header has the form "t=<unix>,te=<test hmac>,li=<live hmac>"; the digest is
// HMAC-SHA256 over "<t>.<body>" keyed by the webhook secret.
func ParsePayMongoWebhook(body []byte, header, secret string, tolerance time.Duration, now time.Time) (WebhookEvent, error) {
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	var evt pmWebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: invalid json: %v", ErrInvalidRequest, err)
	}
	if err := verifyPayMongoSignature(body, header, secret, evt.Data.Attributes.Livemode, tolerance, now); err != nil {
		return WebhookEvent{}, err
	}

	a := evt.Data.Attributes
	out := WebhookEvent{
		Provider:   "paymongo",
		ID:         evt.Data.ID,
		Type:       a.Type,
		OccurredAt: time.Unix(a.CreatedAt, 0).UTC(),
		Raw:        body,
	}
	if !strings.HasPrefix(a.Type, "checkout_session.") || len(a.Data) == 0 {
		return out, nil
	}
	var sess pmSessionResponse
	if err := json.Unmarshal(a.Data, &sess.Data); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: checkout session payload: %v", ErrInvalidRequest, err)
	}
	out.Session = toSession(sess)
	return out, nil
}

func verifyPayMongoSignature(body []byte, header, secret string, livemode bool, tolerance time.Duration, now time.Time) error {
	var ts, test, live string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "te":
			test = v
		case "li":
			live = v
		}
	}
	sig := test
	if livemode {
		sig = live
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > tolerance || d < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}
	want := SignPayMongo(secret, ts, body)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

// SignPayMongo computes the raw HMAC PayMongo sends hex-encoded in te/li.
func SignPayMongo(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
