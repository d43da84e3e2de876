package paygateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"go.opentelemetry.io/otel/attribute"
)

// Stripe creates hosted Checkout Sessions in payment mode.
type Stripe struct {
	client checkoutsession.Client
}

// NewStripe uses the live Stripe API unless baseURL is set.
func NewStripe(secretKey, baseURL string) *Stripe {
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if baseURL != "" {
		cfg.URL = stripe.String(strings.TrimRight(baseURL, "/"))
	}
	return &Stripe{client: checkoutsession.Client{
		B:   stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Key: secretKey,
	}}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) CreateSession(ctx context.Context, p CreateParams) (Session, error) {
	ctx, span := tracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.amount_minor", p.AmountMinor))

	if err := validateCreate(s.Name(), p); err != nil {
		return Session{}, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(p.Currency)),
				UnitAmount: stripe.Int64(p.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentMethodTypes: stripe.StringSlice(p.PaymentMethodTypes),
	}
	if len(p.PaymentMethodTypes) == 0 {
		params.PaymentMethodTypes = nil
	}
	if p.Billing.Email != "" {
		params.CustomerEmail = stripe.String(p.Billing.Email)
	}
	if p.ReferenceID != "" {
		params.ClientReferenceID = stripe.String(p.ReferenceID)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	params.Context = ctx

	sess, err := s.client.New(params)
	if err != nil {
		return Session{}, s.translate(err, ErrInvalidRequest)
	}
	return fromStripe(sess), nil
}

func (s *Stripe) GetSession(ctx context.Context, id string) (Session, error) {
	ctx, span := tracer.Start(ctx, "stripe.get_checkout_session")
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return Session{}, &Error{Provider: s.Name(), Kind: ErrSessionNotFound, Message: "empty session id"}
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.client.Get(id, params)
	if err != nil {
		return Session{}, s.translate(err, ErrSessionNotFound)
	}
	return fromStripe(sess), nil
}

func (s *Stripe) translate(err error, notFound error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &Error{Provider: s.Name(), Kind: ErrGatewayUnavailable, Message: err.Error()}
	}
	kind := kindForStatus(se.HTTPStatusCode, notFound)
	if se.Code == stripe.ErrorCodeResourceMissing && errors.Is(notFound, ErrSessionNotFound) {
		kind = ErrSessionNotFound
	}
	return &Error{
		Provider:   s.Name(),
		StatusCode: se.HTTPStatusCode,
		Code:       string(se.Code),
		Message:    se.Msg,
		Kind:       kind,
	}
}

func fromStripe(sess *stripe.CheckoutSession) Session {
	out := Session{
		ID:          sess.ID,
		CheckoutURL: sess.URL,
		AmountMinor: sess.AmountTotal,
		Currency:    strings.ToUpper(string(sess.Currency)),
		Metadata:    sess.Metadata,
		Status:      StatusPending,
	}
	if len(sess.PaymentMethodTypes) > 0 {
		out.PaymentMethod = sess.PaymentMethodTypes[0]
	}
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired && sess.Status == stripe.CheckoutSessionStatusComplete:
		out.Status = StatusPaid
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		out.Status = StatusExpired
	}
	// Completed but unpaid means an async method is still clearing; only the
	// async_payment_failed event settles it as unpaid.
	return out
}
