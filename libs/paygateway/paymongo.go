package paygateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("carebook/libs/paygateway")

// PayMongo talks to the PayMongo Checkout API, which fronts GCash and other PH wallets.
type PayMongo struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewPayMongo(secretKey string) *PayMongo {
	return &PayMongo{
		secretKey:  secretKey,
		baseURL:    "https://api.paymongo.com",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the client at another host, e.g. an httptest server.
func (p *PayMongo) WithBaseURL(baseURL string) *PayMongo {
	if baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	return p
}

func (p *PayMongo) WithHTTPClient(c *http.Client) *PayMongo {
	if c != nil {
		p.httpClient = c
	}
	return p
}

func (p *PayMongo) Name() string { return "paymongo" }

type pmLineItem struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type pmBilling struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type pmCreateAttributes struct {
	Billing            *pmBilling        `json:"billing,omitempty"`
	Description        string            `json:"description,omitempty"`
	LineItems          []pmLineItem      `json:"line_items"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	ReferenceNumber    string            `json:"reference_number,omitempty"`
	SendEmailReceipt   bool              `json:"send_email_receipt"`
	ShowDescription    bool              `json:"show_description"`
	ShowLineItems      bool              `json:"show_line_items"`
	SuccessURL         string            `json:"success_url"`
	CancelURL          string            `json:"cancel_url"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type pmSessionResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			CheckoutURL       string            `json:"checkout_url"`
			Status            string            `json:"status"`
			Metadata          map[string]string `json:"metadata"`
			PaymentMethodUsed string            `json:"payment_method_used"`
			LineItems         []pmLineItem      `json:"line_items"`
			Payments          []struct {
				Attributes struct {
					Status string `json:"status"`
					Amount int64  `json:"amount"`
				} `json:"attributes"`
			} `json:"payments"`
			PaymentIntent *struct {
				Attributes struct {
					Status string `json:"status"`
				} `json:"attributes"`
			} `json:"payment_intent"`
		} `json:"attributes"`
	} `json:"data"`
}

type pmErrorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (p *PayMongo) CreateSession(ctx context.Context, params CreateParams) (Session, error) {
	ctx, span := tracer.Start(ctx, "paymongo.create_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.amount_minor", params.AmountMinor))

	if err := validateCreate(p.Name(), params); err != nil {
		return Session{}, err
	}

	attrs := pmCreateAttributes{
		Description: params.Description,
		LineItems: []pmLineItem{{
			Amount:   params.AmountMinor,
			Currency: strings.ToUpper(params.Currency),
			Name:     params.Description,
			Quantity: 1,
		}},
		PaymentMethodTypes: params.PaymentMethodTypes,
		ReferenceNumber:    params.ReferenceID,
		ShowDescription:    true,
		ShowLineItems:      true,
		SuccessURL:         params.SuccessURL,
		CancelURL:          params.CancelURL,
		Metadata:           params.Metadata,
	}
	if len(attrs.PaymentMethodTypes) == 0 {
		attrs.PaymentMethodTypes = []string{"gcash"}
	}
	if b := params.Billing; b.Name != "" || b.Email != "" || b.Phone != "" {
		attrs.Billing = &pmBilling{Name: b.Name, Email: b.Email, Phone: b.Phone}
	}

	body, err := json.Marshal(map[string]any{"data": map[string]any{"attributes": attrs}})
	if err != nil {
		return Session{}, fmt.Errorf("paymongo: encode request: %w", err)
	}

	var out pmSessionResponse
	if err := p.do(ctx, http.MethodPost, "/v1/checkout_sessions", body, params.IdempotencyKey, ErrInvalidRequest, &out); err != nil {
		return Session{}, err
	}
	sess := toSession(out)
	if sess.ID == "" || sess.CheckoutURL == "" {
		return Session{}, &Error{Provider: p.Name(), Kind: ErrGatewayUnavailable, Message: "response missing session id or checkout url"}
	}
	return sess, nil
}

func (p *PayMongo) GetSession(ctx context.Context, id string) (Session, error) {
	ctx, span := tracer.Start(ctx, "paymongo.get_checkout_session")
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return Session{}, &Error{Provider: p.Name(), Kind: ErrSessionNotFound, Message: "empty session id"}
	}
	var out pmSessionResponse
	if err := p.do(ctx, http.MethodGet, "/v1/checkout_sessions/"+url.PathEscape(id), nil, "", ErrSessionNotFound, &out); err != nil {
		return Session{}, err
	}
	return toSession(out), nil
}

func (p *PayMongo) do(ctx context.Context, method, path string, body []byte, idemKey string, notFound error, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return &Error{Provider: p.Name(), Kind: ErrInvalidRequest, Message: err.Error()}
	}
	req.SetBasicAuth(p.secretKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &Error{Provider: p.Name(), Kind: ErrGatewayUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Provider: p.Name(), Kind: ErrGatewayUnavailable, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		e := &Error{Provider: p.Name(), StatusCode: resp.StatusCode, Kind: kindForStatus(resp.StatusCode, notFound)}
		var pe pmErrorResponse
		if json.Unmarshal(raw, &pe) == nil && len(pe.Errors) > 0 {
			e.Code = pe.Errors[0].Code
			e.Message = pe.Errors[0].Detail
		}
		if e.Code == "resource_not_found" && errors.Is(notFound, ErrSessionNotFound) {
			e.Kind = ErrSessionNotFound
		}
		return e
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Provider: p.Name(), Kind: ErrGatewayUnavailable, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

func toSession(r pmSessionResponse) Session {
	a := r.Data.Attributes
	s := Session{
		ID:            r.Data.ID,
		CheckoutURL:   a.CheckoutURL,
		Metadata:      a.Metadata,
		PaymentMethod: a.PaymentMethodUsed,
		Status:        StatusPending,
	}
	for _, li := range a.LineItems {
		s.AmountMinor += li.Amount * int64(max(li.Quantity, 1))
		s.Currency = li.Currency
	}

	// A failed attempt leaves the session open; the patient can retry until it expires.
	for _, pay := range a.Payments {
		if pay.Attributes.Status == "paid" {
			s.Status = StatusPaid
			return s
		}
	}
	if a.PaymentIntent != nil && a.PaymentIntent.Attributes.Status == "succeeded" {
		s.Status = StatusPaid
		return s
	}
	if a.Status == "expired" {
		s.Status = StatusExpired
	}
	return s
}
