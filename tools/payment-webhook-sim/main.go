// Command payment-webhook-sim posts a signed checkout-paid webhook to the gateway, as
// Stripe or PayMongo would after a successful payment.
package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/igabaycare/carebook/libs/paygateway"
)

type booking struct {
	SessionID   string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

func main() {
	var (
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "gateway base url")
		provider = flag.String("provider", getenv("PAYMENT_PROVIDER", "stripe"), "stripe or paymongo")
		secret   = flag.String("secret", getenv("WEBHOOK_SECRET", ""), "webhook signing secret")
		session  = flag.String("session", getenv("SESSION_ID", ""), "checkout session id")
		clinic   = flag.String("clinic-id", getenv("CLINIC_ID", ""), "clinic_id metadata")
		patient  = flag.String("patient-id", getenv("PATIENT_ID", ""), "patient_id metadata")
		date     = flag.String("date", getenv("APPOINTMENT_DATE", time.Now().AddDate(0, 0, 1).Format("2006-01-02")), "appointment date (YYYY-MM-DD)")
		clock    = flag.String("time", getenv("APPOINTMENT_TIME", "09:00"), "appointment time (HH:MM)")
		fee      = flag.Float64("fee", 500, "consultation fee")
		bookFee  = flag.Float64("booking-fee", 50, "booking fee")
		currency = flag.String("currency", getenv("CURRENCY", "PHP"), "ISO currency")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("WEBHOOK_SECRET is required")
	}
	if *clinic == "" || *patient == "" {
		fatal("CLINIC_ID and PATIENT_ID are required")
	}

	now := time.Now().UTC()
	if *session == "" {
		*session = fmt.Sprintf("cs_sim_%d", now.UnixNano())
	}
	total := *fee + *bookFee
	b := booking{
		SessionID:   *session,
		AmountMinor: int64(total*100 + 0.5),
		Currency:    strings.ToUpper(*currency),
		Metadata: map[string]string{
			"clinic_id":        *clinic,
			"patient_id":       *patient,
			"appointment_date": *date,
			"appointment_time": *clock,
			"appointment_type": "consultation",
			"consultation_fee": strconv.FormatFloat(*fee, 'f', 2, 64),
			"booking_fee":      strconv.FormatFloat(*bookFee, 'f', 2, 64),
			"total_amount":     strconv.FormatFloat(total, 'f', 2, 64),
			"currency":         strings.ToUpper(*currency),
		},
	}

	var (
		payload []byte
		header  string
		sigName string
		path    string
		err     error
	)
	switch *provider {
	case "stripe":
		payload, err = stripeEvent(fmt.Sprintf("evt_sim_%d", now.UnixNano()), b, now)
		if err != nil {
			fatal(err.Error())
		}
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    *secret,
			Timestamp: now,
			Scheme:    "v1",
		})
		header, sigName, path = signed.Header, paygateway.StripeSignatureHeader, "/api/v1/payments/webhooks/stripe"
	case "paymongo":
		payload, err = payMongoEvent(fmt.Sprintf("evt_sim_%d", now.UnixNano()), b, now)
		if err != nil {
			fatal(err.Error())
		}
		header, sigName, path = payMongoHeader(*secret, payload, now), paygateway.PayMongoSignatureHeader, "/api/v1/payments/webhooks/paymongo"
	default:
		fatal("unknown provider: " + *provider)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sigName, header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("session=%s status=%d body=%s\n", b.SessionID, resp.StatusCode, strings.TrimSpace(string(body)))
}

func stripeEvent(eventID string, b booking, t time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        paygateway.StripeSessionCompleted,
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":                   b.SessionID,
				"object":               "checkout.session",
				"status":               "complete",
				"payment_status":       "paid",
				"amount_total":         b.AmountMinor,
				"currency":             strings.ToLower(b.Currency),
				"payment_method_types": []string{"card"},
				"metadata":             b.Metadata,
			},
		},
	})
}

func payMongoEvent(eventID string, b booking, t time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"data": map[string]any{
			"id":   eventID,
			"type": "event",
			"attributes": map[string]any{
				"type":       paygateway.PayMongoCheckoutPaid,
				"livemode":   false,
				"created_at": t.Unix(),
				"data": map[string]any{
					"id":   b.SessionID,
					"type": "checkout_session",
					"attributes": map[string]any{
						"status":              "active",
						"metadata":            b.Metadata,
						"payment_method_used": "gcash",
						"line_items": []map[string]any{
							{"amount": b.AmountMinor, "currency": b.Currency, "name": "Consultation", "quantity": 1},
						},
						"payments": []map[string]any{
							{"attributes": map[string]any{"status": "paid", "amount": b.AmountMinor}},
						},
					},
				},
			},
		},
	})
}

func payMongoHeader(secret string, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s,te=%s,li=", ts, hex.EncodeToString(paygateway.SignPayMongo(secret, ts, body)))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
