package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "practice service base url")
		evtType = flag.String("type", getenv("STRIPE_EVENT_TYPE", "invoice.paid"), "stripe event type")
		subID   = flag.String("subscription", getenv("SUBSCRIPTION_ID", ""), "stripe subscription id on the membership")
		amount  = flag.Int64("amount", 4900, "invoice amount in cents")
		periods = flag.Int("period-offset", 0, "months to shift the billing period by")
		eventID = flag.String("event-id", "", "event id; reuse one to exercise replay handling")
		secret  = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*subID) == "" {
		fatal("SUBSCRIPTION_ID is required")
	}

	now := time.Now().UTC()
	id := *eventID
	if id == "" {
		id = fmt.Sprintf("evt_test_%d", now.UnixNano())
	}
	start := now.AddDate(0, *periods, 0)
	end := start.AddDate(0, 1, 0)

	payload, err := buildEventJSON(id, *evtType, now, *subID, *amount, start, end)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("event=%s status=%d body=%s\n", id, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, subID string, cents int64, start, end time.Time) ([]byte, error) {
	var object map[string]any
	switch eventType {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		paid := cents
		if eventType == "invoice.payment_failed" {
			paid = 0
		}
		object = map[string]any{
			"id":           "in_" + eventID,
			"object":       "invoice",
			"subscription": subID,
			"amount_due":   cents,
			"amount_paid":  paid,
			"period_start": start.AddDate(0, -1, 0).Unix(),
			"period_end":   start.Unix(),
			"lines": map[string]any{
				"object": "list",
				"data": []map[string]any{{
					"id":     "il_" + eventID,
					"object": "line_item",
					"period": map[string]any{"start": start.Unix(), "end": end.Unix()},
				}},
			},
		}
	case "customer.subscription.deleted":
		object = map[string]any{
			"id":                   subID,
			"object":               "subscription",
			"status":               "canceled",
			"current_period_start": start.Unix(),
			"current_period_end":   end.Unix(),
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
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
