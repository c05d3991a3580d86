package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/libs/config"
	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v79/webhook"
)

type simulateOptions struct {
	baseURL        string
	secret         string
	eventType      string
	eventID        string
	email          string
	customerID     string
	subscriptionID string
	priceID        string
	interval       string
	status         string
	cancelAtEnd    bool
	amount         int64
	currency       string
	attempt        int64
}

func newSimulateCmd() *cobra.Command {
	o := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send a signed Stripe webhook to the billing service",
		Long: `Builds a Stripe event of the given type, signs it with the webhook secret and posts
it to /api/v1/billing/webhooks/stripe. Supported types: checkout.session.completed,
customer.subscription.updated, customer.subscription.deleted, invoice.paid,
invoice.payment_failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(o.secret) == "" {
				return fmt.Errorf("--secret or STRIPE_WEBHOOK_SECRET is required")
			}
			now := time.Now().UTC()
			if o.eventID == "" {
				o.eventID = fmt.Sprintf("evt_test_%d", now.UnixNano())
			}
			payload, err := buildEvent(o, now)
			if err != nil {
				return err
			}
			status, body, err := postSigned(o.baseURL, o.secret, payload, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event_id=%s status=%d body=%s\n", o.eventID, status, strings.TrimSpace(body))
			if status >= 300 {
				return fmt.Errorf("webhook rejected with status %d", status)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.baseURL, "base-url", config.String("BASE_URL", "http://localhost:8084"), "billing service base url")
	f.StringVar(&o.secret, "secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "webhook signing secret (whsec_...)")
	f.StringVar(&o.eventType, "type", "checkout.session.completed", "event type")
	f.StringVar(&o.eventID, "event-id", "", "event id (generated when empty)")
	f.StringVar(&o.email, "email", "reader@example.com", "customer e-mail")
	f.StringVar(&o.customerID, "customer", "cus_test", "customer id")
	f.StringVar(&o.subscriptionID, "subscription", "sub_test", "subscription id")
	f.StringVar(&o.priceID, "price", "price_pro_monthly", "price id")
	f.StringVar(&o.interval, "interval", "month", "recurring interval (month or year)")
	f.StringVar(&o.status, "status", "active", "provider subscription status")
	f.BoolVar(&o.cancelAtEnd, "cancel-at-period-end", false, "subscription cancels at period end")
	f.Int64Var(&o.amount, "amount", 900, "invoice amount in minor units")
	f.StringVar(&o.currency, "currency", "usd", "invoice currency")
	f.Int64Var(&o.attempt, "attempt", 1, "invoice attempt count")
	return cmd
}

func buildEvent(o simulateOptions, now time.Time) ([]byte, error) {
	var object map[string]any
	switch o.eventType {
	case "checkout.session.completed":
		object = map[string]any{
			"id":               "cs_test_" + o.eventID,
			"object":           "checkout.session",
			"mode":             "subscription",
			"customer":         o.customerID,
			"subscription":     o.subscriptionID,
			"customer_details": map[string]any{"email": o.email},
		}
	case "customer.subscription.updated", "customer.subscription.deleted":
		object = subscriptionObject(o, now)
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		object = map[string]any{
			"id":            "in_test_" + o.eventID,
			"object":        "invoice",
			"customer":      o.customerID,
			"subscription":  o.subscriptionID,
			"currency":      o.currency,
			"amount_due":    o.amount,
			"attempt_count": o.attempt,
		}
		if o.eventType == "invoice.payment_failed" {
			object["amount_paid"] = 0
		} else {
			object["amount_paid"] = o.amount
			object["status_transitions"] = map[string]any{"paid_at": now.Unix()}
		}
	default:
		return nil, fmt.Errorf("unsupported event type %q", o.eventType)
	}

	return json.Marshal(map[string]any{
		"id":          o.eventID,
		"object":      "event",
		"type":        o.eventType,
		"created":     now.Unix(),
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
}

func subscriptionObject(o simulateOptions, now time.Time) map[string]any {
	end := now.AddDate(0, 1, 0)
	if o.interval == "year" {
		end = now.AddDate(1, 0, 0)
	}
	status := o.status
	if o.eventType == "customer.subscription.deleted" {
		status = "canceled"
	}
	return map[string]any{
		"id":                   o.subscriptionID,
		"object":               "subscription",
		"customer":             o.customerID,
		"status":               status,
		"cancel_at_period_end": o.cancelAtEnd,
		"current_period_start": now.Unix(),
		"current_period_end":   end.Unix(),
		"items": map[string]any{
			"object": "list",
			"data": []any{map[string]any{
				"id":     "si_test",
				"object": "subscription_item",
				"price": map[string]any{
					"id":        o.priceID,
					"object":    "price",
					"recurring": map[string]any{"interval": o.interval},
				},
			}},
		},
	}
}

func postSigned(baseURL, secret string, payload []byte, at time.Time) (int, string, error) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, string(body), nil
}
