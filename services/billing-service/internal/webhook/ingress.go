// Package webhook authenticates Stripe webhook deliveries and turns them into envelopes.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	SignatureHeader  = "Stripe-Signature"
	DefaultTolerance = webhook.DefaultTolerance
	MaxBodyBytes     = 1 << 20
)

var (
	// ErrUnauthenticated covers a missing header, a bad signature and a stale timestamp.
	ErrUnauthenticated = errors.New("webhook: unauthenticated")
	// ErrMalformed means the payload was authentic but could not be decoded.
	ErrMalformed = errors.New("webhook: malformed payload")
)

// Envelope is a verified event. Payload is the provider object the event is about
// (data.object), left undecoded for the handler that owns the event type.
type Envelope struct {
	EventID   string          `validate:"required"`
	EventType string          `validate:"required"`
	Created   time.Time       `validate:"-"`
	Payload   json.RawMessage `validate:"required"`
}

// Ingress verifies signatures with a shared secret. It is safe for concurrent use.
type Ingress struct {
	secret    string
	tolerance time.Duration
	validate  *validator.Validate
}

func NewIngress(secret string, tolerance time.Duration) (*Ingress, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook: signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Ingress{secret: secret, tolerance: tolerance, validate: validator.New()}, nil
}

// Parse authenticates body against signatureHeader and decodes it.
func (i *Ingress) Parse(body []byte, signatureHeader string) (Envelope, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return Envelope{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, SignatureHeader)
	}

	evt, err := webhook.ConstructEventWithOptions(body, signatureHeader, i.secret, webhook.ConstructEventOptions{
		Tolerance:                i.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return Envelope{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return i.envelope(evt)
}

func (i *Ingress) envelope(evt stripe.Event) (Envelope, error) {
	env := Envelope{
		EventID:   strings.TrimSpace(evt.ID),
		EventType: strings.TrimSpace(string(evt.Type)),
	}
	if evt.Created > 0 {
		env.Created = time.Unix(evt.Created, 0).UTC()
	}
	if evt.Data != nil {
		env.Payload = evt.Data.Raw
	}
	if err := i.validate.Struct(env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
