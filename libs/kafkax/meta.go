package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Canonical header keys carried on every message published by the outbox.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
