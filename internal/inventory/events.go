package inventory

import (
	"context"

	"github.com/ariefcatur/go-surplus-food/internal/kafka"
)

const (
	EventListingSoldOut   = "ListingSoldOut"
	EventListingRestocked = "ListingRestocked"
)

type StockEventPayload struct {
	ListingID string `json:"listing_id"`
	Available int    `json:"available_quantity"`
}

// KafkaSink publishes stock transitions to the listing topic so search
// indexes and realtime feeds can react.
type KafkaSink struct {
	Producer *kafka.Producer
	Service  string
}

func (s KafkaSink) SoldOut(_ context.Context, listingID string) {
	s.publish(EventListingSoldOut, StockEventPayload{ListingID: listingID})
}

func (s KafkaSink) Restocked(_ context.Context, listingID string, available int) {
	s.publish(EventListingRestocked, StockEventPayload{ListingID: listingID, Available: available})
}

func (s KafkaSink) publish(eventType string, p StockEventPayload) {
	s.Producer.PublishEnvelope(kafka.NewEnvelope(eventType, s.Service, p.ListingID, p))
}
