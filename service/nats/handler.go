package nats

import (
	"context"

	"github.com/brojonat/solwatch/service/tracker"
)

// AccountEventHandler is a dispatch handler that publishes every account
// change to JetStream.
type AccountEventHandler struct {
	publisher Publisher
}

// NewAccountEventHandler creates a handler publishing through p.
func NewAccountEventHandler(p Publisher) *AccountEventHandler {
	return &AccountEventHandler{publisher: p}
}

func (h *AccountEventHandler) Name() string { return "nats_account_events" }

func (h *AccountEventHandler) Handle(ctx context.Context, ev tracker.ChangeEvent) error {
	return h.publisher.PublishAccountEvent(ctx, FromChangeEvent(ev))
}
