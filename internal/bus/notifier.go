package bus

import (
	"log/slog"
)

// SubjectTicketsChanged carries the hint that ticket data changed and
// subscribers should refetch. The payload is empty.
const SubjectTicketsChanged = "desk.tickets.changed"

// TicketNotifier publishes ticket-change hints. Publishing is
// fire-and-forget; failures are logged and never surfaced to the
// session.
type TicketNotifier struct {
	client *Client
	log    *slog.Logger
}

func NewTicketNotifier(client *Client, log *slog.Logger) *TicketNotifier {
	return &TicketNotifier{
		client: client,
		log:    log.With(slog.String("component", "ticket-notifier")),
	}
}

func (n *TicketNotifier) TicketsChanged() {
	if n == nil || n.client == nil {
		return
	}
	if err := n.client.Conn().Publish(SubjectTicketsChanged, nil); err != nil {
		n.log.Warn("tickets-changed publish failed", slog.String("error", err.Error()))
	}
}
