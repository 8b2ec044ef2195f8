package services

import (
	"context"
	"fmt"

	"github.com/alphagov/notifications-api-sub002/internal/metrics"
	"github.com/alphagov/notifications-api-sub002/internal/models"
	"go.uber.org/zap"
)

// OperationalAlerter tells the support desk when a live alert goes out. It is
// best-effort: failures are logged and counted, never returned.
type OperationalAlerter struct {
	tickets Ticketer
	log     *zap.Logger
}

func NewOperationalAlerter(tickets Ticketer, log *zap.Logger) *OperationalAlerter {
	return &OperationalAlerter{tickets: tickets, log: log}
}

func (a *OperationalAlerter) NotifyLiveBroadcastSent(ctx context.Context, msg *models.BroadcastMessage) {
	ticket := Ticket{
		Subject:    "Live broadcast sent",
		Message:    liveBroadcastTicketBody(msg),
		TicketType: TicketTypeIncident,
		P1:         true,
	}
	if err := a.tickets.SendTicket(ctx, ticket); err != nil {
		metrics.PostCommitFailuresTotal.WithLabelValues(metrics.StageOpsAlert).Inc()
		a.log.Error("failed to notify support of live broadcast",
			zap.String("broadcast_message_id", msg.ID.String()),
			zap.Error(fmt.Errorf("%w: %w", ErrOperationalAlertFailed, err)),
		)
	}
}

func liveBroadcastTicketBody(msg *models.BroadcastMessage) string {
	body := fmt.Sprintf("Broadcast sent\n\nService: %s\nBroadcast: %s\n", msg.ServiceID, msg.ID)
	if msg.ApprovedAt != nil {
		body += fmt.Sprintf("Approved at: %s\n", msg.ApprovedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if msg.Areas.IsSet() && len(msg.Areas.Names()) > 0 {
		body += fmt.Sprintf("Areas: %v\n", msg.Areas.Names())
	}
	body += "\nContent:\n" + msg.Content + "\n"
	return body
}
