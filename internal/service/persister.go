package service

import (
	"context"

	"github.com/bytedance/sonic"

	"github.com/avencia/graphrun/pkg/domain"
)

// persistMessages appends every graph message to the message store. The
// runner publishes and moves on; persistence rides the subscription so a
// slow disk never stalls a session.
func (s *Service) persistMessages(ctx context.Context, messages <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-messages:
			if !ok {
				return
			}
			var env domain.Envelope
			if err := sonic.Unmarshal(payload, &env); err != nil {
				s.logger.Warn("discarding malformed graph message", "err", err)
				continue
			}
			if err := s.messages.Append(ctx, &env); err != nil {
				s.logger.Error("failed to store graph message", "session_id", env.SessionID, "err", err)
				continue
			}
			if s.metrics != nil {
				s.metrics.MessagesStored.Inc()
			}
		}
	}
}

// persistStatuses applies status updates to the session rows. The store
// enforces the terminal-transition guard, so a late expired event from the
// monitor cannot rewrite a finished session.
func (s *Service) persistStatuses(ctx context.Context, statuses <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-statuses:
			if !ok {
				return
			}
			var upd domain.StatusUpdate
			if err := sonic.Unmarshal(payload, &upd); err != nil {
				s.logger.Warn("discarding malformed status update", "err", err)
				continue
			}

			data := upd.StatusData
			if upd.Error != "" {
				if data == nil {
					data = map[string]any{}
				}
				data["error"] = upd.Error
			}
			if err := s.sessions.UpdateStatus(ctx, upd.SessionID, upd.Status, data); err != nil {
				s.logger.Error("failed to update session status",
					"session_id", upd.SessionID, "status", upd.Status, "err", err)
				continue
			}

			// Terminal sessions no longer need a timeout watcher.
			if s.monitor != nil && upd.Status.Terminal() {
				s.monitor.Stop(upd.SessionID)
			}
		}
	}
}
