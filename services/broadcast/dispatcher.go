// Package broadcast fans one payload out to every subscriber of a feed kind.
package broadcast

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"market_feed_backend/metrics"
	"market_feed_backend/models"
	"market_feed_backend/services/registry"
)

// Dispatcher delivers payloads to registry subscribers
type Dispatcher struct {
	registry *registry.Registry
	logger   *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher over reg
func NewDispatcher(reg *registry.Registry, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{registry: reg, logger: logger.Named("broadcast")}
}

// Send serializes payload once and delivers it to every open subscriber of
// kind. A failed delivery is logged and skipped. It returns how many
// subscribers received the payload.
func (d *Dispatcher) Send(kind models.FeedKind, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return d.SendRaw(kind, data), nil
}

// SendRaw delivers an already serialized payload
func (d *Dispatcher) SendRaw(kind models.FeedKind, data []byte) int {
	delivered := 0
	for _, sub := range d.registry.Snapshot() {
		if sub.Kind != kind || !sub.Conn.IsOpen() {
			continue
		}
		if err := sub.Conn.Send(data); err != nil {
			metrics.BroadcastDeliveries.WithLabelValues(string(kind), "error").Inc()
			d.logger.Warnw("Failed to deliver payload", "subscriber", sub.ID.String(), "feed", string(kind), "error", err)
			continue
		}
		metrics.BroadcastDeliveries.WithLabelValues(string(kind), "ok").Inc()
		delivered++
	}

	d.logger.Debugf("Broadcast %d bytes of %s to %d subscribers", len(data), kind, delivered)
	return delivered
}
