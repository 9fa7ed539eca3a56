// Package forward ships security events to optional external sinks.
package forward

import (
	"context"
	"encoding/json"

	"throttleguard/internal/securitylog/models"
)

// Forwarder delivers one event to an external sink.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, event models.Event) error
}

// encode returns the partition key (client IP) and JSON payload for event.
func encode(event models.Event) (key, value []byte, err error) {
	value, err = json.Marshal(event)
	if err != nil {
		return nil, nil, err
	}
	return []byte(event.ClientInfo.IP), value, nil
}
