package bridge

import (
	"context"

	"github.com/subsubl/hass-quixi-bridge/internal/hass"
)

// HassHub adapts *hass.Client to HubClient.
type HassHub struct {
	*hass.Client
}

// Dial opens an unauthenticated hub session.
func (h HassHub) Dial(ctx context.Context) (HubConn, error) {
	conn, err := h.Client.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

var _ HubClient = HassHub{}
