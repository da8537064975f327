package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rexdesk/rex-core/internal/config"
	"github.com/rexdesk/rex-core/internal/desk"
	"github.com/rexdesk/rex-core/internal/protocol"
	"github.com/rexdesk/rex-core/internal/session"
	"github.com/rexdesk/rex-core/internal/transport"
)

// gatewayDialer opens realtime connections through the desk gateway,
// minting an ephemeral bearer token per connection when the gateway
// requires one. Each reconnect gets a fresh token.
type gatewayDialer struct {
	cfg  config.GatewayConfig
	desk *desk.Client
	log  *slog.Logger
}

func (d *gatewayDialer) Dial(ctx context.Context, onEvent func(protocol.ServerEvent), onClosed func(transport.CloseCause)) (session.Conn, error) {
	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d.cfg.DialTimeout)*time.Millisecond)
		defer cancel()
	}

	header := http.Header{}
	if d.cfg.TokenEnabled {
		secret, err := d.desk.SessionSecret(ctx)
		if err != nil {
			return nil, fmt.Errorf("mint session token: %w", err)
		}
		header.Set("Authorization", "Bearer "+secret)
	}

	return transport.Dial(ctx, d.cfg.RealtimeURL, header, onEvent, onClosed, d.log)
}
