package services

import (
	"context"
	"errors"
	"fmt"

	"drivewatch/config"

	"go.uber.org/zap"
)

// ErrStreamClosed is returned by a source when the remote end closes the
// channel while the subscription is still wanted.
var ErrStreamClosed = errors.New("telemetry stream closed by remote")

// ErrUnsupportedSource is returned for an unknown TELEMETRY_SOURCE.
var ErrUnsupportedSource = errors.New("unsupported telemetry source")

// SourceHandler receives the signals of one subscription.
type SourceHandler interface {
	// OnOpen reports that the channel is connected.
	OnOpen()
	// OnMessage delivers one raw payload.
	OnMessage(payload []byte)
}

// Source is a push channel delivering telemetry payloads.
//
// Subscribe blocks until ctx is cancelled, in which case it returns nil, or
// until the channel fails, in which case it returns the error. Sources do not
// reconnect on their own.
type Source interface {
	Subscribe(ctx context.Context, url string, handler SourceHandler) error
}

// NewSource builds the push source selected by the configuration
func NewSource(cfg *config.Config, logger *zap.Logger) (Source, error) {
	switch cfg.TelemetrySource {
	case config.SourceSSE:
		return NewSSESource(logger), nil
	case config.SourceMQTT:
		return NewMQTTSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, cfg.TelemetrySource)
	}
}
