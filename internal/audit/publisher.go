package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
)

// natsPublisher mirrors appended entries onto NATS subjects named
// <prefix>.<action>. Publishing is strictly best-effort: failures are
// logged and dropped because the file log is the source of truth.
type natsPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func newNATSPublisher(cfg config.NATSConfig, logger *zap.Logger) (*natsPublisher, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "decisions"
	}

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if cfg.Credentials.IsSet() {
		opts = append(opts, nats.Token(cfg.Credentials.Value()))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("audit publisher connected", zap.String("url", cfg.URL), zap.String("subject_prefix", prefix))
	return &natsPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

func (p *natsPublisher) publish(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		p.logger.Warn("audit publish failed",
			zap.Uint64("sequence", entry.Sequence),
			zap.Error(err))
		return
	}

	subject := p.prefix + "." + string(entry.Action)
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("audit publish failed",
			zap.String("subject", subject),
			zap.Uint64("sequence", entry.Sequence),
			zap.Error(err))
	}
}

func (p *natsPublisher) close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
