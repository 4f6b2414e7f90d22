package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

const (
	// DefaultSubjectPrefix is the base subject for forwarded events.
	DefaultSubjectPrefix = "meetprobe.events"

	sinkName     = "nats"
	flushTimeout = 2 * time.Second
)

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL
	URL string

	// SubjectPrefix is the base subject; events go to <prefix>.<event type>
	SubjectPrefix string

	Username string
	Password string
	Token    string

	// ConnectTimeout is the connection timeout
	ConnectTimeout time.Duration

	// Name identifies this client to the server
	Name string
}

// NATSPublisher forwards telemetry events to NATS.
type NATSPublisher struct {
	conn   conn
	prefix string
	logger *logging.Logger
}

// NewNATSPublisher connects to NATS. The connection is established before
// returning so a bad URL fails the run up front.
func NewNATSPublisher(cfg NATSConfig, logger *logging.Logger) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "meetprobe"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePublish, "connect to NATS").
			WithContext("url", cfg.URL)
	}
	return newPublisher(nc, cfg.SubjectPrefix, logger), nil
}

func newPublisher(c conn, prefix string, logger *logging.Logger) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &NATSPublisher{conn: c, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, eventType telemetry.EventType) string {
	return fmt.Sprintf("%s.%s", prefix, eventType)
}

// Payload encodes an event for the wire.
func Payload(event telemetry.Event) ([]byte, error) {
	return json.Marshal(event)
}

// Publish sends one event.
func (p *NATSPublisher) Publish(event telemetry.Event) error {
	data, err := Payload(event)
	if err != nil {
		telemetry.EventsPublished.WithLabelValues(sinkName, "error").Inc()
		return apperrors.Wrap(err, apperrors.ErrCodePublish, "encode event")
	}
	if err := p.conn.Publish(Subject(p.prefix, event.Type), data); err != nil {
		telemetry.EventsPublished.WithLabelValues(sinkName, "error").Inc()
		return apperrors.Wrap(err, apperrors.ErrCodePublish, "publish event").
			WithContext("type", string(event.Type)).
			WithRetryable(true)
	}
	telemetry.EventsPublished.WithLabelValues(sinkName, "ok").Inc()
	return nil
}

// Forward publishes events until the channel closes or ctx is done, then
// flushes. Publish failures are logged and never stop forwarding.
func (p *NATSPublisher) Forward(ctx context.Context, events <-chan telemetry.Event) error {
	defer p.flush()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Publish(event); err != nil {
				p.logger.Warn("event not forwarded",
					"sink", sinkName,
					"type", string(event.Type),
					"error", err.Error(),
				)
			}
		}
	}
}

func (p *NATSPublisher) flush() {
	if err := p.conn.FlushTimeout(flushTimeout); err != nil {
		p.logger.Warn("flush failed", "sink", sinkName, "error", err.Error())
	}
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
