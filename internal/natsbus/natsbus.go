// Package natsbus mirrors production records and shift summaries to NATS.
//
// Subjects are derived from the MQTT output topic, with "/" replaced by "."
// and the machine code appended, e.g. topic.get.productionrecord.M1, so
// consumers can filter per machine with wildcards.
package natsbus

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/logic"
	"github.com/sweeney/line-oee/internal/mqtt"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Options configure the NATS connection.
type Options struct {
	URL      string
	Name     string
	Username string
	Password string
	Topics   mqtt.Topics
	Log      zerolog.Logger
}

// Publisher sends documents to NATS. It satisfies engine.Publisher.
type Publisher struct {
	conn Conn
	base string
	log  zerolog.Logger
}

// Connect dials NATS and returns a publisher on the connection. The client
// reconnects on its own; publishes made while disconnected are buffered by
// the nats client up to its reconnect buffer size.
func Connect(o Options) (*Publisher, error) {
	log := o.Log
	opts := []nats.Option{
		nats.Name(o.Name),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	if o.Username != "" {
		opts = append(opts, nats.UserInfo(o.Username, o.Password))
	}

	nc, err := nats.Connect(o.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return New(nc, o.Topics, log), nil
}

// New creates a publisher on an existing connection.
func New(conn Conn, topics mqtt.Topics, log zerolog.Logger) *Publisher {
	return &Publisher{
		conn: conn,
		base: Subject(topics.Name(mqtt.TopicProduction)),
		log:  log,
	}
}

// Subject converts an MQTT topic to a NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// token makes a machine code safe to use as one subject token.
func token(machine string) string {
	t := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, strings.TrimSpace(machine))
	if t == "" {
		return "_"
	}
	return t
}

// SubjectFor returns the subject a machine's documents are sent on.
func (p *Publisher) SubjectFor(machine string) string {
	return p.base + "." + token(machine)
}

// PublishRecord sends a production record.
func (p *Publisher) PublishRecord(r logic.ProductionRecord) error {
	payload, err := mqtt.FormatRecord(r)
	if err != nil {
		return fmt.Errorf("format record: %w", err)
	}
	return p.publish(p.SubjectFor(r.MachineCode), payload)
}

// PublishSummary sends a shift summary.
func (p *Publisher) PublishSummary(s logic.ShiftSummary) error {
	payload, err := mqtt.FormatSummary(s)
	if err != nil {
		return fmt.Errorf("format summary: %w", err)
	}
	return p.publish(p.SubjectFor(s.MachineCode), payload)
}

func (p *Publisher) publish(subject string, payload []byte) error {
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	p.log.Debug().Str("subject", subject).Int("bytes", len(payload)).Msg("Mirrored to NATS")
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() error {
	p.conn.Close()
	return nil
}
