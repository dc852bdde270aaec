package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Subscriber feeds messages from a paho client into a Router.
type Subscriber struct {
	router *Router
	qos    byte
	log    zerolog.Logger
}

// NewSubscriber creates a subscriber for router.
func NewSubscriber(router *Router, log zerolog.Logger) *Subscriber {
	return &Subscriber{router: router, qos: 1, log: log}
}

// Subscribe registers every router topic on c.
func (s *Subscriber) Subscribe(c paho.Client) error {
	filters := make(map[string]byte)
	for _, t := range s.router.Topics() {
		filters[t] = s.qos
	}
	token := c.SubscribeMultiple(filters, s.onMessage)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info().Int("topics", len(filters)).Msg("Subscribed")
	return nil
}

// Resubscribe is an OnConnect hook that restores subscriptions.
func (s *Subscriber) Resubscribe(c paho.Client) {
	if err := s.Subscribe(c); err != nil {
		s.log.Error().Err(err).Msg("Resubscribe failed")
	}
}

func (s *Subscriber) onMessage(_ paho.Client, m paho.Message) {
	_ = s.router.Route(m.Topic(), m.Payload())
}
