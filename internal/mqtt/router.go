package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sweeney/line-oee/internal/logic"
)

// ErrUnknownTopic is returned for messages on topics the router does not serve.
var ErrUnknownTopic = errors.New("unknown topic")

// Handler applies decoded events. *engine.Engine satisfies it.
type Handler interface {
	HandleCounterTick(ctx context.Context, ev logic.CounterTick) error
	HandleVisionResult(ctx context.Context, ev logic.VisionResult) error
	HandleHMIDefect(ctx context.Context, ev logic.HMIDefect) error
	HandleChangeover(ctx context.Context, ev logic.Changeover) error
	HandleDowntimeReason(ctx context.Context, ev logic.DowntimeReason) error
	HandleMasterQuery(ctx context.Context, q logic.MasterQuery) (any, error)
}

// Dispatcher runs work in order per key. *engine.Queue satisfies it.
// Submit waits for backlog space; TrySubmit fails instead and is the only
// form used from the paho callback, which must not block.
type Dispatcher interface {
	Submit(key string, fn func()) error
	TrySubmit(key string, fn func()) error
}

// Replier publishes query answers.
type Replier interface {
	PublishReply(topic string, v any) error
}

// Inline is a Dispatcher that runs work on the caller's goroutine.
type Inline struct{}

// Submit runs fn immediately.
func (Inline) Submit(_ string, fn func()) error {
	fn()
	return nil
}

// TrySubmit runs fn immediately.
func (i Inline) TrySubmit(key string, fn func()) error {
	return i.Submit(key, fn)
}

// queryKey runs master queries on their own worker, apart from any machine.
const queryKey = "\x00query"

var masterTopics = map[string]logic.MasterKind{
	TopicDefectMaster:    logic.MasterDefects,
	TopicProductMaster:   logic.MasterProducts,
	TopicDowntimeMaster:  logic.MasterDowntimeCodes,
	TopicMachineMaster:   logic.MasterMachines,
	TopicMachineDowntime: logic.MasterMachineDowntime,
}

// Router decodes messages by topic and hands them to the Handler. Events are
// queued per machine; errors are logged and never reach the transport.
type Router struct {
	ctx      context.Context
	handler  Handler
	dispatch Dispatcher
	reply    Replier
	topics   Topics
	log      zerolog.Logger
}

// NewRouter creates a router. ctx bounds every handler call.
func NewRouter(ctx context.Context, h Handler, d Dispatcher, reply Replier, topics Topics, log zerolog.Logger) *Router {
	if d == nil {
		d = Inline{}
	}
	return &Router{ctx: ctx, handler: h, dispatch: d, reply: reply, topics: topics, log: log}
}

// Topics returns every topic the router subscribes to.
func (r *Router) Topics() []string {
	out := []string{
		r.topics.Name(TopicCounter),
		r.topics.Name(TopicVision),
		r.topics.Name(TopicHMIDefect),
		r.topics.Name(TopicChangeover),
		r.topics.Name(TopicDowntimeReason),
	}
	for _, t := range []string{TopicDefectMaster, TopicProductMaster, TopicDowntimeMaster, TopicMachineMaster, TopicMachineDowntime} {
		out = append(out, r.topics.Name(t))
	}
	return out
}

// Route decodes one message and dispatches it. The returned error covers
// decoding and queueing only; handler failures are logged.
func (r *Router) Route(topic string, payload []byte) error {
	base := r.topics.Base(topic)
	err := r.route(topic, base, payload)
	if err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("Rejected message")
	}
	return err
}

func (r *Router) route(topic, base string, payload []byte) error {
	if kind, ok := masterTopics[base]; ok {
		var q logic.MasterQuery
		if len(strings.TrimSpace(string(payload))) > 0 {
			if err := json.Unmarshal(payload, &q); err != nil {
				return fmt.Errorf("decode query: %w", err)
			}
		}
		q.Kind = kind
		return r.dispatch.TrySubmit(queryKey, func() { r.answer(topic, q) })
	}

	switch base {
	case TopicCounter:
		var ev logic.CounterTick
		return r.decodeAndQueue(topic, payload, &ev, func() string { return ev.MachineCode },
			func() error { return r.handler.HandleCounterTick(r.ctx, ev) })
	case TopicVision:
		var ev logic.VisionResult
		return r.decodeAndQueue(topic, payload, &ev, func() string { return ev.MachineCode },
			func() error { return r.handler.HandleVisionResult(r.ctx, ev) })
	case TopicHMIDefect:
		var ev logic.HMIDefect
		return r.decodeAndQueue(topic, payload, &ev, func() string { return ev.MachineCode },
			func() error { return r.handler.HandleHMIDefect(r.ctx, ev) })
	case TopicChangeover:
		var ev logic.Changeover
		return r.decodeAndQueue(topic, payload, &ev, func() string { return ev.MachineCode },
			func() error { return r.handler.HandleChangeover(r.ctx, ev) })
	case TopicDowntimeReason:
		var ev logic.DowntimeReason
		return r.decodeAndQueue(topic, payload, &ev, func() string {
			if m := strings.TrimSpace(ev.MachineCode); m != "" {
				return m
			}
			return ev.ID
		}, func() error { return r.handler.HandleDowntimeReason(r.ctx, ev) })
	default:
		return ErrUnknownTopic
	}
}

// decodeAndQueue unmarshals payload into ev and queues handle under the
// machine key read after decoding.
func (r *Router) decodeAndQueue(topic string, payload []byte, ev any, key func() string, handle func() error) error {
	if err := json.Unmarshal(payload, ev); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	machine := strings.TrimSpace(key())
	return r.dispatch.TrySubmit(machine, func() {
		if err := handle(); err != nil {
			r.log.Warn().Err(err).
				Str("topic", topic).
				Str("machine", machine).
				Msg("Event not applied")
		}
	})
}

func (r *Router) answer(topic string, q logic.MasterQuery) {
	v, err := r.handler.HandleMasterQuery(r.ctx, q)
	if err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("Master query failed")
		v = err
	}
	if r.reply == nil {
		return
	}
	if err := r.reply.PublishReply(topic+ReplySuffix, v); err != nil {
		r.log.Error().Err(err).Str("topic", topic).Msg("Failed to publish reply")
	}
}
