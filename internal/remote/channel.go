package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/infrastructure/mqtt"
)

// SourceMQTT is the dispatch source of batches received over MQTT.
const SourceMQTT = "mqtt"

// DefaultEventBuffer is the number of events queued for publishing before
// new ones are dropped.
const DefaultEventBuffer = 128

// DefaultInboxSize is the number of received batches waiting to run before
// new ones are dropped.
const DefaultInboxSize = 64

// Transport is the subset of *mqtt.Client the channel needs.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Topics() mqtt.Topics
	QoS() byte
}

// Handler runs one raw batch. *dispatch.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, meta dispatch.Meta, body []byte) dispatch.Response
}

// Logger is the logging interface used by the channel.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stats are cumulative channel counters.
type Stats struct {
	Received      uint64 `json:"received"`
	Dropped       uint64 `json:"dropped"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
	EventsDropped uint64 `json:"events_dropped"`
}

// Channel accepts command batches on <prefix>/<device>/execute[/<corr>] and
// answers on <prefix>/<device>/results[/<corr>]. It also implements
// dispatch.Observer, publishing a command.executed event per command.
//
// Batches never run on the MQTT router goroutine: publishing the response
// waits for the broker's ack, which that goroutine delivers. Received
// batches are queued and run in arrival order by one worker.
type Channel struct {
	transport Transport
	handler   Handler
	logger    Logger
	events    bool

	ctx    context.Context //nolint:containedctx // message handlers run on paho goroutines
	inbox  chan inbound
	queue  chan dispatch.Event
	wg     sync.WaitGroup
	closed atomic.Bool

	received      atomic.Uint64
	inboxDropped  atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	dropped       atomic.Uint64
}

type inbound struct {
	topic   string
	payload []byte
}

// Option configures a Channel.
type Option func(*Channel)

// WithEvents enables publishing command.executed events.
func WithEvents(enabled bool) Option {
	return func(c *Channel) { c.events = enabled }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChannel creates a channel over transport that runs batches through h.
func NewChannel(transport Transport, h Handler, opts ...Option) *Channel {
	c := &Channel{
		transport: transport,
		handler:   h,
		logger:    noopLogger{},
		events:    true,
		inbox:     make(chan inbound, DefaultInboxSize),
		queue:     make(chan dispatch.Event, DefaultEventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start starts the batch worker and the event publisher, then subscribes
// to the execute topics. Batches run under ctx; cancelling it stops both
// goroutines.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx = ctx
	c.wg.Add(2)
	go c.runBatches(ctx)
	go c.publishEvents(ctx)

	topic := c.transport.Topics().ExecuteFilter()
	if err := c.transport.Subscribe(topic, c.transport.QoS(), c.handleMessage); err != nil {
		c.Stop()
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}

	c.logger.Info("mqtt command channel started", "topic", topic)
	return nil
}

// Stop unsubscribes, runs the batches already queued and waits for the
// event publisher to drain.
func (c *Channel) Stop() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	topic := c.transport.Topics().ExecuteFilter()
	if err := c.transport.Unsubscribe(topic); err != nil {
		c.logger.Debug("unsubscribing", "topic", topic, "error", err)
	}
	close(c.inbox)
	close(c.queue)
	c.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Received:      c.received.Load(),
		Dropped:       c.inboxDropped.Load(),
		Published:     c.published.Load(),
		PublishErrors: c.publishErrors.Load(),
		EventsDropped: c.dropped.Load(),
	}
}

// handleMessage queues one batch for the worker. It never blocks the MQTT
// router: when the inbox is full the batch is dropped and counted.
func (c *Channel) handleMessage(topic string, payload []byte) (err error) {
	c.received.Add(1)
	if c.closed.Load() {
		return nil
	}
	defer func() {
		// Stop may close the inbox between the check above and the send.
		if recover() != nil {
			err = nil
		}
	}()
	select {
	case c.inbox <- inbound{topic: topic, payload: payload}:
	default:
		c.inboxDropped.Add(1)
		c.logger.Warn("mqtt command inbox full, batch dropped", "topic", topic)
	}
	return nil
}

func (c *Channel) runBatches(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-c.inbox:
			if !ok {
				return
			}
			if err := c.runBatch(msg.topic, msg.payload); err != nil {
				c.logger.Warn("mqtt batch response", "topic", msg.topic, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runBatch runs one batch and publishes the response. The correlation
// suffix of the execute topic becomes the request id.
func (c *Channel) runBatch(topic string, payload []byte) error {
	topics := c.transport.Topics()

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	resp := c.handler.Handle(ctx, dispatch.Meta{
		RequestID: topics.Correlation(topic),
		Source:    SourceMQTT,
	}, payload)

	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if err := c.transport.Publish(topics.Results(topic), body, c.transport.QoS(), false); err != nil {
		c.publishErrors.Add(1)
		return fmt.Errorf("publishing response: %w", err)
	}
	c.published.Add(1)
	return nil
}

// CommandExecuted implements dispatch.Observer. It never blocks: events
// are dropped when the queue is full.
func (c *Channel) CommandExecuted(_ context.Context, rec dispatch.Record) {
	if !c.events || c.closed.Load() {
		return
	}
	defer func() {
		// Stop may close the queue between the check above and the send.
		recover() //nolint:errcheck // send on closed queue
	}()
	select {
	case c.queue <- dispatch.NewEvent(rec):
	default:
		c.dropped.Add(1)
	}
}

func (c *Channel) publishEvents(ctx context.Context) {
	defer c.wg.Done()
	topic := c.transport.Topics().Event(dispatch.EventCommandExecuted)
	for {
		select {
		case ev, ok := <-c.queue:
			if !ok {
				return
			}
			c.publishEvent(topic, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) publishEvent(topic string, ev dispatch.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.transport.Publish(topic, body, 0, false); err != nil {
		c.publishErrors.Add(1)
		c.logger.Debug("publishing event", "topic", topic, "error", err)
		return
	}
	c.published.Add(1)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
