package remote

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/periphctl/internal/module"
)

type published struct {
	topic   string
	payload []byte
}

// fakeTransport records subscriptions and publishes in memory.
type fakeTransport struct {
	topics mqtt.Topics

	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  []published
	publishErr error
}

func newFakeTransport(t *testing.T) *fakeTransport {
	t.Helper()
	topics, err := mqtt.NewTopics("periphctl", "bench-01")
	if err != nil {
		t.Fatalf("NewTopics() error = %v", err)
	}
	return &fakeTransport{topics: topics, handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeTransport) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic: topic, payload: payload})
	return nil
}

func (f *fakeTransport) Topics() mqtt.Topics { return f.topics }
func (f *fakeTransport) QoS() byte           { return 1 }

// deliver simulates the broker routing a message to the execute filter.
func (f *fakeTransport) deliver(t *testing.T, topic string, payload string) error {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[f.topics.ExecuteFilter()]
	f.mu.Unlock()
	if h == nil {
		t.Fatal("execute filter not subscribed")
	}
	return h(topic, []byte(payload))
}

// waitPublished waits until n messages were published on topic.
func (f *fakeTransport) waitPublished(t *testing.T, topic string, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := f.publishedOn(topic)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("published %d messages on %s, want %d", len(got), topic, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeTransport) publishedOn(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, string(p.payload))
		}
	}
	return out
}

// recordingHandler captures the meta of each batch. When gate is set each
// batch signals entered and then waits for gate.
type recordingHandler struct {
	mu    sync.Mutex
	metas []dispatch.Meta
	resp  dispatch.Response

	entered chan struct{}
	gate    chan struct{}
}

func (h *recordingHandler) Handle(_ context.Context, meta dispatch.Meta, _ []byte) dispatch.Response {
	if h.gate != nil {
		h.entered <- struct{}{}
		<-h.gate
	}
	h.mu.Lock()
	h.metas = append(h.metas, meta)
	h.mu.Unlock()
	return h.resp
}

func (h *recordingHandler) handled() []dispatch.Meta {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]dispatch.Meta(nil), h.metas...)
}

func TestChannelAnswersOnResults(t *testing.T) {
	transport := newFakeTransport(t)
	reg := module.NewRegistry()
	reg.Seal()
	d := dispatch.NewDispatcher(dispatch.NewExecutor(reg), dispatch.StaticSecret("secret-key"), nil)

	ch := NewChannel(transport, d, WithEvents(false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ch.Stop()

	tests := []struct {
		name    string
		topic   string
		payload string
		results string
		want    string
	}{
		{
			name:    "plain execute",
			topic:   "periphctl/bench-01/execute",
			payload: `{"api_key":"secret-key","commands":[{"module":"ghost","command":"x"}]}`,
			results: "periphctl/bench-01/results",
			want:    `{"results":[{"error":"Module not found"}]}`,
		},
		{
			name:    "correlated execute",
			topic:   "periphctl/bench-01/execute/req-7",
			payload: `{"api_key":"wrong","commands":[]}`,
			results: "periphctl/bench-01/results/req-7",
			want:    `{"error":"Invalid API key"}`,
		},
		{
			name:    "malformed",
			topic:   "periphctl/bench-01/execute/req-8",
			payload: `{not json`,
			results: "periphctl/bench-01/results/req-8",
			want:    `{"error":"Failed to parse JSON"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := transport.deliver(t, tt.topic, tt.payload); err != nil {
				t.Fatalf("handler error = %v", err)
			}
			got := transport.waitPublished(t, tt.results, 1)
			if got[len(got)-1] != tt.want {
				t.Errorf("response = %s, want %s", got[len(got)-1], tt.want)
			}
		})
	}

	if s := ch.Stats(); s.Received != 3 || s.Published != 3 {
		t.Errorf("Stats() = %+v, want 3 received and 3 published", s)
	}
}

func TestChannelUsesCorrelationAsRequestID(t *testing.T) {
	transport := newFakeTransport(t)
	h := &recordingHandler{resp: dispatch.Response{}}
	ch := NewChannel(transport, h, WithEvents(false))
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ch.Stop()

	_ = transport.deliver(t, "periphctl/bench-01/execute/abc", `{}`) //nolint:errcheck // checked via metas
	_ = transport.deliver(t, "periphctl/bench-01/execute", `{}`)     //nolint:errcheck // checked via metas
	transport.waitPublished(t, "periphctl/bench-01/results", 1)

	metas := h.handled()
	if len(metas) != 2 {
		t.Fatalf("handled %d batches, want 2", len(metas))
	}
	if metas[0].RequestID != "abc" || metas[0].Source != SourceMQTT {
		t.Errorf("meta[0] = %+v", metas[0])
	}
	if metas[1].RequestID != "" {
		t.Errorf("meta[1].RequestID = %q, want empty", metas[1].RequestID)
	}
}

func TestChannelPublishError(t *testing.T) {
	transport := newFakeTransport(t)
	transport.publishErr = mqtt.ErrNotConnected
	ch := NewChannel(transport, &recordingHandler{}, WithEvents(false))
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ch.Stop()

	if err := transport.deliver(t, "periphctl/bench-01/execute", `{}`); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	// Stop runs the queued batch before returning.
	ch.Stop()
	if s := ch.Stats(); s.PublishErrors != 1 || s.Published != 0 {
		t.Errorf("Stats() = %+v, want 1 publish error", s)
	}
}

func TestChannelRunsBatchesOffTheRouter(t *testing.T) {
	transport := newFakeTransport(t)
	h := &recordingHandler{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	ch := NewChannel(transport, h, WithEvents(false))
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The first batch occupies the worker.
	if err := transport.deliver(t, "periphctl/bench-01/execute/first", `{}`); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	select {
	case <-h.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first batch")
	}

	// The message handler keeps returning immediately while the worker is
	// busy; once the inbox is full further batches are dropped.
	returned := make(chan struct{})
	go func() {
		for i := 0; i < DefaultInboxSize+1; i++ {
			_ = transport.deliver(t, "periphctl/bench-01/execute", `{}`) //nolint:errcheck // counted in stats
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("message handler blocked behind a running batch")
	}
	if s := ch.Stats(); s.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped)
	}

	// Release the worker: every queued batch runs and is answered.
	go func() {
		for range h.entered {
		}
	}()
	close(h.gate)
	transport.waitPublished(t, "periphctl/bench-01/results", DefaultInboxSize)
	ch.Stop()
	close(h.entered)

	if got := len(h.handled()); got != DefaultInboxSize+1 {
		t.Errorf("handled %d batches, want %d", got, DefaultInboxSize+1)
	}
}

func TestChannelPublishesEvents(t *testing.T) {
	transport := newFakeTransport(t)
	ch := NewChannel(transport, &recordingHandler{})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ch.CommandExecuted(context.Background(), dispatch.Record{
		RequestID: "r1",
		Source:    "http",
		Module:    "gpio",
		Command:   "digitalRead",
		Outcome:   dispatch.Failure(dispatch.MsgNotInitialized),
		Started:   time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Microsecond,
	})
	ch.Stop()

	got := transport.publishedOn("periphctl/bench-01/events/command.executed")
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	var ev dispatch.Event
	if err := json.Unmarshal([]byte(got[0]), &ev); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if ev.OK || ev.Error != dispatch.MsgNotInitialized || ev.DurationUS != 1500 || ev.Module != "gpio" {
		t.Errorf("event = %+v", ev)
	}

	// After Stop events are ignored.
	ch.CommandExecuted(context.Background(), dispatch.Record{})
	if s := ch.Stats(); s.EventsDropped != 0 {
		t.Errorf("EventsDropped = %d, want 0", s.EventsDropped)
	}
}
