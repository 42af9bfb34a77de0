// Package broker provides point-to-point message delivery between named
// nodes: per-receiver bounded queues with deliberate backpressure and a
// capacity-bounded message history.
package broker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// DefaultQueueSize bounds per-receiver queues when no size is given.
const DefaultQueueSize = 100

// Broker routes messages to per-receiver bounded queues. A send to a
// full queue fails with false rather than blocking; that is
// backpressure, not an error. Safe for concurrent use.
type Broker struct {
	nodeID       string
	maxQueueSize int
	maxHistory   int
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager

	mu      sync.Mutex
	queues  map[string]chan *Message
	history map[string][]*Message
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithQueueSize bounds each receiver's queue (default DefaultQueueSize).
func WithQueueSize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.maxQueueSize = n
		}
	}
}

// WithHistorySize bounds each receiver's message history (default: the
// queue size).
func WithHistorySize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// WithLogger sets the logger for rejected sends.
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics recorder (default: noop).
func WithMetrics(rec observability.MetricsRecorder) BrokerOption {
	return func(b *Broker) {
		if rec != nil {
			b.metrics = rec
		}
	}
}

// WithSpans sets the span manager (default: the global OTel tracer
// provider).
func WithSpans(sm observability.SpanManager) BrokerOption {
	return func(b *Broker) {
		if sm != nil {
			b.spans = sm
		}
	}
}

// New creates a broker identified by nodeID. The node id fills the
// sender field of outgoing messages that do not set one.
func New(nodeID string, opts ...BrokerOption) *Broker {
	b := &Broker{
		nodeID:       nodeID,
		maxQueueSize: DefaultQueueSize,
		metrics:      observability.NoopMetrics{},
		spans:        observability.NewSpanManager(),
		queues:       make(map[string]chan *Message),
		history:      make(map[string][]*Message),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxHistory == 0 {
		b.maxHistory = b.maxQueueSize
	}
	return b
}

// NodeID returns the broker's node identifier.
func (b *Broker) NodeID() string {
	return b.nodeID
}

// queueFor returns the receiver's queue, creating it if absent.
// Caller must hold b.mu.
func (b *Broker) queueFor(receiverID string) chan *Message {
	q, ok := b.queues[receiverID]
	if !ok {
		q = make(chan *Message, b.maxQueueSize)
		b.queues[receiverID] = q
	}
	return q
}

// Send enqueues the message for its receiver. Returns false when the
// receiver's queue is full; the message still lands in history either
// way. The history append and eviction run atomically per receiver.
func (b *Broker) Send(ctx context.Context, m *Message) bool {
	if m == nil || m.ReceiverID == "" {
		return false
	}
	if m.SenderID == "" {
		m.SenderID = b.nodeID
	}

	ctx, span := b.spans.StartSendSpan(ctx, m.ReceiverID)
	defer b.spans.EndSpanWithError(span, nil)

	b.mu.Lock()
	q := b.queueFor(m.ReceiverID)

	hist := append(b.history[m.ReceiverID], m)
	if len(hist) > b.maxHistory {
		hist = hist[len(hist)-b.maxHistory:]
		sort.SliceStable(hist, func(i, j int) bool {
			return hist[i].Timestamp.Before(hist[j].Timestamp)
		})
	}
	b.history[m.ReceiverID] = hist

	accepted := true
	select {
	case q <- m:
	default:
		accepted = false
	}
	b.mu.Unlock()

	if !accepted {
		observability.LogQueueFull(b.logger, m.ReceiverID, b.maxQueueSize)
	}
	b.metrics.RecordMessage(ctx, m.ReceiverID, accepted)
	return accepted
}

// Receive returns the next message for receiverID, blocking until one
// arrives, the timeout elapses, or the context is cancelled. A
// non-positive timeout means wait indefinitely. The second return is
// false on timeout or cancellation; Receive never returns an error.
func (b *Broker) Receive(ctx context.Context, receiverID string, timeout time.Duration) (*Message, bool) {
	b.mu.Lock()
	q := b.queueFor(receiverID)
	b.mu.Unlock()

	if timeout <= 0 {
		select {
		case m := <-q:
			return m, true
		case <-ctx.Done():
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-q:
		return m, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// History returns the most recent limit messages sent to receiverID,
// oldest first. A non-positive limit returns the full retained history.
func (b *Broker) History(receiverID string, limit int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	hist := b.history[receiverID]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]*Message, len(hist))
	copy(out, hist)
	return out
}

// HasPending reports whether receiverID has undelivered messages.
func (b *Broker) HasPending(receiverID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[receiverID]
	return ok && len(q) > 0
}

// Clear drains and discards the queue and history for one receiver.
func (b *Broker) Clear(receiverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked(receiverID)
}

// ClearAll drains and discards every receiver's queue and history.
func (b *Broker) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for receiverID := range b.queues {
		b.clearLocked(receiverID)
	}
	b.history = make(map[string][]*Message)
}

func (b *Broker) clearLocked(receiverID string) {
	if q, ok := b.queues[receiverID]; ok {
		for {
			select {
			case <-q:
			default:
				delete(b.queues, receiverID)
				delete(b.history, receiverID)
				return
			}
		}
	}
	delete(b.history, receiverID)
}
