package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes each event to "<prefix>.<event type>" with the run's
// trace context in the message headers.
type NATSSink struct {
	pub    Publisher
	conn   *nats.Conn // set when the sink owns the connection
	prefix string
	mu     sync.Mutex
}

var tracePropagator = propagation.TraceContext{}

// natsCarrier stores trace keys verbatim. nats.Header lookups are
// case-sensitive and consumers expect the lowercase W3C names.
type natsCarrier nats.Header

func (c natsCarrier) Get(key string) string {
	if v := c[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c natsCarrier) Set(key, value string) { c[key] = []string{value} }

func (c natsCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// TraceContext extracts the trace context a NATSSink attached to msg.
func TraceContext(ctx context.Context, msg *nats.Msg) context.Context {
	if msg == nil || msg.Header == nil {
		return ctx
	}
	return tracePropagator.Extract(ctx, natsCarrier(msg.Header))
}

// DialNATSSink connects to url and returns a sink that owns the connection.
func DialNATSSink(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("scanwarden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	s, err := NewNATSSink(nc, prefix)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.conn = nc
	return s, nil
}

// NewNATSSink publishes through pub. The caller keeps ownership of pub.
func NewNATSSink(pub Publisher, prefix string) (*NATSSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("nats publisher must not be nil")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return nil, fmt.Errorf("nats subject prefix required")
	}
	return &NATSSink{pub: pub, prefix: prefix}, nil
}

func (s *NATSSink) Subject(t EventType) string {
	return s.prefix + "." + string(t)
}

func (s *NATSSink) Write(v any) error {
	e, ok := v.(Event)
	if !ok {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type, err)
	}

	hdr := nats.Header{}
	tracePropagator.Inject(e.Context(), natsCarrier(hdr))
	hdr.Set("Scanwarden-Run", e.RunID)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pub.PublishMsg(&nats.Msg{Subject: s.Subject(e.Type), Data: data, Header: hdr})
}

func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Drain()
	s.conn = nil
	return err
}
