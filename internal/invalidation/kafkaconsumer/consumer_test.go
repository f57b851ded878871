package kafkaconsumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/hexmapr/density-engine/internal/invalidation"
)

type fakeResetter struct {
	resets atomic.Int64
}

func (f *fakeResetter) Reset() { f.resets.Add(1) }

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "dataset-published" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(ts time.Time) []byte {
	ev := invalidation.Event{
		Version: 1,
		Op:      invalidation.OpDatasetPublished,
		TS:      ts,
		Source:  "pipeline",
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(fr *fakeResetter) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "dataset-published", GroupID: "g"}
	return New(cfg, slog.Default(), fr)
}

func TestProcessOne_ResetsCacheAndMarks(t *testing.T) {
	fr := &fakeResetter{}
	c := newConsumerForTest(fr)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	base := time.Now().UTC()
	ch <- &sarama.ConsumerMessage{Topic: "dataset-published", Offset: 10, Value: eventBytes(base)}
	ch <- &sarama.ConsumerMessage{Topic: "dataset-published", Offset: 11, Value: eventBytes(base.Add(time.Minute))}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if got := fr.resets.Load(); got != 2 {
		t.Fatalf("resets=%d want 2", got)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestProcessOne_SkipsMalformedWithoutAbortingClaim(t *testing.T) {
	fr := &fakeResetter{}
	c := newConsumerForTest(fr)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`{"version":2,"op":"dataset_published","ts":"2026-01-01T00:00:00Z"}`)}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: eventBytes(time.Now().UTC())}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if got := fr.resets.Load(); got != 1 {
		t.Fatalf("resets=%d want 1 (only the valid event)", got)
	}
	// malformed messages still commit so they are not redelivered forever
	if len(s.marked) != 3 {
		t.Fatalf("marked=%v want all three offsets", s.marked)
	}
}

func TestProcessOne_DropsStaleReplays(t *testing.T) {
	fr := &fakeResetter{}
	c := newConsumerForTest(fr)
	ctx := context.Background()

	base := time.Now().UTC()
	newer := &sarama.ConsumerMessage{Offset: 1, Value: eventBytes(base.Add(time.Hour))}
	older := &sarama.ConsumerMessage{Offset: 2, Value: eventBytes(base)}

	if err := c.ProcessOne(ctx, newer); err != nil {
		t.Fatalf("ProcessOne newer: %v", err)
	}
	if err := c.ProcessOne(ctx, older); err != nil {
		t.Fatalf("ProcessOne older: %v", err)
	}
	if got := fr.resets.Load(); got != 1 {
		t.Fatalf("resets=%d want 1 (replay must not reset again)", got)
	}
}

func TestEventValidate(t *testing.T) {
	good := invalidation.Event{Version: 1, Op: invalidation.OpDatasetPublished, TS: time.Now()}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	bad := []invalidation.Event{
		{Version: 2, Op: invalidation.OpDatasetPublished, TS: time.Now()},
		{Version: 1, Op: "update", TS: time.Now()},
		{Version: 1, Op: invalidation.OpDatasetPublished},
		{Version: 1, Op: invalidation.OpDatasetPublished, TS: time.Now(), Resolutions: []int{16}},
	}
	for i, ev := range bad {
		if err := ev.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
