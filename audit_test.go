package gatekeep

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	sink := &countingSink{}
	engine := newTestEngine(t, cfg, testClock(), func(b *Builder) { b.WithAuditSink(sink) })

	_, _ = engine.Login(context.Background(), "u1", "user")
	_, _ = engine.Refresh(context.Background(), "garbage")
	time.Sleep(20 * time.Millisecond)

	if sink.count.Load() != 0 {
		t.Fatalf("expected no sink calls when disabled, got %d", sink.count.Load())
	}
}

func TestAuditDropIfFullCountsDrops(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = true
	sink := &gateSink{gate: make(chan struct{})}
	engine := newTestEngine(t, cfg, testClock(), func(b *Builder) { b.WithAuditSink(sink) })
	defer close(sink.gate)

	for i := 0; i < 10; i++ {
		_, _ = engine.Login(context.Background(), "u1", "user")
		time.Sleep(time.Millisecond)
	}
	if engine.AuditDropped() == 0 {
		t.Fatal("expected dropped audit events")
	}
}

func TestAuditJSONSinkRecordsRejections(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.RateLimit.Classes["auth"] = RateRule{Limit: 1, Window: time.Minute}
	engine := newTestEngine(t, cfg, testClock(), func(b *Builder) { b.WithAuditSink(NewJSONWriterSink(&buf)) })
	ctx := context.Background()

	route := engine.PublicRoute("auth")
	req := &Request{Route: route, ClientKey: "198.51.100.4"}
	_, _ = engine.Handle(ctx, req)
	_, _ = engine.Handle(ctx, req)
	engine.Close()

	out := buf.String()
	if !strings.Contains(out, `"event_type":"rate_limited"`) {
		t.Fatalf("expected rate_limited event, got %s", out)
	}
	if !strings.Contains(out, `"client_key":"198.51.100.4"`) || !strings.Contains(out, `"route":"auth"`) {
		t.Fatalf("expected client and route on event, got %s", out)
	}
}
