package scout

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestRedisSink(t *testing.T) *RedisSink {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	sink, err := NewRedisSink("redis://"+mr.Addr()+"/0", time.Hour)
	if err != nil {
		t.Fatalf("NewRedisSink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestRedisSinkRoundTrip(t *testing.T) {
	sink := newTestRedisSink(t)
	ctx := context.Background()

	first := &Finding{
		RunID:    "run-1",
		Seq:      1,
		FEN:      "8/8/8/8/8/8/8/K6k w - - 0 1",
		Score:    "cp 12",
		Duration: 80 * time.Millisecond,
		FoundAt:  time.Now().UTC().Truncate(time.Second),
	}
	second := &Finding{RunID: "run-1", Seq: 2, FEN: "8/8/8/8/8/8/8/K6k b - - 0 1", Score: "mate 4"}

	if err := sink.Record(ctx, first); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := sink.Record(ctx, second); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := sink.Findings(ctx, "run-1")
	if err != nil {
		t.Fatalf("Findings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d findings, want 2", len(got))
	}
	if got[0].Seq != 1 || got[0].Score != "cp 12" || got[0].FEN != first.FEN {
		t.Fatalf("first finding mismatch: %+v", got[0])
	}
	if got[1].Score != "mate 4" {
		t.Fatalf("second finding mismatch: %+v", got[1])
	}

	runs, err := sink.rdb.SMembers(ctx, keyRuns()).Result()
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(runs) != 1 || runs[0] != "run-1" {
		t.Fatalf("run index = %v, want [run-1]", runs)
	}
}

func TestRedisSinkIsolatesRuns(t *testing.T) {
	sink := newTestRedisSink(t)
	ctx := context.Background()

	if err := sink.Record(ctx, &Finding{RunID: "a", Seq: 1, FEN: "x", Score: "cp 1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := sink.Findings(ctx, "b")
	if err != nil {
		t.Fatalf("Findings: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("run b should have no findings, got %d", len(got))
	}
}
