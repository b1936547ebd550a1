package scout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/fenscout/internal/uci"
)

type scriptedSession struct {
	statuses []uci.PositionStatus
	eval     uci.Evaluation
	seenFENs []string
	evals    int
}

func (s *scriptedSession) SetPosition(_ context.Context, fen string) (uci.PositionStatus, error) {
	if len(s.statuses) == 0 {
		return 0, errors.New("script exhausted")
	}
	s.seenFENs = append(s.seenFENs, fen)
	st := s.statuses[0]
	s.statuses = s.statuses[1:]
	return st, nil
}

func (s *scriptedSession) Evaluate(context.Context, uci.Limits) (uci.Evaluation, error) {
	s.evals++
	return s.eval, nil
}

type captureSink struct {
	findings []*Finding
	closed   bool
	fail     bool
}

func (c *captureSink) Record(_ context.Context, f *Finding) error {
	if c.fail {
		return errors.New("sink down")
	}
	c.findings = append(c.findings, f)
	return nil
}

func (c *captureSink) Close() error {
	c.closed = true
	return nil
}

func TestRunSkipsFaultsAndChecks(t *testing.T) {
	session := &scriptedSession{
		statuses: []uci.PositionStatus{
			// attempt 1: black probe crashes; attempt 2: white in
			// check; attempt 3: keeper
			uci.StatusFault,
			uci.StatusMoverNotInCheck, uci.StatusMoverInCheck,
			uci.StatusMoverNotInCheck, uci.StatusMoverNotInCheck,
		},
		eval: uci.Evaluation{
			Score:    uci.Score{Kind: uci.ScoreCentipawns, Value: 7},
			Duration: 120 * time.Millisecond,
		},
	}
	s := New(session, Config{
		Material:           "qkQK",
		Limits:             uci.Limits{MoveTimeMillis: 100},
		TargetCount:        1,
		Highlight:          true,
		HighlightThreshold: 20,
	}, nil)
	s.SetRandomSeed(11)
	var out strings.Builder
	s.SetOutput(&out)
	sink := &captureSink{}
	s.AttachSink(sink)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.evals != 1 {
		t.Fatalf("evaluated %d times, want 1", session.evals)
	}
	if len(session.seenFENs) != 5 {
		t.Fatalf("submitted %d positions, want 5", len(session.seenFENs))
	}
	// Probes go black first, then white.
	if !strings.Contains(session.seenFENs[0], " b ") {
		t.Fatalf("first probe not black to move: %s", session.seenFENs[0])
	}

	line := out.String()
	if !strings.Contains(line, "evaluation cp 7") {
		t.Fatalf("report missing evaluation: %q", line)
	}
	if !strings.Contains(line, highlightOn) {
		t.Fatalf("near-equal score not highlighted: %q", line)
	}
	if len(sink.findings) != 1 {
		t.Fatalf("sink got %d findings, want 1", len(sink.findings))
	}
	f := sink.findings[0]
	if f.Seq != 1 || f.Score != "cp 7" || f.RunID != s.RunID() {
		t.Fatalf("unexpected finding: %+v", f)
	}
	if !strings.Contains(f.FEN, " w ") {
		t.Fatalf("reported FEN should be white to move: %s", f.FEN)
	}
}

func TestRunNoHighlightForBigOrMateScores(t *testing.T) {
	for _, eval := range []uci.Evaluation{
		{Score: uci.Score{Kind: uci.ScoreCentipawns, Value: 250}},
		{Score: uci.Score{Kind: uci.ScoreMate, Value: 2}},
	} {
		session := &scriptedSession{
			statuses: []uci.PositionStatus{uci.StatusMoverNotInCheck, uci.StatusMoverNotInCheck},
			eval:     eval,
		}
		s := New(session, Config{
			Material:           "qk",
			Limits:             uci.Limits{Depth: 1},
			TargetCount:        1,
			Highlight:          true,
			HighlightThreshold: 20,
		}, nil)
		s.SetRandomSeed(3)
		var out strings.Builder
		s.SetOutput(&out)
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if strings.Contains(out.String(), highlightOn) {
			t.Fatalf("score %v should not highlight: %q", eval.Score, out.String())
		}
	}
}

func TestRunSinkFailureDoesNotAbort(t *testing.T) {
	session := &scriptedSession{
		statuses: []uci.PositionStatus{uci.StatusMoverNotInCheck, uci.StatusMoverNotInCheck},
		eval:     uci.Evaluation{Score: uci.Score{Kind: uci.ScoreCentipawns, Value: 1}},
	}
	s := New(session, Config{
		Material:    "qk",
		Limits:      uci.Limits{Depth: 1},
		TargetCount: 1,
	}, nil)
	s.SetRandomSeed(5)
	var out strings.Builder
	s.SetOutput(&out)
	s.AttachSink(&captureSink{fail: true})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run should survive sink failure: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("report not written")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(&scriptedSession{}, Config{Material: "qk", Limits: uci.Limits{Depth: 1}, TargetCount: 1}, nil)
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCloseClosesSinks(t *testing.T) {
	s := New(&scriptedSession{}, Config{}, nil)
	sink := &captureSink{}
	s.AttachSink(sink)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.closed {
		t.Fatal("sink not closed")
	}
}
