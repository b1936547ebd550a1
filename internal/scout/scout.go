// Package scout generates random positions, filters them through the
// engine, and reports an evaluation line per surviving position.
package scout

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/fenscout/internal/board"
	"github.com/park285/fenscout/internal/uci"
)

// ANSI bright yellow, used to flag near-equal evaluations.
const (
	highlightOn  = "\033[1;33m"
	highlightOff = "\033[0m"
)

// Evaluator is the slice of the engine session the scout drives.
type Evaluator interface {
	SetPosition(ctx context.Context, fen string) (uci.PositionStatus, error)
	Evaluate(ctx context.Context, limits uci.Limits) (uci.Evaluation, error)
}

// Finding is one reported position with its evaluation.
type Finding struct {
	RunID    string        `json:"run_id"`
	Seq      int           `json:"seq"`
	FEN      string        `json:"fen"`
	Score    string        `json:"score"`
	Duration time.Duration `json:"duration"`
	FoundAt  time.Time     `json:"found_at"`
}

// Sink receives findings as they are produced. Sink failures are logged
// and never abort the run; the printed report stays authoritative.
type Sink interface {
	Record(ctx context.Context, f *Finding) error
	Close() error
}

// Config bounds one scout run.
type Config struct {
	Material           string
	Limits             uci.Limits
	TargetCount        int
	Highlight          bool
	HighlightThreshold int
}

// Scout owns one run over one engine session.
type Scout struct {
	session Evaluator
	cfg     Config
	logger  *zap.Logger
	rand    *rand.Rand
	out     io.Writer
	sinks   []Sink
	runID   string
}

func New(session Evaluator, cfg Config, logger *zap.Logger) *Scout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scout{
		session: session,
		cfg:     cfg,
		logger:  logger,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		out:     os.Stdout,
		runID:   uuid.NewString(),
	}
}

// SetRandomSeed pins the scatter order, mainly for tests.
func (s *Scout) SetRandomSeed(seed int64) {
	s.rand = rand.New(rand.NewSource(seed))
}

// SetOutput redirects the report, mainly for tests.
func (s *Scout) SetOutput(w io.Writer) { s.out = w }

// AttachSink adds a persistence sink. Sinks are closed by Close.
func (s *Scout) AttachSink(sink Sink) { s.sinks = append(s.sinks, sink) }

// RunID identifies this run in sink records.
func (s *Scout) RunID() string { return s.runID }

// Run explores random positions until TargetCount findings have been
// reported or ctx is cancelled. A position only counts when both the
// black-to-move and white-to-move readings survive: no engine crash and
// neither side already in check.
func (s *Scout) Run(ctx context.Context) error {
	b := board.New()
	found := 0
	attempts := 0

	for found < s.cfg.TargetCount {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++

		b.MakeEmpty()
		if err := b.PlaceRandom(s.cfg.Material, s.rand); err != nil {
			return fmt.Errorf("scatter material: %w", err)
		}

		ok, err := s.probe(ctx, b, board.Black)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ok, err = s.probe(ctx, b, board.White)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		fen, err := b.FEN(board.White)
		if err != nil {
			return err
		}
		ev, err := s.session.Evaluate(ctx, s.cfg.Limits)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", fen, err)
		}

		found++
		s.report(found, fen, ev)
		s.record(ctx, &Finding{
			RunID:    s.runID,
			Seq:      found,
			FEN:      fen,
			Score:    ev.Score.String(),
			Duration: ev.Duration,
			FoundAt:  time.Now().UTC(),
		})
	}

	s.logger.Info("run complete",
		zap.String("run_id", s.runID),
		zap.Int("found", found),
		zap.Int("attempts", attempts))
	return nil
}

// probe submits the position with the given mover and reports whether
// it is worth keeping.
func (s *Scout) probe(ctx context.Context, b *board.Board, mover board.Color) (bool, error) {
	fen, err := b.FEN(mover)
	if err != nil {
		return false, err
	}
	status, err := s.session.SetPosition(ctx, fen)
	if err != nil {
		return false, err
	}
	switch status {
	case uci.StatusFault:
		s.logger.Debug("engine faulted on position", zap.String("fen", fen))
		return false, nil
	case uci.StatusMoverInCheck:
		return false, nil
	default:
		return true, nil
	}
}

func (s *Scout) report(seq int, fen string, ev uci.Evaluation) {
	line := fmt.Sprintf("%6d evaluation %-20s duration %10.3f fen %s",
		seq, ev.Score, ev.Duration.Seconds(), fen)
	if s.highlightWorthy(ev.Score) {
		line = highlightOn + line + highlightOff
	}
	fmt.Fprintln(s.out, line)
}

func (s *Scout) highlightWorthy(score uci.Score) bool {
	if !s.cfg.Highlight || score.Kind != uci.ScoreCentipawns {
		return false
	}
	cp := score.Value
	if cp < 0 {
		cp = -cp
	}
	return cp < s.cfg.HighlightThreshold
}

func (s *Scout) record(ctx context.Context, f *Finding) {
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, f); err != nil {
			s.logger.Warn("sink write failed",
				zap.String("run_id", f.RunID),
				zap.Int("seq", f.Seq),
				zap.Error(err))
		}
	}
}

// Close releases all attached sinks.
func (s *Scout) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
