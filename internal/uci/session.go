// Package uci drives one UCI chess engine subprocess over line-oriented
// text pipes. A Session is a strictly synchronous, single-caller
// abstraction: every call blocks until the engine answers or its process
// exit is observed. Engines are known to segfault on adversarial
// positions, so position submission treats an abrupt exit as a
// recoverable outcome and transparently restarts the process.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the session lifecycle state. It is owned exclusively by the
// Session; callers may read it for logging but never drive it.
type State int

const (
	StateUnstarted State = iota
	StateReady
	StateAwaitingResponse
	StateFaulted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateReady:
		return "ready"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateFaulted:
		return "faulted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PositionStatus is the outcome of submitting one position.
type PositionStatus int

const (
	// StatusFault means the engine process died while loading the
	// position. The session has already restarted a fresh process.
	StatusFault PositionStatus = iota + 1
	StatusMoverInCheck
	StatusMoverNotInCheck
)

func (s PositionStatus) String() string {
	switch s {
	case StatusFault:
		return "fault"
	case StatusMoverInCheck:
		return "mover-in-check"
	case StatusMoverNotInCheck:
		return "mover-not-in-check"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ScoreKind discriminates the two score units an engine reports.
type ScoreKind int

const (
	ScoreCentipawns ScoreKind = iota
	ScoreMate
)

// Score is a tagged engine evaluation: centipawns, or moves to mate with
// the sign indicating which side delivers it.
type Score struct {
	Kind  ScoreKind
	Value int
}

func (s Score) String() string {
	if s.Kind == ScoreMate {
		return fmt.Sprintf("mate %d", s.Value)
	}
	return fmt.Sprintf("cp %d", s.Value)
}

// Evaluation is the result of one search request.
type Evaluation struct {
	Score    Score
	Duration time.Duration
}

// Limits bound a search request. At least one field must be set.
type Limits struct {
	Depth          int
	MoveTimeMillis int
}

var (
	ErrNotStarted     = errors.New("engine session not started")
	ErrAlreadyStarted = errors.New("engine session already started")
	ErrNotReady       = errors.New("engine session not ready")
	ErrNotPositioned  = errors.New("no position has been submitted")
	ErrNoSearchLimits = errors.New("no search limits specified")
	ErrNoAnalysis     = errors.New("engine produced no analysis before bestmove")
	ErrEchoMismatch   = errors.New("engine echoed a different position")

	// errEngineGone marks the recoverable crash path inside SetPosition.
	errEngineGone = errors.New("engine process exited")
)

// Session owns exactly one engine subprocess. It is not safe for
// concurrent use; callers must serialize all interaction.
type Session struct {
	binaryPath string
	logger     *zap.Logger

	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
	waited error

	state      State
	positioned bool
}

// NewSession prepares an unstarted session for the engine binary at
// binaryPath. A nil logger is replaced by a no-op one.
func NewSession(binaryPath string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		binaryPath: binaryPath,
		logger:     logger,
		state:      StateUnstarted,
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State { return s.state }

// ProcessID returns the identifier assigned to the current engine
// process. It changes whenever a crash forces a restart.
func (s *Session) ProcessID() string { return s.id }

// Start launches the engine process and completes the UCI handshake.
// No timeout is imposed beyond ctx: an engine that never acknowledges
// blocks until the caller cancels.
func (s *Session) Start(ctx context.Context) error {
	if s.state != StateUnstarted {
		return fmt.Errorf("start: %w (state %s)", ErrAlreadyStarted, s.state)
	}
	if err := s.spawn(ctx); err != nil {
		s.state = StateFaulted
		return err
	}
	s.state = StateReady
	return nil
}

// Stop asks the engine to quit and reaps the process. Calling Stop on a
// session that was never started is a usage error.
func (s *Session) Stop() error {
	if s.state == StateUnstarted {
		return fmt.Errorf("stop: %w", ErrNotStarted)
	}
	if s.state == StateStopped {
		return nil
	}
	err := s.send("quit\n")
	s.reap()
	s.state = StateStopped
	s.positioned = false
	if err != nil {
		return fmt.Errorf("send quit: %w", err)
	}
	return nil
}

// SetPosition loads a position into the engine and reports whether the
// side to move is in check. An engine crash while loading is expected
// with adversarial input: the dead process is reaped, a replacement is
// started, and StatusFault is returned with a nil error. Any protocol
// irregularity after the engine survived the load is fatal.
func (s *Session) SetPosition(ctx context.Context, fen string) (PositionStatus, error) {
	if s.state != StateReady {
		return 0, fmt.Errorf("set position: %w (state %s)", ErrNotReady, s.state)
	}
	s.state = StateAwaitingResponse
	s.positioned = false

	err := s.loadAndSync(ctx, fen)
	if errors.Is(err, errEngineGone) {
		s.logger.Warn("engine crashed on position, restarting",
			zap.String("process_id", s.id),
			zap.String("fen", fen))
		s.reap()
		if spawnErr := s.spawn(ctx); spawnErr != nil {
			s.state = StateFaulted
			return 0, fmt.Errorf("restart after crash: %w", spawnErr)
		}
		s.state = StateReady
		return StatusFault, nil
	}
	if err != nil {
		s.state = StateFaulted
		return 0, err
	}

	echoed, inCheck, err := s.readDiagnostic(ctx)
	if err != nil {
		s.state = StateFaulted
		return 0, err
	}
	if echoed != fen {
		s.state = StateFaulted
		return 0, fmt.Errorf("%w: sent %q, got back %q", ErrEchoMismatch, fen, echoed)
	}

	s.state = StateReady
	s.positioned = true
	if inCheck {
		return StatusMoverInCheck, nil
	}
	return StatusMoverNotInCheck, nil
}

// Evaluate searches the previously submitted position under the given
// limits. It is only valid after a successful SetPosition; a crash here
// is a protocol violation, not a recoverable fault, since the position
// has already been proven acceptable to the engine.
func (s *Session) Evaluate(ctx context.Context, limits Limits) (Evaluation, error) {
	if s.state != StateReady {
		return Evaluation{}, fmt.Errorf("evaluate: %w (state %s)", ErrNotReady, s.state)
	}
	if !s.positioned {
		return Evaluation{}, fmt.Errorf("evaluate: %w", ErrNotPositioned)
	}
	tokens, err := goTokens(limits)
	if err != nil {
		return Evaluation{}, err
	}

	s.state = StateAwaitingResponse
	start := time.Now()
	if err := s.send(strings.Join(tokens, " ") + "\n"); err != nil {
		s.state = StateFaulted
		return Evaluation{}, fmt.Errorf("send go: %w", err)
	}

	var lastInfo string
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			s.state = StateFaulted
			return Evaluation{}, fmt.Errorf("read search output: %w", err)
		}
		if strings.HasPrefix(line, "info") {
			lastInfo = line
		}
		if strings.HasPrefix(line, "bestmove") {
			break
		}
	}
	if lastInfo == "" {
		s.state = StateFaulted
		return Evaluation{}, ErrNoAnalysis
	}

	score, err := parseScore(lastInfo)
	if err != nil {
		s.state = StateFaulted
		return Evaluation{}, err
	}
	s.state = StateReady
	return Evaluation{Score: score, Duration: time.Since(start)}, nil
}

// loadAndSync performs the ucinewgame / position / isready sequence.
// Every failure before readyok is folded into errEngineGone: the only
// way a healthy engine fails this dialog is by dying.
func (s *Session) loadAndSync(ctx context.Context, fen string) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("%w: %v", errEngineGone, err)
	}
	if err := s.send("position fen " + fen + "\n"); err != nil {
		return fmt.Errorf("%w: %v", errEngineGone, err)
	}
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("%w: %v", errEngineGone, err)
	}
	for {
		select {
		case <-s.exited:
			return fmt.Errorf("%w: %v", errEngineGone, s.waited)
		default:
		}

		line, err := s.readLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", errEngineGone, err)
		}
		if line == "readyok" {
			return nil
		}
	}
}

// readDiagnostic issues the "d" dump and extracts the echoed FEN and the
// check indicator. A bare "Checkers:" line means the mover is not in
// check. Duplicate or missing fields are fatal.
func (s *Session) readDiagnostic(ctx context.Context) (string, bool, error) {
	if err := s.send("d\n"); err != nil {
		return "", false, fmt.Errorf("send d: %w", err)
	}

	var (
		fen          string
		haveFen      bool
		inCheck      bool
		haveCheckers bool
	)
	for !haveCheckers {
		line, err := s.readLine(ctx)
		if err != nil {
			return "", false, fmt.Errorf("read diagnostic: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "Fen: "):
			if haveFen {
				return "", false, errors.New("duplicate Fen line in diagnostic output")
			}
			fen = strings.TrimPrefix(line, "Fen: ")
			haveFen = true
		case strings.HasPrefix(line, "Checkers:"):
			inCheck = line != "Checkers:"
			haveCheckers = true
		}
	}
	if !haveFen {
		return "", false, errors.New("diagnostic output contained no Fen line")
	}
	return fen, inCheck, nil
}

// spawn launches a fresh engine process and blocks until it answers the
// uci handshake.
func (s *Session) spawn(ctx context.Context) error {
	cmd := exec.Command(s.binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return fmt.Errorf("start engine: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdoutPipe)
	s.id = uuid.NewString()
	s.exited = make(chan struct{})

	// Single reaper per process. Stop and the crash path both join on
	// the channel instead of calling Wait themselves.
	exited := s.exited
	go func() {
		err := cmd.Wait()
		s.waited = err
		close(exited)
	}()

	s.logger.Info("engine process started",
		zap.String("process_id", s.id),
		zap.String("binary", s.binaryPath),
		zap.Int("pid", cmd.Process.Pid))

	if err := s.send("uci\n"); err != nil {
		s.reap()
		return fmt.Errorf("send uci: %w", err)
	}
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			s.reap()
			return fmt.Errorf("wait uciok: %w", err)
		}
		if line == "uciok" {
			return nil
		}
	}
}

// reap closes the engine's stdin and joins the process so no zombie is
// left behind before a replacement may be launched.
func (s *Session) reap() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.exited != nil {
		<-s.exited
	}
}

func (s *Session) send(msg string) error {
	if s.stdin == nil {
		return ErrNotStarted
	}
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := s.stdout.ReadString('\n')
		if err != nil && line == "" {
			ch <- result{err: err}
			return
		}
		ch <- result{line: strings.TrimSpace(line)}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

func goTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if len(args) == 1 {
		return nil, ErrNoSearchLimits
	}
	return args, nil
}

// parseScore extracts the token pair following the literal "score"
// marker in an info line.
func parseScore(info string) (Score, error) {
	parts := strings.Fields(info)
	for i, tok := range parts {
		if tok != "score" {
			continue
		}
		if i+2 >= len(parts) {
			return Score{}, fmt.Errorf("truncated score in info line %q", info)
		}
		value, err := strconv.Atoi(parts[i+2])
		if err != nil {
			return Score{}, fmt.Errorf("malformed score value in info line %q: %w", info, err)
		}
		switch parts[i+1] {
		case "cp":
			return Score{Kind: ScoreCentipawns, Value: value}, nil
		case "mate":
			return Score{Kind: ScoreMate, Value: value}, nil
		default:
			return Score{}, fmt.Errorf("unknown score kind %q in info line %q", parts[i+1], info)
		}
	}
	return Score{}, fmt.Errorf("no score marker in info line %q", info)
}
