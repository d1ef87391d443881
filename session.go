package terminal

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// ptyHandle is the platform-neutral view of a pseudo-terminal master.
// Closing it unblocks a pending Read, which is how the read loop is
// released during shutdown.
type ptyHandle interface {
	io.ReadWriteCloser
	resize(rows, cols uint16) error
}

// childProcess is the platform-neutral view of the spawned child.
type childProcess interface {
	// Wait blocks until the child exits and returns its exit code.
	Wait() int
	Kill() error
	Pid() int
}

// SessionID identifies a session for the lifetime of a Manager. IDs are
// allocated monotonically and never reused, so a stale ID can never reach
// a different session.
type SessionID uint64

// SessionConfig describes the child process to run. Zero values fall back
// to the platform default shell, the parent environment and an 80x24 grid.
type SessionConfig struct {
	Shell string
	Args  []string
	Env   []string
	Dir   string
	Rows  uint16
	Cols  uint16
}

const (
	defaultRows = 24
	defaultCols = 80

	sessionReadBuf   = 32768
	sessionInputBuf  = 256
	subscriberBuf    = 64
	sessionRingBytes = 64 * 1024
)

var (
	// ErrSessionClosed is returned for operations on a session whose child
	// has exited or which was killed.
	ErrSessionClosed = errors.New("terminal: session closed")
	// ErrNoSession is returned by Manager lookups for unknown IDs.
	ErrNoSession = errors.New("terminal: no such session")
)

// Session is one live PTY-backed child process. Output is fanned out to
// subscribers; input goes through a queue drained by a dedicated writer
// goroutine, so callers never block on the PTY itself.
type Session struct {
	id     SessionID
	pty    ptyHandle
	proc   childProcess
	logger *log.Logger

	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[chan []byte]struct{}
	ring *ringBuffer
	rows uint16
	cols uint16

	input    chan []byte
	done     chan struct{}
	exitCode int
}

// Manager owns a registry of sessions. All methods are safe for concurrent
// use.
type Manager struct {
	mu       sync.Mutex
	nextID   SessionID
	sessions map[SessionID]*Session
	logger   *log.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger inherited by sessions.
func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates an empty session registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[SessionID]*Session),
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "vterm"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession spawns the configured child on a fresh PTY and registers
// it. On failure nothing is registered and no ID is consumed observably;
// a half-created session never appears in the registry.
func (m *Manager) CreateSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}
	if cfg.Rows == 0 {
		cfg.Rows = defaultRows
	}
	if cfg.Cols == 0 {
		cfg.Cols = defaultCols
	}
	cfg.Env = sessionEnv(cfg.Env)

	ctx, cancel := context.WithCancel(ctx)
	handle, proc, err := startPty(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		pty:    handle,
		proc:   proc,
		logger: m.logger,
		cancel: cancel,
		subs:   make(map[chan []byte]struct{}),
		ring:   newRingBuffer(sessionRingBytes),
		rows:   cfg.Rows,
		cols:   cfg.Cols,
		input:  make(chan []byte, sessionInputBuf),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.nextID++
	s.id = m.nextID
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Debug("session started", "id", s.id, "pid", proc.Pid(), "shell", cfg.Shell)

	go s.readLoop()
	go s.writeLoop(ctx)
	go s.waitLoop()

	return s, nil
}

// sessionEnv fills in the parent environment and the TERM/COLORTERM
// defaults the emulator advertises.
func sessionEnv(env []string) []string {
	if env == nil {
		env = os.Environ()
	}
	hasTerm, hasColorTerm := false, false
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			hasTerm = true
		}
		if strings.HasPrefix(kv, "COLORTERM=") {
			hasColorTerm = true
		}
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	if !hasColorTerm {
		env = append(env, "COLORTERM=truecolor")
	}
	return env
}

// Session returns the registered session for id.
func (m *Manager) Session(id SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// Sessions returns the registered sessions in unspecified order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Kill forcefully terminates the session with id. The session stays in the
// registry until CleanupDeadSessions collects it, so its exit code remains
// queryable.
func (m *Manager) Kill(id SessionID) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return s.Kill()
}

// CleanupDeadSessions drops sessions whose child has exited from the
// registry and returns how many were removed.
func (m *Manager) CleanupDeadSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if !s.Alive() {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Close kills every session and empties the registry.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		if err := s.Kill(); err != nil && s.Alive() {
			m.logger.Warn("kill failed", "id", s.id, "err", err)
		}
	}
}

// ID returns the session's registry ID.
func (s *Session) ID() SessionID {
	return s.id
}

// Pid returns the child's process ID.
func (s *Session) Pid() int {
	return s.proc.Pid()
}

// Alive reports whether the child is still running.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed when the child exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitCode returns the child's exit code; ok is false while it is still
// running.
func (s *Session) ExitCode() (code int, ok bool) {
	select {
	case <-s.done:
		return s.exitCode, true
	default:
		return 0, false
	}
}

// Size returns the PTY dimensions last applied successfully.
func (s *Session) Size() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// WriteInput queues p for delivery to the child's standard input. The
// bytes are copied; delivery happens on the session's writer goroutine.
// Blocks only when the input queue is full, and fails once the session is
// closed.
func (s *Session) WriteInput(p []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	buf := append([]byte(nil), p...)
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.input <- buf:
		return nil
	}
}

// Resize changes the PTY dimensions. The recorded size is updated only
// when the underlying resize succeeds.
func (s *Session) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return errors.New("terminal: resize to zero dimension")
	}
	if err := s.pty.resize(rows, cols); err != nil {
		return err
	}
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()
	return nil
}

// Kill terminates the child immediately. Shutdown of the read, write and
// wait goroutines then proceeds through the normal exit path.
func (s *Session) Kill() error {
	s.cancel()
	err := s.proc.Kill()
	if !s.Alive() {
		return nil
	}
	return err
}

// Subscribe registers an output listener. Every subscriber sees every
// chunk published after registration, in order. The channel is bounded: a
// subscriber that stops draining loses its oldest pending chunks rather
// than stalling the session or its peers. The returned cancel func
// unregisters and closes the channel; it is idempotent.
func (s *Session) Subscribe() (<-chan []byte, func()) {
	return s.subscribe(false)
}

// SubscribeWithReplay is Subscribe plus an immediate first chunk holding
// the retained tail of recent output, so a late-attaching renderer can
// repaint without missing context.
func (s *Session) SubscribeWithReplay() (<-chan []byte, func()) {
	return s.subscribe(true)
}

func (s *Session) subscribe(replay bool) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuf)

	s.mu.Lock()
	if replay {
		if tail := s.ring.bytes(); len(tail) > 0 {
			ch <- tail
		}
	}
	dead := s.subs == nil
	if !dead {
		s.subs[ch] = struct{}{}
	}
	s.mu.Unlock()

	if dead {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if s.subs != nil {
				delete(s.subs, ch)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish hands a fresh copy of data to the ring and every subscriber.
// A full subscriber channel drops its oldest chunk to make room, keeping
// slow consumers from exerting backpressure on the PTY read loop.
func (s *Session) publish(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.write(data)
	for ch := range s.subs {
		select {
		case ch <- data:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- data:
		default:
		}
	}
}

// closeSubs closes every subscriber channel and refuses new registrations.
func (s *Session) closeSubs() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for ch := range subs {
		close(ch)
	}
}

func (s *Session) readLoop() {
	defer s.closeSubs()
	buf := make([]byte, sessionReadBuf)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			s.publish(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.Alive() {
				s.logger.Debug("pty read ended", "id", s.id, "err", err)
			}
			return
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.input:
			for len(p) > 0 {
				n, err := s.pty.Write(p)
				if err != nil {
					s.logger.Debug("pty write failed", "id", s.id, "err", err)
					return
				}
				p = p[n:]
			}
		}
	}
}

func (s *Session) waitLoop() {
	s.exitCode = s.proc.Wait()
	close(s.done)
	s.cancel()
	// Closing the master unblocks the read loop.
	if err := s.pty.Close(); err != nil {
		s.logger.Debug("pty close", "id", s.id, "err", err)
	}
	s.logger.Debug("session exited", "id", s.id, "code", s.exitCode)
}

// ringBuffer retains the most recent output bytes for replay to late
// subscribers.
type ringBuffer struct {
	buf  []byte
	pos  int
	full bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]byte, size)}
}

func (r *ringBuffer) write(p []byte) {
	if len(p) >= len(r.buf) {
		copy(r.buf, p[len(p)-len(r.buf):])
		r.pos = 0
		r.full = true
		return
	}
	n := copy(r.buf[r.pos:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
		r.full = true
	}
	r.pos = (r.pos + len(p)) % len(r.buf)
	if r.pos < n {
		r.full = true
	}
}

// bytes returns the retained tail in chronological order.
func (r *ringBuffer) bytes() []byte {
	if !r.full {
		return append([]byte(nil), r.buf[:r.pos]...)
	}
	out := make([]byte, 0, len(r.buf))
	out = append(out, r.buf[r.pos:]...)
	out = append(out, r.buf[:r.pos]...)
	return out
}
