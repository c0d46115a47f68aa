// Package session holds the live state of one authenticated connection and the
// per-session Context that gameplay code resolves through context.Context.
package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zond/usurper/authority"
)

type Kind string

const (
	Web    Kind = "Web"
	SSH    Kind = "SSH"
	BBS    Kind = "BBS"
	Local  Kind = "Local"
	Telnet Kind = "Telnet"
)

// Stream is a line oriented player connection.
type Stream interface {
	io.Writer
	ReadLine() (string, error)
	ReadPassword(prompt string) (string, error)
	Close() error
}

const DefaultGrace = 500 * time.Millisecond

type Session struct {
	username string
	kind     Kind
	remote   string
	stream   Stream

	// Grace is how long a disconnect reason stays visible before the stream closes.
	Grace time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	finishOnce sync.Once
	dropOnce   sync.Once
	dropReason atomic.Value

	tier         atomic.Int32
	frozen       atomic.Bool
	muted        atomic.Bool
	invisible    atomic.Bool
	godMode      atomic.Bool
	holyLight    atomic.Bool
	inGame       atomic.Bool
	lastActivity atomic.Int64
	started      time.Time

	writeMu sync.Mutex

	mu       sync.Mutex
	inbox    []string
	forced   []string
	wake     chan struct{}
	snoopers fanout
	snooping *Session

	spectators fanout
	spectating *Session
	context  *Context
}

// New creates a session whose own context is derived from parent, so
// cancelling parent cancels the session but not the other way around.
func New(parent context.Context, username string, kind Kind, remote string, stream Stream) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		username:   username,
		kind:       kind,
		remote:     remote,
		stream:     stream,
		Grace:      DefaultGrace,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		started:    time.Now(),
		snoopers:   fanout{},
		spectators: fanout{},
		wake:       make(chan struct{}, 1),
	}
	s.Touch(time.Now())
	return s
}

func (s *Session) String() string {
	return fmt.Sprintf("%s (%s from %s)", s.username, s.kind, s.remote)
}

func (s *Session) Username() string {
	return s.username
}

// Key is the lowercase username the session table is keyed by.
func (s *Session) Key() string {
	return strings.ToLower(s.username)
}

func (s *Session) Kind() Kind {
	return s.kind
}

func (s *Session) Remote() string {
	return s.remote
}

func (s *Session) Stream() Stream {
	return s.stream
}

// Context is cancelled when the session is disconnected or the server shuts down.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Finish marks teardown complete.
func (s *Session) Finish() {
	s.finishOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
}

func (s *Session) Started() time.Time {
	return s.started
}

func (s *Session) Tier() authority.Tier {
	return authority.Tier(s.tier.Load())
}

func (s *Session) SetTier(t authority.Tier) {
	s.tier.Store(int32(t))
}

func (s *Session) Frozen() bool        { return s.frozen.Load() }
func (s *Session) SetFrozen(b bool)    { s.frozen.Store(b) }
func (s *Session) Muted() bool         { return s.muted.Load() }
func (s *Session) SetMuted(b bool)     { s.muted.Store(b) }
func (s *Session) Invisible() bool     { return s.invisible.Load() }
func (s *Session) SetInvisible(b bool) { s.invisible.Store(b) }
func (s *Session) GodMode() bool       { return s.godMode.Load() }
func (s *Session) SetGodMode(b bool)   { s.godMode.Store(b) }
func (s *Session) HolyLight() bool     { return s.holyLight.Load() }
func (s *Session) SetHolyLight(b bool) { s.holyLight.Store(b) }
func (s *Session) InGame() bool        { return s.inGame.Load() }
func (s *Session) SetInGame(b bool)    { s.inGame.Store(b) }

// Touch records player activity at now.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Idle returns how long the player has been inactive at now.
func (s *Session) Idle(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// Notify queues a line for the next flush. It never blocks on I/O.
func (s *Session) Notify(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, msg)
}

// Pending returns the number of queued notifications.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbox)
}

// Flush writes every queued notification in arrival order.
func (s *Session) Flush() error {
	s.mu.Lock()
	msgs := s.inbox
	s.inbox = nil
	s.mu.Unlock()
	for _, msg := range msgs {
		if _, err := fmt.Fprintln(s, msg); err != nil {
			return err
		}
	}
	return nil
}

// Pump flushes the inbox every interval until ctx is done.
func (s *Session) Pump(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				return
			}
		}
	}
}

// Write sends b to the player and copies it to everyone snooping or spectating.
func (s *Session) Write(b []byte) (int, error) {
	s.writeMu.Lock()
	n, err := s.stream.Write(b)
	s.writeMu.Unlock()
	s.mu.Lock()
	snoopers := s.snoopers.clone()
	spectators := s.spectators.clone()
	s.mu.Unlock()
	if len(snoopers) > 0 {
		if failed := snoopers.copy("[Snoop:"+s.username+"] ", b); len(failed) > 0 {
			s.mu.Lock()
			for _, f := range failed {
				s.snoopers.drop(f)
			}
			s.mu.Unlock()
		}
	}
	if len(spectators) > 0 {
		if failed := spectators.copy("["+s.username+"] ", b); len(failed) > 0 {
			for _, f := range failed {
				s.RemoveSpectator(f)
			}
		}
	}
	return n, err
}

func (s *Session) writeDirect(b []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stream.Write(b)
}

// Enqueue queues a command to run as if the player typed it.
func (s *Session) Enqueue(cmd string) {
	s.mu.Lock()
	s.forced = append(s.forced, cmd)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wake receives a value after Enqueue so a run loop blocked on input can
// pick up forced commands.
func (s *Session) Wake() <-chan struct{} {
	return s.wake
}

// NextForced pops the oldest forced command.
func (s *Session) NextForced() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forced) == 0 {
		return "", false
	}
	cmd := s.forced[0]
	s.forced = s.forced[1:]
	return cmd, true
}

// AddSnooper makes watcher receive a copy of everything written to s.
func (s *Session) AddSnooper(watcher *Session) {
	s.mu.Lock()
	s.snoopers.push(watcher)
	s.mu.Unlock()
	watcher.mu.Lock()
	watcher.snooping = s
	watcher.mu.Unlock()
}

func (s *Session) RemoveSnooper(watcher *Session) {
	s.mu.Lock()
	s.snoopers.drop(watcher)
	s.mu.Unlock()
	watcher.mu.Lock()
	if watcher.snooping == s {
		watcher.snooping = nil
	}
	watcher.mu.Unlock()
}

// Snoopers returns everyone currently watching s.
func (s *Session) Snoopers() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snoopers.sessions()
}

// Snooping returns the session s is watching, if any.
func (s *Session) Snooping() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snooping
}

// AddSpectator makes watcher, with the player's consent, receive a copy of
// everything written to s.
func (s *Session) AddSpectator(watcher *Session) {
	s.mu.Lock()
	s.spectators.push(watcher)
	s.mu.Unlock()
	watcher.mu.Lock()
	watcher.spectating = s
	watcher.mu.Unlock()
}

func (s *Session) RemoveSpectator(watcher *Session) {
	s.mu.Lock()
	s.spectators.drop(watcher)
	s.mu.Unlock()
	watcher.mu.Lock()
	if watcher.spectating == s {
		watcher.spectating = nil
	}
	watcher.mu.Unlock()
}

// Spectators returns everyone s has allowed to watch it.
func (s *Session) Spectators() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spectators.sessions()
}

// Spectating returns the session s is watching as a spectator, if any.
func (s *Session) Spectating() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spectating
}

func (s *Session) SetContext(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context = c
}

// GameContext returns the Context bound to the session, nil before it is bound.
func (s *Session) GameContext() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// Disconnect shows reason, waits Grace, then cancels the session and closes
// its stream. Only the first call has any effect.
func (s *Session) Disconnect(reason string) {
	s.dropOnce.Do(func() {
		s.dropReason.Store(reason)
		if reason != "" {
			s.Flush()
			s.writeDirect([]byte("\r\n" + reason + "\r\n"))
		}
		if s.Grace > 0 {
			timer := time.NewTimer(s.Grace)
			select {
			case <-timer.C:
			case <-s.done:
				timer.Stop()
			}
		}
		s.cancel()
		s.stream.Close()
	})
}

// DisconnectReason returns the reason given to Disconnect, if any.
func (s *Session) DisconnectReason() string {
	reason, _ := s.dropReason.Load().(string)
	return reason
}
