package game

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/usurper"
	"github.com/zond/usurper/authority"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

var errQuit = errors.New("quit")

// Connection runs one session from admission to teardown.
type Connection struct {
	game   *Game
	sess   *session.Session
	player *storage.Player
	gctx   *session.Context
	ctx    context.Context

	sets      []attempter
	started   time.Time
	inGame    atomic.Bool
	saveOnce  sync.Once
	saves     atomic.Int32
	endReason string
}

// safely runs one cleanup step so that neither an error nor a panic in it
// stops the steps after it.
func safely(name string, f func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s panicked: %v\n%s", name, r, debug.Stack())
		}
	}()
	if err := f(); err != nil {
		log.Printf("%s: %v", name, err)
		log.Println(usurper.StackTrace(err))
	}
}

// insert adds s to the session table, preempting whatever holds its name.
// One retry is made after a preemption.
func (g *Game) insert(ctx context.Context, s *session.Session) bool {
	for attempt := 0; attempt < 2; attempt++ {
		if g.sessions.Swap(s.Key(), nil, s) {
			return true
		}
		if old, found := g.sessions.GetHas(s.Key()); found && old != nil {
			g.preempt(ctx, old, s)
		}
	}
	return false
}

func (g *Game) preempt(ctx context.Context, old *session.Session, s *session.Session) {
	log.Printf("kicking stale session %v (reconnect from %s)", old, s.Remote())
	g.metrics.preemptions.Inc()
	g.store.AuditLog(ctx, "SESSION_PREEMPTED", storage.AuditSessionPreempted{
		User:   old.Username(),
		Remote: s.Remote(),
	})
	old.Disconnect("Disconnected: logged in from another session")
	timer := time.NewTimer(g.config.DisconnectGrace + time.Second)
	defer timer.Stop()
	select {
	case <-old.Done():
	case <-timer.C:
	}
}

// start turns an admission into a running session and blocks until it ends.
func (g *Game) start(ctx context.Context, adm *admission) {
	name := adm.player.DisplayName
	if name == "" {
		name = adm.player.Username
	}
	sess := session.New(ctx, name, adm.kind, adm.remote, adm.stream)
	sess.Grace = g.config.DisconnectGrace
	_, existed := g.Find(name)
	if !g.insert(ctx, sess) {
		fmt.Fprintln(adm.stream, "Could not start session. Try again.")
		sess.Finish()
		return
	}
	if adm.protocol {
		fmt.Fprintln(adm.stream, "OK")
	} else if existed {
		fmt.Fprintln(adm.stream, "Previous session disconnected.")
	}
	c := &Connection{
		game:   g,
		sess:   sess,
		player: adm.player,
	}
	c.run()
}

func (c *Connection) Session() *session.Session {
	return c.sess
}

func (c *Connection) run() {
	defer c.sess.Finish()
	defer c.teardown()
	defer func() {
		if r := recover(); r != nil {
			c.endReason = "fault"
			log.Printf("session %v panicked: %v\n%s", c.sess, r, debug.Stack())
		}
	}()
	if err := c.setup(); err != nil {
		c.endReason = "setup failed"
		log.Printf("starting session %v: %v", c.sess, err)
		log.Println(usurper.StackTrace(err))
		return
	}
	err := c.loop()
	switch {
	case errors.Is(err, errQuit):
		c.endReason = "quit"
	case c.sess.DisconnectReason() != "":
		c.endReason = c.sess.DisconnectReason()
	case c.ctx.Err() != nil:
		c.endReason = "cancelled"
	case err == nil || errors.Is(err, io.EOF):
		c.endReason = "connection closed"
	default:
		c.endReason = "connection error"
		log.Printf("session %v: %v", c.sess, err)
	}
}

// setup binds the Context, mirrors the account onto the session and
// announces the arrival.
func (c *Connection) setup() error {
	g, s, p := c.game, c.sess, c.player
	c.started = time.Now()
	if p.Record.Location == "" {
		p.Record.Location = storage.DefaultLocation
	}
	s.SetTier(authority.Effective(p.Username, p.Tier))
	s.SetFrozen(p.Frozen)
	s.SetMuted(p.Muted)

	c.gctx = session.NewContext(s, p)
	c.ctx = session.With(s.Context(), c.gctx)
	c.gctx.InitializeSystems()

	if err := g.store.RecordLogin(c.ctx, p.Username, c.started); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return usurper.WithStack(err)
	}
	g.store.AuditLog(c.ctx, "USER_LOGIN", storage.AuditUserLogin{
		User:   s.Username(),
		Kind:   string(s.Kind()),
		Remote: s.Remote(),
	})
	c.inGame.Store(true)
	s.SetInGame(true)
	g.metrics.sessionStarted(s.Kind())
	log.Printf("session started for %v, active sessions: %d", s, g.sessions.Len())

	if tier := s.Tier(); tier.WizNet() {
		g.wiznetSystem(fmt.Sprintf("%s %s has connected.", tier.Title(), s.Username()), s.Username())
	}
	if !s.Invisible() {
		g.Broadcast(fmt.Sprintf("%s has entered the realm. [%s]", s.Username(), s.Kind()), s.Username())
	}
	g.presence.Enter(c.location(), s)
	go s.Pump(c.ctx, g.config.FlushInterval)
	return c.look()
}

func (c *Connection) location() string {
	return c.gctx.Snapshot().Record.Location
}

type readResult struct {
	line string
	err  error
}

type prompter interface {
	Prompt()
}

func (c *Connection) reader(lines chan<- readResult) {
	for {
		line, err := c.sess.Stream().ReadLine()
		select {
		case lines <- readResult{line: line, err: err}:
		case <-c.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Connection) loop() error {
	s := c.sess
	lines := make(chan readResult)
	go c.reader(lines)
	for {
		if err := c.runForced(); err != nil {
			return err
		}
		if err := s.Flush(); err != nil {
			return err
		}
		if p, ok := s.Stream().(prompter); ok {
			p.Prompt()
		}
		select {
		case <-c.ctx.Done():
			if c.game.ctx.Err() != nil {
				s.Disconnect("Server shutting down")
			}
			return nil
		case <-s.Wake():
		case r := <-lines:
			if r.err != nil {
				return r.err
			}
			s.Touch(time.Now())
			if err := c.dispatch(r.line); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) runForced() error {
	for {
		cmd, found := c.sess.NextForced()
		if !found {
			return nil
		}
		fmt.Fprintln(c.sess, "A divine force compels you...")
		if err := c.dispatch(cmd); err != nil {
			return err
		}
	}
}

// dispatch runs one command line. Only errQuit is returned; other failures
// are reported to the player.
func (c *Connection) dispatch(line string) error {
	words := whitespacePattern.Split(strings.TrimSpace(line), -1)
	if len(words) == 0 || words[0] == "" {
		return nil
	}
	c.game.metrics.commands.Inc()
	name := strings.ToLower(words[0])
	line = strings.TrimSpace(line)

	if c.sess.Frozen() && !(strings.HasPrefix(name, "/") && c.sess.Tier().WizNet()) {
		fmt.Fprintln(c.sess, "You are frozen solid! You can do nothing!")
		return nil
	}
	for _, set := range c.commandSets() {
		found, err := set.attempt(c, name, line)
		if errors.Is(err, errQuit) {
			return err
		} else if err != nil {
			c.fault(err)
			return nil
		} else if found {
			return nil
		}
	}
	if c.game.engine != nil {
		handled, err := c.game.engine.Handle(c.ctx, line)
		if err != nil {
			c.fault(err)
			return nil
		}
		if handled {
			return nil
		}
	}
	fmt.Fprintf(c.sess, "Unknown command: %q\n", words[0])
	return nil
}

func (c *Connection) fault(err error) {
	fmt.Fprintf(c.sess, "InternalServerError: %v\n", err)
	log.Printf("%v: %v", c.sess, err)
	log.Println(usurper.StackTrace(err))
}

func (c *Connection) commandSets() []attempter {
	if c.sets == nil {
		c.sets = []attempter{c.wizCommands(), c.chatCommands(), c.spectateCommands(), c.basicCommands()}
	}
	return c.sets
}

// emergencySave writes the in-memory character. It runs at most once per session.
func (c *Connection) emergencySave(ctx context.Context) error {
	var err error
	c.saveOnce.Do(func() {
		c.saves.Add(1)
		p := c.gctx.Snapshot()
		err = c.game.store.SavePlayer(ctx, &p)
	})
	return err
}

// teardown releases everything the session holds. Every step runs even if
// the ones before it fail.
func (c *Connection) teardown() {
	g, s := c.game, c.sess
	name := s.Username()
	if c.gctx == nil {
		g.sessions.CompareAndDelete(s.Key(), s)
		s.Stream().Close()
		return
	}
	ctx := context.WithoutCancel(c.ctx)
	s.SetInGame(false)

	safely("emergency save", func() error {
		return c.emergencySave(ctx)
	})
	safely("session end", func() error {
		now := time.Now()
		minutes := int64(now.Sub(c.started) / time.Minute)
		g.store.AuditLog(ctx, "SESSION_END", storage.AuditSessionEnd{
			User:    name,
			Reason:  c.endReason,
			Minutes: minutes,
		})
		return g.store.RecordLogout(ctx, c.player.Username, now, minutes)
	})
	safely("wiznet notice", func() error {
		if tier := s.Tier(); c.inGame.Load() && tier.WizNet() {
			g.wiznetSystem(fmt.Sprintf("%s %s has disconnected.", tier.Title(), name), name)
		}
		return nil
	})
	safely("snoop cleanup", func() error {
		for _, watcher := range s.Snoopers() {
			watcher.Notify(fmt.Sprintf("[Snoop] %s has disconnected.", name))
			s.RemoveSnooper(watcher)
		}
		if target := s.Snooping(); target != nil {
			target.RemoveSnooper(s)
		}
		return nil
	})
	safely("spectator cleanup", func() error {
		releaseSpectators(s, "* The player you were watching has disconnected.")
		if target := s.Spectating(); target != nil {
			target.RemoveSpectator(s)
			target.Notify(fmt.Sprintf("* %s stopped watching your session.", name))
		}
		return nil
	})
	safely("group cleanup", func() error {
		if grp, found := g.groups.Of(name); found {
			if storage.Key(grp.Leader()) == s.Key() {
				g.groups.Disband(name, "leader disconnected")
			} else {
				g.groups.RemoveMember(name, "disconnected")
			}
		}
		return nil
	})
	safely("invite cleanup", func() error {
		g.groups.Cancel(name)
		g.cancelSpectates(name)
		return nil
	})
	safely("farewell", func() error {
		if c.inGame.Load() && !s.Invisible() {
			g.Broadcast(fmt.Sprintf("%s has left the realm.", name), name)
		}
		return nil
	})
	safely("presence", func() error {
		g.presence.Disconnect(s)
		return nil
	})
	safely("session table", func() error {
		g.sessions.CompareAndDelete(s.Key(), s)
		return nil
	})
	safely("metrics", func() error {
		if c.inGame.Load() {
			g.metrics.sessionEnded(s.Kind())
		}
		return nil
	})
	safely("detach", func() error {
		c.gctx.Detach()
		return nil
	})
	s.Stream().Close()
	log.Printf("session ended for %v (%s), active sessions: %d", s, c.endReason, g.sessions.Len())
}
