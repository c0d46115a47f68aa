package game

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/zond/usurper"
	"github.com/zond/usurper/authority"
	"github.com/zond/usurper/group"
	"github.com/zond/usurper/presence"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

type Config struct {
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	HandshakeTimeout  time.Duration
	DisconnectGrace   time.Duration
	InviteTimeout     time.Duration
	LoginInterval     time.Duration
	ShutdownTick      time.Duration
	FlushInterval     time.Duration
	MaxGroupSize      int
	MaxLineLength     int
	// TrustPreauth accepts AUTH lines without a password.
	TrustPreauth bool
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:       15 * time.Minute,
		IdleCheckInterval: time.Minute,
		HandshakeTimeout:  500 * time.Millisecond,
		DisconnectGrace:   500 * time.Millisecond,
		InviteTimeout:     group.DefaultInviteTimeout,
		LoginInterval:     10 * time.Second,
		ShutdownTick:      time.Second,
		FlushInterval:     250 * time.Millisecond,
		MaxGroupSize:      group.DefaultMaxSize,
		MaxLineLength:     1024,
		TrustPreauth:      true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = def.IdleCheckInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.DisconnectGrace < 0 {
		c.DisconnectGrace = 0
	}
	if c.InviteTimeout <= 0 {
		c.InviteTimeout = def.InviteTimeout
	}
	if c.LoginInterval <= 0 {
		c.LoginInterval = def.LoginInterval
	}
	if c.ShutdownTick <= 0 {
		c.ShutdownTick = def.ShutdownTick
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.MaxGroupSize <= 1 {
		c.MaxGroupSize = def.MaxGroupSize
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = def.MaxLineLength
	}
	return c
}

// Store is the persistence the game needs. *storage.Storage implements it.
type Store interface {
	LoadPlayer(ctx context.Context, name string) (*storage.Player, error)
	Register(ctx context.Context, name string, password string) (*storage.Player, error)
	Authenticate(ctx context.Context, name string, password string) (*storage.Player, error)
	Ensure(ctx context.Context, name string) (*storage.Player, error)
	SavePlayer(ctx context.Context, p *storage.Player) error
	SetTier(ctx context.Context, name string, tier authority.Tier) error
	SetFrozen(ctx context.Context, name string, frozen bool) error
	SetMuted(ctx context.Context, name string, muted bool) error
	Ban(ctx context.Context, name string, reason string) error
	Unban(ctx context.Context, name string) error
	RecordLogin(ctx context.Context, name string, at time.Time) error
	RecordLogout(ctx context.Context, name string, at time.Time, minutes int64) error
	AppendWizardAction(ctx context.Context, w storage.WizardAction) error
	RecentWizardActions(ctx context.Context, n int) ([]storage.WizardAction, error)
	AuditLog(ctx context.Context, event string, data storage.AuditData)
}

// Engine runs gameplay commands for the player bound to ctx. It reports
// false for lines it doesn't recognize.
type Engine interface {
	Handle(ctx context.Context, line string) (bool, error)
}

type Game struct {
	config  Config
	store   Store
	engine  Engine
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	sessions *usurper.SyncMap[string, *session.Session]
	presence *presence.Registry
	groups   *group.Registry
	limiter  *loginRateLimiter

	// spectates holds pending watch requests keyed by the watched player.
	spectates cache.Cache[string, *group.Invite]

	shutdownLock sync.Mutex
	shutdownAt   time.Time

	running sync.WaitGroup
}

// New creates a game whose sessions all end when ctx is cancelled.
func New(ctx context.Context, store Store, config Config) *Game {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	g := &Game{
		config:   config,
		store:    store,
		metrics:  NewMetrics(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: usurper.NewSyncMap[string, *session.Session](),
		presence: presence.New(),
		limiter:  newLoginRateLimiter(config.LoginInterval),

		spectates: cache.NewCache[string, *group.Invite]().WithTTL(config.InviteTimeout),
	}
	g.groups = group.New(g.notify)
	g.groups.MaxSize = config.MaxGroupSize
	g.groups.InviteTimeout = config.InviteTimeout
	go g.watchIdle(ctx)
	return g
}

// SetEngine installs the gameplay layer. It must be called before any session starts.
func (g *Game) SetEngine(e Engine) {
	g.engine = e
}

func (g *Game) Config() Config {
	return g.config
}

func (g *Game) Metrics() *Metrics {
	return g.metrics
}

// Done is closed when the game has been cancelled.
func (g *Game) Done() <-chan struct{} {
	return g.ctx.Done()
}

// Find returns the online session for name.
func (g *Game) Find(name string) (*session.Session, bool) {
	return g.sessions.GetHas(storage.Key(name))
}

// Sessions returns every online session ordered by name.
func (g *Game) Sessions() []*session.Session {
	result := []*session.Session{}
	for s := range g.sessions.Values() {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result
}

func (g *Game) notify(username string, msg string) {
	if s, found := g.Find(username); found {
		s.Notify(msg)
	}
}

// Broadcast notifies every online session, except those in exclude.
// Spectators are skipped; they see the broadcast through the player they watch.
func (g *Game) Broadcast(msg string, exclude ...string) {
	skip := map[string]bool{}
	for _, name := range exclude {
		skip[storage.Key(name)] = true
	}
	for s := range g.sessions.Values() {
		if !skip[s.Key()] && s.Spectating() == nil {
			s.Notify(msg)
		}
	}
}

// Kick disconnects the named session.
func (g *Game) Kick(name string, reason string) bool {
	s, found := g.Find(name)
	if !found {
		return false
	}
	go s.Disconnect("Kicked: " + reason)
	return true
}

// Close cancels every session, disconnects whatever is left and waits for
// all run loops to finish.
func (g *Game) Close() {
	g.cancel()
	for _, s := range g.Sessions() {
		go s.Disconnect("Server shutting down")
	}
	done := make(chan struct{})
	go func() {
		g.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(g.config.DisconnectGrace + 5*time.Second):
		log.Printf("gave up waiting for %v sessions to finish", g.sessions.Len())
	}
}

// Online describes one connected player for operator tooling.
type Online struct {
	Name        string `json:"name"`
	Tier        string `json:"tier"`
	Kind        string `json:"kind"`
	Remote      string `json:"remote"`
	Location    string `json:"location"`
	IdleSeconds int64  `json:"idle_seconds"`
	Invisible   bool   `json:"invisible,omitempty"`
}

// Who lists every online session, invisible ones included.
func (g *Game) Who() []Online {
	now := time.Now()
	result := []Online{}
	for _, s := range g.Sessions() {
		loc, _ := g.presence.Location(s.Username())
		result = append(result, Online{
			Name:        s.Username(),
			Tier:        s.Tier().String(),
			Kind:        string(s.Kind()),
			Remote:      s.Remote(),
			Location:    loc,
			IdleSeconds: int64(s.Idle(now) / time.Second),
			Invisible:   s.Invisible(),
		})
	}
	return result
}
