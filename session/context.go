package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zond/usurper/storage"
)

// Context is the gameplay state of one logged in player. Code running on the
// player's behalf finds it through From.
type Context struct {
	Session *Session

	mu       sync.Mutex
	player   *storage.Player
	systems  map[any]any
	detached atomic.Bool
}

func NewContext(s *Session, player *storage.Player) *Context {
	c := &Context{
		Session: s,
		player:  player,
		systems: map[any]any{},
	}
	s.SetContext(c)
	return c
}

// WithPlayer runs f with exclusive access to the player's persistent row.
func (c *Context) WithPlayer(f func(p *storage.Player) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return f(c.player)
}

// Snapshot returns a copy of the player row.
func (c *Context) Snapshot() storage.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.player
}

// InitializeSystems builds a fresh instance of every registered subsystem.
// Factories run without any Context lock held, so they may read the player.
func (c *Context) InitializeSystems() {
	built := map[any]any{}
	for _, k := range registered() {
		built[k] = k.build(c)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range built {
		c.systems[k] = v
	}
}

// Detach makes the Context invisible to From. It is called exactly once when
// the session ends.
func (c *Context) Detach() bool {
	if !c.detached.CompareAndSwap(false, true) {
		return false
	}
	c.mu.Lock()
	c.systems = map[any]any{}
	c.mu.Unlock()
	return true
}

func (c *Context) Detached() bool {
	return c.detached.Load()
}

func (c *Context) system(k subsystem) any {
	c.mu.Lock()
	v, found := c.systems[k]
	c.mu.Unlock()
	if found {
		return v
	}
	built := k.build(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have built it meanwhile; the first insert wins.
	if v, found := c.systems[k]; found {
		return v
	}
	c.systems[k] = built
	return built
}

type contextKey int

const gameContextKey contextKey = 0

// With binds c to ctx.
func With(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, gameContextKey, c)
}

// From returns the Context bound to ctx, unless there is none or it has been detached.
func From(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(gameContextKey).(*Context)
	if !ok || c == nil || c.Detached() {
		return nil, false
	}
	return c, true
}

type subsystem interface {
	build(*Context) any
	Name() string
}

var (
	keysLock sync.Mutex
	keys     []subsystem
)

func registered() []subsystem {
	keysLock.Lock()
	defer keysLock.Unlock()
	return append([]subsystem{}, keys...)
}

// Key identifies a per-session subsystem of type T.
type Key[T any] struct {
	name     string
	factory  func(*Context) T
	once     sync.Once
	fallback T
}

// NewKey registers a subsystem. factory is called with nil to build the
// process default used outside any session.
func NewKey[T any](name string, factory func(*Context) T) *Key[T] {
	k := &Key[T]{
		name:    name,
		factory: factory,
	}
	keysLock.Lock()
	defer keysLock.Unlock()
	keys = append(keys, k)
	return k
}

func (k *Key[T]) Name() string {
	return k.name
}

func (k *Key[T]) build(c *Context) any {
	return k.factory(c)
}

// Default returns the process wide instance.
func (k *Key[T]) Default() T {
	k.once.Do(func() {
		k.fallback = k.factory(nil)
	})
	return k.fallback
}

// Get returns the instance belonging to the Context bound to ctx, or the
// process default when there is none.
func (k *Key[T]) Get(ctx context.Context) T {
	if c, found := From(ctx); found {
		return c.system(k).(T)
	}
	return k.Default()
}

// Of returns the instance belonging to c, or the process default for a nil
// or detached Context.
func (k *Key[T]) Of(c *Context) T {
	if c == nil || c.Detached() {
		return k.Default()
	}
	return c.system(k).(T)
}
