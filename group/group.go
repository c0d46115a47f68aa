// Package group tracks transient parties: a leader, its members and the
// invitations that grow them.
package group

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zond/usurper"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

const (
	DefaultMaxSize       = 5
	DefaultInviteTimeout = 60 * time.Second
	// MinInviteLevel is the character level needed to lead a group.
	MinInviteLevel = 5
)

var (
	ErrNoGroup        = errors.New("not in a group")
	ErrAlreadyGrouped = errors.New("already in a group")
	ErrFull           = errors.New("group is full")
	ErrInDungeon      = errors.New("group is in a dungeon")
	ErrNotLeader      = errors.New("only the group leader can do that")
	ErrSelfInvite     = errors.New("you cannot invite yourself")
	ErrPendingInvite  = errors.New("already has a pending invitation")
	ErrNoInvite       = errors.New("no pending invitation")
	ErrInviteExpired  = errors.New("invitation expired")
)

// Notifier delivers a line to the named player if connected.
type Notifier func(username string, msg string)

type Group struct {
	mu        sync.Mutex
	max       int
	members   []string
	inDungeon bool
	floor     int
	disbanded bool
}

func (g *Group) Leader() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.members[0]
}

// Members returns the member names, leader first.
func (g *Group) Members() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.members)
}

func (g *Group) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

func (g *Group) Full() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members) >= g.max
}

func (g *Group) InDungeon() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inDungeon
}

func (g *Group) Floor() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.floor
}

func (g *Group) SetDungeon(in bool, floor int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inDungeon = in
	g.floor = floor
}

// Invite is an offer that resolves exactly once, by answer or by expiry.
type Invite struct {
	From    string
	To      string
	Expires time.Time

	once   sync.Once
	result chan bool
}

// NewInvite creates an offer from from to to that expires after timeout.
// The Registry uses it for group invitations; other handshakes that need a
// single answer may use it directly.
func NewInvite(from string, to string, timeout time.Duration) *Invite {
	return &Invite{
		From:    from,
		To:      to,
		Expires: time.Now().Add(timeout),
		result:  make(chan bool, 1),
	}
}

// Expired reports whether the offer can no longer be answered.
func (i *Invite) Expired() bool {
	return time.Now().After(i.Expires)
}

// Answer resolves the offer. It reports false if it was already resolved.
func (i *Invite) Answer(accepted bool) bool {
	return i.resolve(accepted)
}

func (i *Invite) resolve(accepted bool) bool {
	resolved := false
	i.once.Do(func() {
		i.result <- accepted
		resolved = true
	})
	return resolved
}

// Wait blocks until the invite is answered, expires or ctx is done.
func (i *Invite) Wait(ctx context.Context) (bool, error) {
	timer := time.NewTimer(time.Until(i.Expires))
	defer timer.Stop()
	select {
	case accepted := <-i.result:
		return accepted, nil
	case <-timer.C:
		if i.resolve(false) {
			<-i.result
			return false, ErrInviteExpired
		}
		return <-i.result, nil
	case <-ctx.Done():
		if i.resolve(false) {
			<-i.result
			return false, ctx.Err()
		}
		return <-i.result, nil
	}
}

type Registry struct {
	MaxSize       int
	InviteTimeout time.Duration

	notify  Notifier
	groups  *usurper.SyncMap[string, *Group]
	members *usurper.SyncMap[string, string]
	invites cache.Cache[string, *Invite]
}

func New(notify Notifier) *Registry {
	if notify == nil {
		notify = func(string, string) {}
	}
	return &Registry{
		MaxSize:       DefaultMaxSize,
		InviteTimeout: DefaultInviteTimeout,
		notify:        notify,
		groups:        usurper.NewSyncMap[string, *Group](),
		members:       usurper.NewSyncMap[string, string](),
		invites:       cache.NewCache[string, *Invite]().WithTTL(DefaultInviteTimeout),
	}
}

func key(username string) string {
	return strings.ToLower(username)
}

// Of returns the group username belongs to.
func (r *Registry) Of(username string) (*Group, bool) {
	leader, found := r.members.GetHas(key(username))
	if !found {
		return nil, false
	}
	return r.groups.GetHas(leader)
}

func (r *Registry) Len() int {
	return r.groups.Len()
}

// Create makes a one member group led by leader.
func (r *Registry) Create(leader string) (*Group, error) {
	k := key(leader)
	if !r.members.Swap(k, "", k) {
		return nil, ErrAlreadyGrouped
	}
	g := &Group{max: r.MaxSize, members: []string{leader}}
	r.groups.Set(k, g)
	return g, nil
}

// AddMember adds username to the group led by leader.
func (r *Registry) AddMember(leader string, username string) error {
	lk := key(leader)
	g, found := r.groups.GetHas(lk)
	if !found {
		return ErrNoGroup
	}
	var others []string
	if err := func() error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.disbanded {
			return ErrNoGroup
		}
		if len(g.members) >= g.max {
			return ErrFull
		}
		if !r.members.Swap(key(username), "", lk) {
			return ErrAlreadyGrouped
		}
		others = slices.Clone(g.members)
		g.members = append(g.members, username)
		return nil
	}(); err != nil {
		return err
	}
	for _, m := range others {
		r.notify(m, fmt.Sprintf("* %s has joined the group.", username))
	}
	return nil
}

// RemoveMember takes username out of its group. A leader leaving disbands the
// group, and a group left with one member disbands itself.
func (r *Registry) RemoveMember(username string, reason string) bool {
	k := key(username)
	lk, found := r.members.GetHas(k)
	if !found {
		return false
	}
	if lk == k {
		return r.Disband(username, reason)
	}
	g, found := r.groups.GetHas(lk)
	if !found {
		r.members.CompareAndDelete(k, lk)
		return false
	}
	var remaining []string
	removed := false
	func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.disbanded {
			return
		}
		idx := slices.IndexFunc(g.members, func(m string) bool { return key(m) == k })
		if idx < 0 {
			return
		}
		g.members = slices.Delete(g.members, idx, idx+1)
		r.members.CompareAndDelete(k, lk)
		remaining = slices.Clone(g.members)
		removed = true
	}()
	if !removed {
		return false
	}
	for _, m := range remaining {
		r.notify(m, fmt.Sprintf("* %s has left the group (%s).", username, reason))
	}
	if len(remaining) <= 1 {
		r.Disband(remaining[0], "group too small")
	}
	return true
}

// Disband dissolves the group username leads or belongs to. Disbanding an
// already dissolved group is a no-op.
func (r *Registry) Disband(username string, reason string) bool {
	k := key(username)
	lk := k
	if !r.groups.Has(k) {
		var found bool
		if lk, found = r.members.GetHas(k); !found {
			return false
		}
	}
	g, found := r.groups.GetHas(lk)
	if !found {
		return false
	}
	var members []string
	func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.disbanded {
			return
		}
		g.disbanded = true
		members = slices.Clone(g.members)
		for _, m := range members {
			r.members.CompareAndDelete(key(m), lk)
		}
	}()
	if members == nil {
		return false
	}
	r.groups.CompareAndDelete(lk, g)
	for _, target := range r.invites.Keys() {
		if inv, ok := r.invites.Peek(target); ok && key(inv.From) == lk {
			r.invites.Invalidate(target)
			inv.resolve(false)
		}
	}
	for _, m := range members {
		r.notify(m, fmt.Sprintf("* Your group has been disbanded (%s).", reason))
	}
	return true
}

// Invite records an offer from from to to. Leader and capacity rules are
// checked here; gameplay rules such as level are the caller's.
func (r *Registry) Invite(from string, to string) (*Invite, error) {
	if key(from) == key(to) {
		return nil, ErrSelfInvite
	}
	if r.members.Has(key(to)) {
		return nil, ErrAlreadyGrouped
	}
	if g, found := r.Of(from); found {
		if key(g.Leader()) != key(from) {
			return nil, ErrNotLeader
		}
		if g.Full() {
			return nil, ErrFull
		}
		if g.InDungeon() {
			return nil, ErrInDungeon
		}
	}
	if _, pending := r.invites.Get(key(to)); pending {
		return nil, ErrPendingInvite
	}
	inv := NewInvite(from, to, r.InviteTimeout)
	r.invites.Set(key(to), inv, r.InviteTimeout)
	return inv, nil
}

// Pending returns the unanswered invitation addressed to username.
func (r *Registry) Pending(username string) (*Invite, bool) {
	inv, found := r.invites.Get(key(username))
	if !found || inv.Expired() {
		return nil, false
	}
	return inv, true
}

// Respond answers the invitation addressed to username.
func (r *Registry) Respond(username string, accept bool) (*Invite, error) {
	inv, found := r.Pending(username)
	if !found {
		return nil, ErrNoInvite
	}
	r.invites.Invalidate(key(username))
	if !inv.resolve(accept) {
		return nil, ErrInviteExpired
	}
	return inv, nil
}

// Cancel withdraws any invitation addressed to or sent by username.
func (r *Registry) Cancel(username string) {
	k := key(username)
	for _, target := range r.invites.Keys() {
		if inv, ok := r.invites.Peek(target); ok && (target == k || key(inv.From) == k) {
			r.invites.Invalidate(target)
			inv.resolve(false)
		}
	}
}

// Join adds to to the group of from, creating it with from as leader if needed.
func (r *Registry) Join(from string, to string) (*Group, error) {
	if _, found := r.Of(from); !found {
		if _, err := r.Create(from); err != nil {
			return nil, err
		}
	}
	g, found := r.Of(from)
	if !found {
		return nil, ErrNoGroup
	}
	if key(g.Leader()) != key(from) {
		return nil, ErrNotLeader
	}
	if err := r.AddMember(from, to); err != nil {
		if g.Size() <= 1 {
			r.Disband(from, "invitation failed")
		}
		return nil, err
	}
	return g, nil
}

type xpTier struct {
	maxGap     int
	multiplier float64
}

var xpTiers = []xpTier{
	{3, 0.9},
	{5, 0.75},
	{8, 0.5},
	{12, 0.3},
}

const minXPMultiplier = 0.15

// XPMultiplier scales shared experience for a member below the group's top level.
func XPMultiplier(memberLevel int, topLevel int) float64 {
	gap := topLevel - memberLevel
	if gap <= 0 {
		return 1.0
	}
	for _, t := range xpTiers {
		if gap <= t.maxGap {
			return t.multiplier
		}
	}
	return minXPMultiplier
}
