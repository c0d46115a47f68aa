package game

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/zond/usurper/group"
	"github.com/zond/usurper/presence"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

// requestSpectate asks name for permission to watch their session.
func (c *Connection) requestSpectate(name string) error {
	g := c.game
	me := c.sess.Username()
	if current := c.sess.Spectating(); current != nil {
		fmt.Fprintf(c.sess, "You are already watching %s. Type 'spectate off' first.\n", current.Username())
		return nil
	}
	other, found := g.Find(name)
	if !found || !presence.Visible(c.viewer(), other) {
		fmt.Fprintf(c.sess, "Player '%s' not found online.\n", name)
		return nil
	}
	if other == c.sess {
		fmt.Fprintln(c.sess, "You cannot spectate yourself.")
		return nil
	}
	if other.Spectating() != nil {
		fmt.Fprintf(c.sess, "%s is spectating and cannot be watched.\n", other.Username())
		return nil
	}
	if pending, found := g.spectates.Get(other.Key()); found && !pending.Expired() {
		fmt.Fprintf(c.sess, "%s already has a pending spectate request.\n", other.Username())
		return nil
	}
	req := group.NewInvite(me, other.Username(), g.config.InviteTimeout)
	g.spectates.Set(other.Key(), req, g.config.InviteTimeout)
	other.Notify(fmt.Sprintf("%s wants to watch your session. Type 'accept' or 'deny'.", me))
	fmt.Fprintf(c.sess, "You ask to watch %s's session.\n", other.Username())

	g.running.Add(1)
	go func() {
		defer g.running.Done()
		accepted, err := req.Wait(c.ctx)
		switch {
		case errors.Is(err, group.ErrInviteExpired):
			g.spectates.Invalidate(other.Key())
			g.notify(me, fmt.Sprintf("Your request to watch %s expired.", other.Username()))
		case err != nil:
		case !accepted:
			g.notify(me, fmt.Sprintf("%s denied your spectate request.", other.Username()))
		default:
			g.startSpectating(c.sess, other)
		}
	}()
	return nil
}

// startSpectating attaches watcher to target if both are still the live
// sessions for their names.
func (g *Game) startSpectating(watcher *session.Session, target *session.Session) {
	if current, found := g.Find(target.Username()); !found || current != target {
		watcher.Notify(fmt.Sprintf("%s is no longer online.", target.Username()))
		return
	}
	if current, found := g.Find(watcher.Username()); !found || current != watcher {
		return
	}
	target.AddSpectator(watcher)
	watcher.Notify(fmt.Sprintf("You are now watching %s. Type 'spectate off' to stop.", target.Username()))
	target.Notify(fmt.Sprintf("* %s is now watching your session.", watcher.Username()))
}

// respondSpectate answers a pending spectate request. It reports false when
// there is none.
func (c *Connection) respondSpectate(accept bool) bool {
	g := c.game
	req, found := g.spectates.Get(c.sess.Key())
	if !found {
		return false
	}
	g.spectates.Invalidate(c.sess.Key())
	if req.Expired() || !req.Answer(accept) {
		fmt.Fprintln(c.sess, "That spectate request has expired.")
		return true
	}
	if accept {
		fmt.Fprintf(c.sess, "You accepted %s's spectate request.\n", req.From)
	} else {
		fmt.Fprintf(c.sess, "You denied %s's spectate request.\n", req.From)
	}
	return true
}

func (c *Connection) stopSpectating() {
	target := c.sess.Spectating()
	if target == nil {
		fmt.Fprintln(c.sess, "You are not watching anyone.")
		return
	}
	target.RemoveSpectator(c.sess)
	target.Notify(fmt.Sprintf("* %s stopped watching your session.", c.sess.Username()))
	fmt.Fprintf(c.sess, "You stop watching %s.\n", target.Username())
}

// releaseSpectators detaches everyone watching s and tells them why.
func releaseSpectators(s *session.Session, notice string) int {
	watchers := s.Spectators()
	for _, watcher := range watchers {
		s.RemoveSpectator(watcher)
		watcher.Notify(notice)
	}
	return len(watchers)
}

// cancelSpectates withdraws every pending request to or from name.
func (g *Game) cancelSpectates(name string) {
	k := storage.Key(name)
	for _, target := range g.spectates.Keys() {
		if req, ok := g.spectates.Peek(target); ok && (target == k || storage.Key(req.From) == k) {
			g.spectates.Invalidate(target)
			req.Answer(false)
		}
	}
}

// spectateTag describes the watch state of s in listings.
func spectateTag(s *session.Session) string {
	if target := s.Spectating(); target != nil {
		return fmt.Sprintf(" [watching %s]", target.Username())
	}
	if n := len(s.Spectators()); n > 0 {
		return fmt.Sprintf(" [%d watching]", n)
	}
	return ""
}

func (c *Connection) spectateCommands() commands {
	return []command{
		{
			names: m("spectate", "watch"),
			usage: "spectate <player|off>",
			help:  "ask to watch a player's session",
			f: func(c *Connection, s string) error {
				name := argument(s)
				switch {
				case name == "":
					fmt.Fprintln(c.sess, "usage: spectate <player|off>")
					return nil
				case strings.EqualFold(name, "off"):
					c.stopSpectating()
					return nil
				}
				return c.requestSpectate(name)
			},
		},
		{
			names: m("spectators"),
			help:  "list who is watching you",
			f: func(c *Connection, s string) error {
				watchers := c.sess.Spectators()
				if len(watchers) == 0 {
					fmt.Fprintln(c.sess, "No one is watching your session.")
					return nil
				}
				fmt.Fprintln(c.sess, "Current spectators:")
				for _, watcher := range watchers {
					fmt.Fprintf(c.sess, "  - %s\n", watcher.Username())
				}
				return nil
			},
		},
		{
			names: m("nospec", "nospectate"),
			help:  "remove everyone watching you",
			f: func(c *Connection, s string) error {
				if releaseSpectators(c.sess, fmt.Sprintf("* %s has ended the spectator session.", c.sess.Username())) == 0 {
					fmt.Fprintln(c.sess, "No one is watching your session.")
					return nil
				}
				fmt.Fprintln(c.sess, "All spectators have been removed.")
				return nil
			},
		},
	}
}
