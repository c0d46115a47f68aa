package game

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/zond/usurper/group"
	"github.com/zond/usurper/lang"
	"github.com/zond/usurper/presence"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

const historySize = 20

type replyTo struct {
	mu   sync.Mutex
	name string
}

func (r *replyTo) set(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

func (r *replyTo) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// chatHistory keeps the most recent chat lines a player has seen.
type chatHistory struct {
	mu    sync.Mutex
	lines []string
}

func (h *chatHistory) add(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, fmt.Sprintf("[%s] %s", time.Now().Format(time.TimeOnly), line))
	if len(h.lines) > historySize {
		h.lines = h.lines[len(h.lines)-historySize:]
	}
}

func (h *chatHistory) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.lines...)
}

var (
	replies = session.NewKey("replies", func(*session.Context) *replyTo {
		return &replyTo{}
	})
	history = session.NewKey("history", func(*session.Context) *chatHistory {
		return &chatHistory{}
	})
)

// deliver notifies s and remembers the line in its history.
func deliver(s *session.Session, msg string) {
	history.Of(s.GameContext()).add(msg)
	s.Notify(msg)
}

func (c *Connection) remember(msg string) {
	history.Get(c.ctx).add(msg)
	fmt.Fprintln(c.sess, msg)
}

func (c *Connection) roomChat(msg string) {
	loc := c.location()
	for _, m := range c.game.presence.Members(loc) {
		if s, ok := m.(*session.Session); ok && s != c.sess {
			deliver(s, msg)
		}
	}
}

func (c *Connection) globalChat(msg string) {
	for _, s := range c.game.Sessions() {
		if s != c.sess {
			deliver(s, msg)
		}
	}
}

func (c *Connection) tell(name string, msg string) {
	other, found := c.game.Find(name)
	if !found || !presence.Visible(c.viewer(), other) {
		fmt.Fprintf(c.sess, "Player '%s' not found online.\n", name)
		return
	}
	if other == c.sess {
		fmt.Fprintln(c.sess, "Talking to yourself again?")
		return
	}
	replies.Of(other.GameContext()).set(c.sess.Username())
	deliver(other, fmt.Sprintf("%s tells you: %s", c.sess.Username(), msg))
	c.remember(fmt.Sprintf("You tell %s: %s", other.Username(), msg))
}

func (c *Connection) level() int {
	return int(c.gctx.Snapshot().Record.Level)
}

func (c *Connection) invite(name string) error {
	g := c.game
	me := c.sess.Username()
	if c.level() < group.MinInviteLevel {
		fmt.Fprintf(c.sess, "You must be at least level %d to lead a group.\n", group.MinInviteLevel)
		return nil
	}
	other, found := g.Find(name)
	if !found || !presence.Visible(c.viewer(), other) {
		fmt.Fprintf(c.sess, "Player '%s' not found online.\n", name)
		return nil
	}
	if other.Spectating() != nil {
		fmt.Fprintf(c.sess, "%s is currently spectating and cannot be invited.\n", other.Username())
		return nil
	}
	inv, err := g.groups.Invite(me, other.Username())
	switch {
	case errors.Is(err, group.ErrSelfInvite):
		fmt.Fprintln(c.sess, "You cannot invite yourself.")
		return nil
	case errors.Is(err, group.ErrAlreadyGrouped):
		fmt.Fprintf(c.sess, "%s is already in a group.\n", other.Username())
		return nil
	case errors.Is(err, group.ErrPendingInvite):
		fmt.Fprintf(c.sess, "%s already has a pending invitation.\n", other.Username())
		return nil
	case errors.Is(err, group.ErrNotLeader):
		fmt.Fprintln(c.sess, "Only the group leader can invite.")
		return nil
	case errors.Is(err, group.ErrFull):
		fmt.Fprintln(c.sess, "Your group is full.")
		return nil
	case errors.Is(err, group.ErrInDungeon):
		fmt.Fprintln(c.sess, "You cannot invite while your group is in a dungeon.")
		return nil
	case err != nil:
		return err
	}
	other.Notify(fmt.Sprintf("%s invites you to join their group. Type 'accept' or 'deny'.", me))
	fmt.Fprintf(c.sess, "You invite %s to join your group.\n", other.Username())
	g.running.Add(1)
	go func() {
		defer g.running.Done()
		accepted, err := inv.Wait(c.ctx)
		switch {
		case errors.Is(err, group.ErrInviteExpired):
			g.notify(me, fmt.Sprintf("Your invitation to %s expired.", inv.To))
			g.notify(inv.To, fmt.Sprintf("The invitation from %s expired.", me))
		case err != nil:
		case !accepted:
			g.notify(me, fmt.Sprintf("%s declined your invitation.", inv.To))
		}
	}()
	return nil
}

// respond answers a pending group invitation, or failing that a spectate request.
func (c *Connection) respond(accept bool) error {
	g := c.game
	me := c.sess.Username()
	inv, err := g.groups.Respond(me, accept)
	if errors.Is(err, group.ErrNoInvite) || errors.Is(err, group.ErrInviteExpired) {
		if c.respondSpectate(accept) {
			return nil
		}
		if accept {
			fmt.Fprintln(c.sess, "No pending request to accept.")
		} else {
			fmt.Fprintln(c.sess, "No pending request to deny.")
		}
		return nil
	} else if err != nil {
		return err
	}
	if !accept {
		fmt.Fprintf(c.sess, "You decline the invitation from %s.\n", inv.From)
		return nil
	}
	if _, found := g.Find(inv.From); !found {
		fmt.Fprintf(c.sess, "%s is no longer online.\n", inv.From)
		return nil
	}
	grp, err := g.groups.Join(inv.From, me)
	switch {
	case errors.Is(err, group.ErrFull):
		fmt.Fprintln(c.sess, "That group is full.")
		return nil
	case errors.Is(err, group.ErrAlreadyGrouped):
		fmt.Fprintln(c.sess, "You are already in a group.")
		return nil
	case errors.Is(err, group.ErrNotLeader), errors.Is(err, group.ErrNoGroup):
		fmt.Fprintf(c.sess, "%s no longer leads a group.\n", inv.From)
		return nil
	case err != nil:
		return err
	}
	g.notify(inv.From, fmt.Sprintf("%s accepted your invitation.", me))
	fmt.Fprintf(c.sess, "You join %s's group (%s).\n", grp.Leader(), lang.Count(grp.Size(), "member"))
	return nil
}

func (c *Connection) showGroup() {
	grp, found := c.game.groups.Of(c.sess.Username())
	if !found {
		fmt.Fprintln(c.sess, "You are not in a group.")
		return
	}
	tbl := table.New("Member", "Level", "Location").WithWriter(c.sess)
	for _, name := range grp.Members() {
		level, loc := "?", "?"
		if s, found := c.game.Find(name); found {
			if gctx := s.GameContext(); gctx != nil {
				p := gctx.Snapshot()
				level = fmt.Sprint(p.Record.Level)
			}
			loc, _ = c.game.presence.Location(name)
		}
		if storage.Key(name) == storage.Key(grp.Leader()) {
			name += " (leader)"
		}
		tbl.AddRow(name, level, loc)
	}
	tbl.Print()
}

func (c *Connection) chatCommands() commands {
	return []command{
		{
			names: m("say", "s"),
			chat:  true,
			usage: "say <message>",
			help:  "speak to the room",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "Say what?")
					return nil
				}
				c.roomChat(fmt.Sprintf("%s says: %s", c.sess.Username(), msg))
				c.remember(fmt.Sprintf("You say: %s", msg))
				return nil
			},
		},
		{
			names: m("shout"),
			chat:  true,
			usage: "shout <message>",
			help:  "speak to everyone",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "Shout what?")
					return nil
				}
				c.globalChat(fmt.Sprintf("%s shouts: %s", c.sess.Username(), msg))
				c.remember(fmt.Sprintf("You shout: %s", msg))
				return nil
			},
		},
		{
			names: m("tell", "t"),
			chat:  true,
			usage: "tell <player> <message>",
			help:  "whisper to a player",
			f: func(c *Connection, s string) error {
				parts, rest := parseShellTokens(s, 2)
				msg := strings.TrimSpace(rest)
				if len(parts) < 2 || msg == "" {
					fmt.Fprintln(c.sess, "usage: tell <player> <message>")
					return nil
				}
				c.tell(parts[1], msg)
				return nil
			},
		},
		{
			names: m("reply", "r"),
			chat:  true,
			usage: "reply <message>",
			help:  "answer the last tell",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "usage: reply <message>")
					return nil
				}
				to := replies.Get(c.ctx).get()
				if to == "" {
					fmt.Fprintln(c.sess, "No one has told you anything yet.")
					return nil
				}
				c.tell(to, msg)
				return nil
			},
		},
		{
			names: m("emote", "me"),
			chat:  true,
			usage: "emote <action>",
			help:  "act something out",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "Emote what?")
					return nil
				}
				line := fmt.Sprintf("%s %s", c.sess.Username(), msg)
				c.roomChat(line)
				c.remember(line)
				return nil
			},
		},
		{
			names: m("gossip", "gos"),
			chat:  true,
			usage: "gossip <message>",
			help:  "out of character channel",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "Gossip what?")
					return nil
				}
				line := fmt.Sprintf("[Gossip] %s: %s", c.sess.Username(), msg)
				c.globalChat(line)
				c.remember(line)
				return nil
			},
		},
		{
			names: m("who", "w"),
			help:  "list players online",
			f: func(c *Connection, s string) error {
				tbl := table.New("Name", "Level", "Location").WithWriter(c.sess)
				count := 0
				for _, other := range c.game.Sessions() {
					if !presence.Visible(c.viewer(), other) {
						continue
					}
					level := "?"
					if gctx := other.GameContext(); gctx != nil {
						level = fmt.Sprint(gctx.Snapshot().Record.Level)
					}
					loc, _ := c.game.presence.Location(other.Username())
					tbl.AddRow(other.Tier().Colorize(strings.TrimSpace(other.Tier().Title()+" "+other.Username()))+spectateTag(other), level, loc)
					count++
				}
				tbl.Print()
				fmt.Fprintf(c.sess, "%s online.\n", lang.Count(count, "player"))
				return nil
			},
		},
		{
			names: m("history"),
			help:  "show recent chat",
			f: func(c *Connection, s string) error {
				lines := history.Get(c.ctx).all()
				if len(lines) == 0 {
					fmt.Fprintln(c.sess, "No recent chat.")
					return nil
				}
				for _, line := range lines {
					fmt.Fprintln(c.sess, line)
				}
				return nil
			},
		},
		{
			names: m("group", "g"),
			usage: "group [player]",
			help:  "show your group or invite a player",
			f: func(c *Connection, s string) error {
				name := argument(s)
				if name == "" {
					c.showGroup()
					return nil
				}
				return c.invite(name)
			},
		},
		{
			names: m("accept"),
			help:  "accept a group invitation or spectate request",
			f: func(c *Connection, s string) error {
				return c.respond(true)
			},
		},
		{
			names: m("deny", "reject"),
			help:  "decline a group invitation or spectate request",
			f: func(c *Connection, s string) error {
				return c.respond(false)
			},
		},
		{
			names: m("leave"),
			help:  "leave your group",
			f: func(c *Connection, s string) error {
				if !c.game.groups.RemoveMember(c.sess.Username(), "left") {
					fmt.Fprintln(c.sess, "You are not in a group.")
					return nil
				}
				fmt.Fprintln(c.sess, "You leave the group.")
				return nil
			},
		},
		{
			names: m("disband"),
			help:  "disband the group you lead",
			f: func(c *Connection, s string) error {
				me := c.sess.Username()
				grp, found := c.game.groups.Of(me)
				if !found {
					fmt.Fprintln(c.sess, "You are not in a group.")
					return nil
				}
				if storage.Key(grp.Leader()) != c.sess.Key() {
					fmt.Fprintln(c.sess, "Only the group leader can disband the group.")
					return nil
				}
				if c.game.groups.Disband(me, "disbanded by leader") {
					log.Printf("%v disbanded their group", c.sess)
				}
				return nil
			},
		},
	}
}
