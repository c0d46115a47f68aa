package game

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/zond/usurper"
	"github.com/zond/usurper/authority"
	"github.com/zond/usurper/lang"
	"github.com/zond/usurper/presence"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

const (
	offlineSuffix     = " [Offline - saved to DB]"
	defaultReason     = "No reason given"
	defaultWizlogSize = 30
	maxShutdownDelay  = 3600
)

// target is the player a wizard command acts on, online or not.
type target struct {
	name   string
	sess   *session.Session
	gctx   *session.Context
	player *storage.Player
	tier   authority.Tier
}

func (t *target) online() bool {
	return t.sess != nil
}

func (t *target) notify(msg string) {
	if t.online() {
		t.sess.Notify(msg)
	}
}

func (t *target) key() string {
	return storage.Key(t.name)
}

// resolve finds name online, else in the store. A nil target means the
// player was reported missing.
func (c *Connection) resolve(name string) (*target, error) {
	if s, found := c.game.Find(name); found {
		if gctx := s.GameContext(); gctx != nil {
			return &target{
				name: s.Username(),
				sess: s,
				gctx: gctx,
				tier: s.Tier(),
			}, nil
		}
	}
	p, err := c.game.store.LoadPlayer(c.ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(c.sess, "Player '%s' not found.\n", name)
		return nil, nil
	} else if err != nil {
		return nil, usurper.WithStack(err)
	}
	display := p.DisplayName
	if display == "" {
		display = p.Username
	}
	return &target{
		name:   display,
		player: p,
		tier:   authority.Effective(p.Username, p.Tier),
	}, nil
}

func (c *Connection) resolveOnline(name string) *target {
	if s, found := c.game.Find(name); found {
		if gctx := s.GameContext(); gctx != nil {
			return &target{
				name: s.Username(),
				sess: s,
				gctx: gctx,
				tier: s.Tier(),
			}
		}
	}
	fmt.Fprintf(c.sess, "Player '%s' not found online.\n", name)
	return nil
}

// immune reports, and tells the actor, when t can't be coerced.
func (c *Connection) immune(t *target, verb string) bool {
	if c.sess.Tier().Outranks(t.tier) {
		return false
	}
	fmt.Fprintf(c.sess, "You cannot %s a wizard of equal or higher rank.\n", verb)
	return true
}

// tooPowerful reports, and tells the actor, when t outranks the actor.
func (c *Connection) tooPowerful(t *target, verb string) bool {
	if !t.tier.Outranks(c.sess.Tier()) {
		return false
	}
	fmt.Fprintf(c.sess, "You cannot %s a wizard of higher rank.\n", verb)
	return true
}

// editRecord applies f to the target's character and saves it.
func (c *Connection) editRecord(t *target, f func(r *storage.Record) error) error {
	if t.online() {
		var snapshot storage.Player
		if err := t.gctx.WithPlayer(func(p *storage.Player) error {
			if err := f(&p.Record); err != nil {
				return err
			}
			snapshot = *p
			return nil
		}); err != nil {
			return err
		}
		return c.game.store.SavePlayer(c.ctx, &snapshot)
	}
	if err := f(&t.player.Record); err != nil {
		return err
	}
	return c.game.store.SavePlayer(c.ctx, t.player)
}

// audit records an executed privileged command and tells WizNet about it.
func (c *Connection) audit(action string, target string, detail string) error {
	c.game.metrics.wizardActions.WithLabelValues(action).Inc()
	c.game.wiznetAction(c.sess.Username(), action, target)
	return usurper.WithStack(c.game.store.AppendWizardAction(c.ctx, storage.WizardAction{
		Actor:  c.sess.Username(),
		Action: action,
		Target: target,
		Detail: detail,
	}))
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "No"
}

func wizlogLine(w storage.WizardAction) string {
	line := fmt.Sprintf("%s %s: %s", w.When().Format(time.DateTime), w.Actor, w.Action)
	if w.Target != "" {
		line += " -> " + w.Target
	}
	if w.Detail != "" {
		line += " (" + w.Detail + ")"
	}
	return line
}

// splitArgs splits a wizard command line, printing usage when the number of
// arguments after the command is outside [min, max]. max < 0 means unbounded.
func (c *Connection) splitArgs(s string, min int, max int, usage string) ([]string, bool, error) {
	parts, err := shellwords.SplitPosix(s)
	if err != nil {
		return nil, false, usurper.WithStack(err)
	}
	args := parts[1:]
	if len(args) < min || (max >= 0 && len(args) > max) {
		fmt.Fprintf(c.sess, "usage: %s\n", usage)
		return nil, false, nil
	}
	return args, true, nil
}

func (c *Connection) setFlag(name string, flag string, value bool) error {
	t, err := c.resolve(name)
	if err != nil || t == nil {
		return err
	}
	if value && c.tooPowerful(t, verbs[flag]) {
		return nil
	}
	store := c.game.store
	switch flag {
	case "frozen":
		err = store.SetFrozen(c.ctx, t.key(), value)
	case "muted":
		err = store.SetMuted(c.ctx, t.key(), value)
	}
	if err != nil {
		return usurper.WithStack(err)
	}
	if t.online() {
		switch flag {
		case "frozen":
			t.sess.SetFrozen(value)
		case "muted":
			t.sess.SetMuted(value)
		}
		t.gctx.WithPlayer(func(p *storage.Player) error {
			if flag == "frozen" {
				p.Frozen = value
			} else {
				p.Muted = value
			}
			return nil
		})
	}
	msg := flagMessages[flag][value]
	t.notify(msg.target)
	suffix := ""
	if !t.online() {
		suffix = offlineSuffix
	}
	fmt.Fprintf(c.sess, "%s has been %s.%s\n", t.name, msg.state, suffix)
	return c.audit(msg.action, t.name, "")
}

var verbs = map[string]string{
	"frozen": "freeze",
	"muted":  "mute",
}

type flagMessage struct {
	target string
	state  string
	action string
}

var flagMessages = map[string]map[bool]flagMessage{
	"frozen": {
		true:  {"You have been frozen solid by a divine power! You cannot move or act.", "frozen", "froze"},
		false: {"The ice around you shatters! You can move again.", "thawed", "thawed"},
	},
	"muted": {
		true:  {mutedMessage, "muted", "muted"},
		false: {"Your voice has been restored. You can speak again.", "unmuted", "unmuted"},
	},
}

func (c *Connection) wizCommands() commands {
	return []command{
		{
			names: m("/wizhelp"),
			min:   authority.Builder,
			usage: "/wizhelp",
			help:  "show this help",
			f: func(c *Connection, s string) error {
				tbl := table.New("Command", "Tier", "Description").WithWriter(c.sess)
				for _, cmd := range c.wizCommands().available(c.sess.Tier()) {
					tbl.AddRow(cmd.usage, cmd.min, cmd.help)
				}
				tbl.Print()
				return nil
			},
		},
		{
			names: m("/wiznet", "/wiz"),
			min:   authority.Builder,
			usage: "/wiznet <message>",
			help:  "wizard chat channel",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "usage: /wiznet <message>")
					return nil
				}
				c.game.wiznet(c.sess.Username(), msg)
				return nil
			},
		},
		{
			names: m("/wizwho"),
			min:   authority.Builder,
			usage: "/wizwho",
			help:  "show online wizards",
			f: func(c *Connection, s string) error {
				tbl := table.New("Name", "Tier", "Kind", "Flags", "Idle").WithWriter(c.sess)
				count := 0
				now := time.Now()
				for _, s := range c.game.Sessions() {
					if !s.Tier().WizNet() || !presence.Visible(c.viewer(), s) {
						continue
					}
					tbl.AddRow(s.Username(), s.Tier(), s.Kind(), sessionFlags(s), s.Idle(now).Round(time.Second))
					count++
				}
				if count == 0 {
					fmt.Fprintln(c.sess, "No wizards online.")
					return nil
				}
				tbl.Print()
				fmt.Fprintf(c.sess, "%s online\n", lang.Count(count, "wizard"))
				return nil
			},
		},
		{
			names: m("/holylight"),
			min:   authority.Builder,
			usage: "/holylight",
			help:  "toggle enhanced vision",
			f: func(c *Connection, s string) error {
				on := !c.sess.HolyLight()
				c.sess.SetHolyLight(on)
				if on {
					fmt.Fprintln(c.sess, "Holy light toggled. You see all that is hidden.")
				} else {
					fmt.Fprintln(c.sess, "Holy light toggled. Your vision returns to normal.")
				}
				return c.audit("toggled holylight", "", yesNo(on))
			},
		},
		{
			names: m("/stat"),
			min:   authority.Builder,
			usage: "/stat <player>",
			help:  "inspect a player's stats",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/stat <player>")
				if !ok {
					return err
				}
				t, err := c.resolve(args[0])
				if err != nil || t == nil {
					return err
				}
				var p storage.Player
				if t.online() {
					p = t.gctx.Snapshot()
				} else {
					p = *t.player
				}
				status := "Offline"
				if t.online() {
					status = "ONLINE"
				}
				tbl := table.New("Field", "Value").WithWriter(c.sess)
				tbl.AddRow("name", t.name)
				tbl.AddRow("status", status)
				tbl.AddRow("tier", t.tier)
				for _, field := range storage.Fields() {
					value, _ := p.Record.Field(field)
					tbl.AddRow(field, value)
				}
				if t.online() {
					tbl.AddRow("connection", t.sess.Kind())
					tbl.AddRow("frozen", yesNo(t.sess.Frozen()))
					tbl.AddRow("muted", yesNo(t.sess.Muted()))
					tbl.AddRow("godmode", yesNo(t.sess.GodMode()))
					tbl.AddRow("invisible", yesNo(t.sess.Invisible()))
				} else {
					tbl.AddRow("frozen", yesNo(p.Frozen))
					tbl.AddRow("muted", yesNo(p.Muted))
					tbl.AddRow("banned", yesNo(p.Banned))
				}
				tbl.AddRow("playtime", lang.Count(int(p.PlaytimeMinutes), "minute"))
				tbl.Print()
				return nil
			},
		},
		{
			names: m("/where"),
			min:   authority.Builder,
			usage: "/where",
			help:  "show all player locations",
			f: func(c *Connection, s string) error {
				tbl := table.New("Name", "Location", "Kind").WithWriter(c.sess)
				count := 0
				for _, s := range c.game.Sessions() {
					if !presence.Visible(c.viewer(), s) {
						continue
					}
					loc, _ := c.game.presence.Location(s.Username())
					tbl.AddRow(s.Username(), loc, s.Kind())
					count++
				}
				tbl.Print()
				fmt.Fprintf(c.sess, "%s online\n", lang.Count(count, "player"))
				return nil
			},
		},
		{
			names: m("/invis"),
			min:   authority.Immortal,
			usage: "/invis",
			help:  "become invisible",
			f: func(c *Connection, s string) error {
				if c.sess.Invisible() {
					fmt.Fprintln(c.sess, "You are already invisible.")
					return nil
				}
				c.sess.SetInvisible(true)
				fmt.Fprintln(c.sess, "You slowly vanish from sight...")
				return c.audit("went invisible", "", "")
			},
		},
		{
			names: m("/visible"),
			min:   authority.Immortal,
			usage: "/visible",
			help:  "become visible",
			f: func(c *Connection, s string) error {
				if !c.sess.Invisible() {
					fmt.Fprintln(c.sess, "You are already visible.")
					return nil
				}
				c.sess.SetInvisible(false)
				fmt.Fprintln(c.sess, "You slowly fade back into visibility.")
				return c.audit("became visible", "", "")
			},
		},
		{
			names: m("/godmode"),
			min:   authority.Immortal,
			usage: "/godmode",
			help:  "toggle invulnerability",
			f: func(c *Connection, s string) error {
				on := !c.sess.GodMode()
				c.sess.SetGodMode(on)
				if on {
					fmt.Fprintln(c.sess, "God mode enabled. You are invulnerable.")
				} else {
					fmt.Fprintln(c.sess, "God mode disabled. You are mortal again.")
				}
				return c.audit("toggled godmode", "", yesNo(on))
			},
		},
		{
			names: m("/heal"),
			min:   authority.Immortal,
			usage: "/heal [player]",
			help:  "heal self or player",
			f: func(c *Connection, s string) error {
				return c.restoreCommand(s, "/heal [player]", false)
			},
		},
		{
			names: m("/restore"),
			min:   authority.Immortal,
			usage: "/restore [player]",
			help:  "restore hit points and mana",
			f: func(c *Connection, s string) error {
				return c.restoreCommand(s, "/restore [player]", true)
			},
		},
		{
			names: m("/peace"),
			min:   authority.Immortal,
			usage: "/peace",
			help:  "stop all combat in the room",
			f: func(c *Connection, s string) error {
				loc := c.location()
				c.game.presence.Broadcast(loc, "A wave of tranquility washes over the area. All combat ceases.", c.sess.Username())
				fmt.Fprintln(c.sess, "A wave of tranquility washes over the area. All combat ceases.")
				return c.audit("made peace in", loc, "")
			},
		},
		{
			names: m("/echo"),
			min:   authority.Immortal,
			usage: "/echo <message>",
			help:  "send a room message as narrator",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "usage: /echo <message>")
					return nil
				}
				loc := c.location()
				c.game.presence.Broadcast(loc, msg, c.sess.Username())
				fmt.Fprintln(c.sess, msg)
				return c.audit("echoed in", loc, msg)
			},
		},
		{
			names: m("/goto"),
			min:   authority.Immortal,
			usage: "/goto <location|player>",
			help:  "teleport to a location or player",
			f: func(c *Connection, s string) error {
				dest := argument(s)
				if dest == "" {
					fmt.Fprintln(c.sess, "usage: /goto <location|player>")
					return nil
				}
				if other, found := c.game.Find(dest); found && other != c.sess {
					if loc, found := c.game.presence.Location(other.Username()); found {
						c.moveTo(loc)
						fmt.Fprintf(c.sess, "You vanish and reappear at %s's location.\n", other.Username())
						return c.audit("went to", loc, "")
					}
				}
				c.moveTo(dest)
				fmt.Fprintf(c.sess, "You vanish and reappear at %s.\n", dest)
				return c.audit("went to", dest, "")
			},
		},
		{
			names: m("/summon"),
			min:   authority.Wizard,
			usage: "/summon <player>",
			help:  "pull a player to your location",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/summon <player>")
				if !ok {
					return err
				}
				t := c.resolveOnline(args[0])
				if t == nil || c.immune(t, "summon") {
					return nil
				}
				loc := c.location()
				c.game.relocate(t.sess, loc)
				t.notify("A powerful force pulls you through the void...")
				fmt.Fprintf(c.sess, "You summon %s to your location.\n", t.name)
				return c.audit("summoned", t.name, loc)
			},
		},
		{
			names: m("/transfer", "/trans"),
			min:   authority.Wizard,
			usage: "/transfer <player> <location>",
			help:  "send a player to a location",
			f: func(c *Connection, s string) error {
				parts, rest := parseShellTokens(s, 2)
				loc := strings.TrimSpace(rest)
				if len(parts) < 2 || loc == "" {
					fmt.Fprintln(c.sess, "usage: /transfer <player> <location>")
					return nil
				}
				t, err := c.resolve(parts[1])
				if err != nil || t == nil {
					return err
				}
				if c.tooPowerful(t, "transfer") {
					return nil
				}
				suffix := ""
				if t.online() {
					c.game.relocate(t.sess, loc)
					t.notify("You are whisked away by a divine force...")
				} else {
					if err := c.editRecord(t, func(r *storage.Record) error {
						r.Location = loc
						return nil
					}); err != nil {
						return err
					}
					suffix = offlineSuffix
				}
				fmt.Fprintf(c.sess, "Transferred %s to %s.%s\n", t.name, loc, suffix)
				return c.audit("transferred", t.name, loc)
			},
		},
		{
			names: m("/snoop"),
			min:   authority.Wizard,
			usage: "/snoop <player|off>",
			help:  "watch a player's screen",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/snoop <player|off>")
				if !ok {
					return err
				}
				current := c.sess.Snooping()
				if strings.EqualFold(args[0], "off") {
					if current == nil {
						fmt.Fprintln(c.sess, "You are not snooping anyone.")
						return nil
					}
					current.RemoveSnooper(c.sess)
					fmt.Fprintln(c.sess, "Snoop disabled.")
					return c.audit("stopped snooping", current.Username(), "")
				}
				t := c.resolveOnline(args[0])
				if t == nil {
					return nil
				}
				if t.sess == c.sess {
					fmt.Fprintln(c.sess, "You cannot snoop yourself.")
					return nil
				}
				if c.tooPowerful(t, "snoop") {
					return nil
				}
				if current == t.sess {
					current.RemoveSnooper(c.sess)
					fmt.Fprintf(c.sess, "Stopped snooping %s.\n", t.name)
					return c.audit("stopped snooping", t.name, "")
				}
				if current != nil {
					current.RemoveSnooper(c.sess)
				}
				t.sess.AddSnooper(c.sess)
				fmt.Fprintf(c.sess, "Now snooping %s.\n", t.name)
				return c.audit("snooped", t.name, "")
			},
		},
		{
			names: m("/force"),
			min:   authority.Wizard,
			usage: "/force <player> <command>",
			help:  "make a player execute a command",
			f: func(c *Connection, s string) error {
				parts, rest := parseShellTokens(s, 2)
				cmd := strings.TrimSpace(rest)
				if len(parts) < 2 || cmd == "" {
					fmt.Fprintln(c.sess, "usage: /force <player> <command>")
					return nil
				}
				t := c.resolveOnline(parts[1])
				if t == nil || c.immune(t, "force") {
					return nil
				}
				t.sess.Enqueue(cmd)
				fmt.Fprintf(c.sess, "Forced %s to: %s\n", t.name, cmd)
				return c.audit("forced", t.name, cmd)
			},
		},
		{
			names: m("/set"),
			min:   authority.Wizard,
			usage: "/set <player> <field> <value>",
			help:  "modify player stats",
			f: func(c *Connection, s string) error {
				parts, rest := parseShellTokens(s, 3)
				value := strings.TrimSpace(rest)
				if len(parts) < 3 || value == "" {
					fmt.Fprintln(c.sess, "usage: /set <player> <field> <value>")
					fmt.Fprintf(c.sess, "Fields: %s\n", strings.Join(storage.Fields(), ", "))
					return nil
				}
				t, err := c.resolve(parts[1])
				if err != nil || t == nil {
					return err
				}
				if c.tooPowerful(t, "modify") {
					return nil
				}
				field := strings.ToLower(parts[2])
				var old, updated string
				var invalid error
				if err := c.editRecord(t, func(r *storage.Record) error {
					old, updated, invalid = r.SetField(field, value)
					return invalid
				}); invalid != nil {
					fmt.Fprintln(c.sess, invalid.Error())
					return nil
				} else if err != nil {
					return err
				}
				suffix := offlineSuffix
				if t.online() {
					suffix = ""
					if field == "location" {
						c.game.presence.Enter(updated, t.sess)
					}
					t.notify(fmt.Sprintf("Your %s has been set to %s by a divine power.", field, updated))
				}
				fmt.Fprintf(c.sess, "Set %s's %s to %s (was %s).%s\n", t.name, field, updated, old, suffix)
				return c.audit("set", t.name, fmt.Sprintf("%s: %s -> %s", field, old, updated))
			},
		},
		{
			names: m("/slay"),
			min:   authority.Wizard,
			usage: "/slay <player>",
			help:  "instantly kill a player",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/slay <player>")
				if !ok {
					return err
				}
				t, err := c.resolve(args[0])
				if err != nil || t == nil || c.immune(t, "slay") {
					return err
				}
				if err := c.editRecord(t, func(r *storage.Record) error {
					r.HP = 0
					return nil
				}); err != nil {
					return err
				}
				suffix := offlineSuffix
				if t.online() {
					suffix = ""
					t.notify("The hand of a god reaches down and smites you!")
					if loc, found := c.game.presence.Location(t.name); found {
						c.game.presence.Broadcast(loc, fmt.Sprintf("%s is struck down by divine wrath!", t.name), t.name, c.sess.Username())
					}
				}
				fmt.Fprintf(c.sess, "You raise your hand and smite %s. They fall lifeless.%s\n", t.name, suffix)
				return c.audit("slew", t.name, "")
			},
		},
		{
			names: m("/freeze"),
			min:   authority.Wizard,
			usage: "/freeze <player>",
			help:  "freeze a player",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/freeze <player>")
				if !ok {
					return err
				}
				return c.setFlag(args[0], "frozen", true)
			},
		},
		{
			names: m("/thaw"),
			min:   authority.Wizard,
			usage: "/thaw <player>",
			help:  "unfreeze a player",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/thaw <player>")
				if !ok {
					return err
				}
				return c.setFlag(args[0], "frozen", false)
			},
		},
		{
			names: m("/mute"),
			min:   authority.Wizard,
			usage: "/mute <player>",
			help:  "mute a player",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/mute <player>")
				if !ok {
					return err
				}
				return c.setFlag(args[0], "muted", true)
			},
		},
		{
			names: m("/unmute"),
			min:   authority.Wizard,
			usage: "/unmute <player>",
			help:  "unmute a player",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/unmute <player>")
				if !ok {
					return err
				}
				return c.setFlag(args[0], "muted", false)
			},
		},
		{
			names: m("/ban"),
			min:   authority.Archwizard,
			usage: "/ban <player> [reason]",
			help:  "ban a player",
			f: func(c *Connection, s string) error {
				parts, rest := parseShellTokens(s, 2)
				if len(parts) < 2 {
					fmt.Fprintln(c.sess, "usage: /ban <player> [reason]")
					return nil
				}
				reason := strings.TrimSpace(rest)
				if reason == "" {
					reason = defaultReason
				}
				t, err := c.resolve(parts[1])
				if err != nil || t == nil {
					return err
				}
				if authority.IsImplementor(t.name) || c.tooPowerful(t, "ban") {
					if authority.IsImplementor(t.name) {
						fmt.Fprintln(c.sess, "The Implementor cannot be banned.")
					}
					return nil
				}
				if err := c.game.store.Ban(c.ctx, t.key(), reason); err != nil {
					return usurper.WithStack(err)
				}
				suffix := offlineSuffix
				if t.online() {
					suffix = ""
					go t.sess.Disconnect(storage.BannedError{Reason: reason}.Error())
				}
				fmt.Fprintf(c.sess, "%s has been BANNED: %s%s\n", t.name, reason, suffix)
				return c.audit("banned", t.name, reason)
			},
		},
		{
			names: m("/unban"),
			min:   authority.Archwizard,
			usage: "/unban <player>",
			help:  "unban a player",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/unban <player>")
				if !ok {
					return err
				}
				if err := c.game.store.Unban(c.ctx, args[0]); errors.Is(err, storage.ErrNotFound) {
					fmt.Fprintf(c.sess, "Player '%s' not found.\n", args[0])
					return nil
				} else if err != nil {
					return usurper.WithStack(err)
				}
				fmt.Fprintf(c.sess, "%s has been unbanned.\n", args[0])
				return c.audit("unbanned", args[0], "")
			},
		},
		{
			names: m("/kick"),
			min:   authority.Archwizard,
			usage: "/kick <player> [reason]",
			help:  "disconnect a player",
			f: func(c *Connection, s string) error {
				parts, rest := parseShellTokens(s, 2)
				if len(parts) < 2 {
					fmt.Fprintln(c.sess, "usage: /kick <player> [reason]")
					return nil
				}
				reason := strings.TrimSpace(rest)
				if reason == "" {
					reason = defaultReason
				}
				t := c.resolveOnline(parts[1])
				if t == nil || c.tooPowerful(t, "kick") {
					return nil
				}
				c.game.Kick(t.name, reason)
				fmt.Fprintf(c.sess, "Kicked %s: %s\n", t.name, reason)
				return c.audit("kicked", t.name, reason)
			},
		},
		{
			names: m("/broadcast", "/bc"),
			min:   authority.Archwizard,
			usage: "/broadcast <message>",
			help:  "global system message",
			f: func(c *Connection, s string) error {
				msg := argument(s)
				if msg == "" {
					fmt.Fprintln(c.sess, "usage: /broadcast <message>")
					return nil
				}
				c.game.Broadcast(fmt.Sprintf("[SYSTEM] %s", msg))
				fmt.Fprintln(c.sess, "Broadcast sent.")
				return c.audit("broadcast", "", msg)
			},
		},
		{
			names: m("/promote"),
			min:   authority.Archwizard,
			usage: "/promote <player> <tier>",
			help:  "raise a player's wizard tier",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 2, 2, "/promote <player> <tier>")
				if !ok {
					return err
				}
				tier, err := authority.Parse(args[1])
				if err != nil {
					fmt.Fprintf(c.sess, "Unknown wizard tier: '%s'\n", args[1])
					return nil
				}
				if !authority.Assignable(tier) {
					fmt.Fprintln(c.sess, "No one can be promoted to Implementor. That title is eternal.")
					return nil
				}
				if !c.sess.Tier().Outranks(tier) {
					fmt.Fprintln(c.sess, "You can only promote to a tier below your own.")
					return nil
				}
				t, err := c.resolve(args[0])
				if err != nil || t == nil || c.immune(t, "promote") {
					return err
				}
				if !tier.Outranks(t.tier) {
					fmt.Fprintf(c.sess, "%s is already %s.\n", t.name, t.tier)
					return nil
				}
				return c.changeTier(t, tier, "promoted", fmt.Sprintf("You have been promoted to %s by %s!", tier, c.sess.Username()))
			},
		},
		{
			names: m("/demote"),
			min:   authority.Archwizard,
			usage: "/demote <player>",
			help:  "lower a player's wizard tier by one",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 1, 1, "/demote <player>")
				if !ok {
					return err
				}
				t, err := c.resolve(args[0])
				if err != nil || t == nil {
					return err
				}
				if t.tier == authority.Implementor {
					fmt.Fprintln(c.sess, "The Implementor cannot be demoted. That power is eternal.")
					return nil
				}
				if c.immune(t, "demote") {
					return nil
				}
				if t.tier == authority.Mortal {
					fmt.Fprintf(c.sess, "%s is already a mortal.\n", t.name)
					return nil
				}
				tier := t.tier - 1
				return c.changeTier(t, tier, "demoted", fmt.Sprintf("You have been demoted to %s by %s.", tier, c.sess.Username()))
			},
		},
		{
			names: m("/shutdown", "/reboot"),
			min:   authority.God,
			usage: "/shutdown <seconds> [reason]",
			help:  "initiate server shutdown",
			f: func(c *Connection, s string) error {
				parts, rest := parseShellTokens(s, 2)
				var seconds int
				var err error
				if len(parts) == 2 {
					seconds, err = strconv.Atoi(parts[1])
				}
				if len(parts) < 2 || err != nil || seconds < 1 || seconds > maxShutdownDelay {
					fmt.Fprintf(c.sess, "usage: /shutdown <seconds> [reason]  (1-%d seconds)\n", maxShutdownDelay)
					return nil
				}
				reason := strings.TrimSpace(rest)
				if err := c.game.Shutdown(c.ctx, c.sess.Username(), seconds, reason); errors.Is(err, ErrShutdownInProgress) {
					fmt.Fprintln(c.sess, "A shutdown is already in progress.")
					return nil
				} else if err != nil {
					return err
				}
				fmt.Fprintf(c.sess, "Initiating server shutdown in %s...\n", lang.Count(seconds, "second"))
				if reason == "" {
					reason = "No reason"
				}
				return c.audit("initiated shutdown", "", fmt.Sprintf("%ds: %s", seconds, reason))
			},
		},
		{
			names: m("/wizlog"),
			min:   authority.God,
			usage: "/wizlog [n]",
			help:  "view the wizard audit log",
			f: func(c *Connection, s string) error {
				args, ok, err := c.splitArgs(s, 0, 1, "/wizlog [n]")
				if !ok {
					return err
				}
				n := defaultWizlogSize
				if len(args) == 1 {
					if n, err = strconv.Atoi(args[0]); err != nil || n < 1 {
						fmt.Fprintln(c.sess, "usage: /wizlog [n]")
						return nil
					}
				}
				actions, err := c.game.store.RecentWizardActions(c.ctx, n)
				if err != nil {
					return usurper.WithStack(err)
				}
				if len(actions) == 0 {
					fmt.Fprintln(c.sess, "No wizard actions logged yet.")
					return nil
				}
				for _, action := range actions {
					fmt.Fprintln(c.sess, wizlogLine(action))
				}
				return nil
			},
		},
	}
}

func (c *Connection) restoreCommand(s string, usage string, full bool) error {
	args, ok, err := c.splitArgs(s, 0, 1, usage)
	if !ok {
		return err
	}
	name := c.sess.Username()
	if len(args) == 1 {
		name = args[0]
	}
	t := c.resolveOnline(name)
	if t == nil {
		return nil
	}
	var record storage.Record
	if err := c.editRecord(t, func(r *storage.Record) error {
		if full {
			r.Restore()
		} else {
			r.HP = r.MaxHP
		}
		record = *r
		return nil
	}); err != nil {
		return err
	}
	if full {
		fmt.Fprintf(c.sess, "%s has been fully restored (HP: %d, Mana: %d).\n", t.name, record.MaxHP, record.MaxMana)
		if t.sess != c.sess {
			t.notify("Divine energy floods through you. You feel completely restored.")
		}
		return c.audit("restored", t.name, "")
	}
	fmt.Fprintf(c.sess, "%s has been healed to full HP (%d).\n", t.name, record.MaxHP)
	if t.sess != c.sess {
		t.notify("A divine warmth fills your body. You feel fully healed.")
	}
	return c.audit("healed", t.name, "")
}

// changeTier stores and mirrors a new tier for t.
func (c *Connection) changeTier(t *target, tier authority.Tier, action string, notice string) error {
	old := t.tier
	if err := c.game.store.SetTier(c.ctx, t.key(), tier); err != nil {
		return usurper.WithStack(err)
	}
	suffix := offlineSuffix
	if t.online() {
		suffix = ""
		t.sess.SetTier(tier)
		t.gctx.WithPlayer(func(p *storage.Player) error {
			p.Tier = tier
			return nil
		})
		t.notify(notice)
	}
	fmt.Fprintf(c.sess, "%s %s from %s to %s.%s\n", t.name, action, old, tier, suffix)
	return c.audit(action, t.name, fmt.Sprintf("%s -> %s", old, tier))
}

func sessionFlags(s *session.Session) string {
	flags := []string{}
	if s.Invisible() {
		flags = append(flags, "invis")
	}
	if s.GodMode() {
		flags = append(flags, "god")
	}
	if s.HolyLight() {
		flags = append(flags, "holy")
	}
	if s.Frozen() {
		flags = append(flags, "frozen")
	}
	if s.Muted() {
		flags = append(flags, "muted")
	}
	return strings.Join(flags, ",")
}
