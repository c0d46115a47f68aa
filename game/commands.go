package game

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zond/usurper"
	"github.com/zond/usurper/authority"
	"github.com/zond/usurper/lang"
	"github.com/zond/usurper/presence"
	"github.com/zond/usurper/session"
	"github.com/zond/usurper/storage"
)

const (
	deniedMessage = "You do not have sufficient wizard powers for that command."
	mutedMessage  = "You have been silenced by the gods. You cannot speak."
)

var whitespacePattern = regexp.MustCompile(`\s+`)

type command struct {
	names map[string]bool
	// min is the lowest tier allowed to run the command.
	min authority.Tier
	// chat commands are refused while muted.
	chat  bool
	usage string
	help  string
	f     func(*Connection, string) error
}

type attempter interface {
	attempt(conn *Connection, name string, line string) (bool, error)
}

type commands []command

func (c commands) attempt(conn *Connection, name string, line string) (bool, error) {
	for _, cmd := range c {
		if cmd.names[name] {
			if !conn.sess.Tier().Allows(cmd.min) {
				fmt.Fprintln(conn.sess, deniedMessage)
				return true, nil
			}
			if cmd.chat && conn.sess.Muted() {
				fmt.Fprintln(conn.sess, mutedMessage)
				return true, nil
			}
			if err := cmd.f(conn, line); err != nil {
				return true, usurper.WithStack(err)
			}
			return true, nil
		}
	}
	return false, nil
}

func (c commands) available(tier authority.Tier) commands {
	result := commands{}
	for _, cmd := range c {
		if tier.Allows(cmd.min) {
			result = append(result, cmd)
		}
	}
	return result
}

func (cmd command) sortedNames() []string {
	result := make([]string, 0, len(cmd.names))
	for name := range cmd.names {
		result = append(result, name)
	}
	sort.Slice(result, func(i, j int) bool {
		if len(result[i]) != len(result[j]) {
			return len(result[i]) > len(result[j])
		}
		return result[i] < result[j]
	})
	return result
}

func m(s ...string) map[string]bool {
	res := map[string]bool{}
	for _, p := range s {
		res[p] = true
	}
	return res
}

// parseShellTokens parses up to n shell-style tokens from s and returns them plus the remaining string.
// If n <= 0, parses all tokens.
// Handles single quotes, double quotes, and backslash escapes.
func parseShellTokens(s string, n int) (tokens []string, rest string) {
	i := 0
	for (n <= 0 || len(tokens) < n) && i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		var token strings.Builder
		for i < len(s) && s[i] != ' ' && s[i] != '\t' {
			switch s[i] {
			case '\'':
				i++
				for i < len(s) && s[i] != '\'' {
					token.WriteByte(s[i])
					i++
				}
				if i < len(s) {
					i++
				}
			case '"':
				i++
				for i < len(s) && s[i] != '"' {
					if s[i] == '\\' && i+1 < len(s) {
						i++
					}
					token.WriteByte(s[i])
					i++
				}
				if i < len(s) {
					i++
				}
			case '\\':
				i++
				if i < len(s) {
					token.WriteByte(s[i])
					i++
				}
			default:
				token.WriteByte(s[i])
				i++
			}
		}
		tokens = append(tokens, token.String())
	}
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return tokens, s[i:]
}

// argument returns everything after the command word.
func argument(line string) string {
	_, rest := parseShellTokens(line, 1)
	return strings.TrimSpace(rest)
}

// holyViewer sees every invisible player when the viewer has holylight on.
type holyViewer struct {
	*session.Session
}

func (h holyViewer) Tier() authority.Tier {
	if h.Session.HolyLight() {
		return authority.Implementor
	}
	return h.Session.Tier()
}

func (c *Connection) viewer() presence.Member {
	return holyViewer{c.sess}
}

func (c *Connection) look() error {
	loc := c.location()
	fmt.Fprintln(c.sess, loc)
	if names := c.game.presence.NamesAt(loc, c.viewer()); len(names) > 0 {
		fmt.Fprintf(c.sess, "Also here: %s.\n", lang.Enumerator{}.Do(names...))
	}
	return nil
}

// relocate moves an online player, keeping the record and the presence index in step.
func (g *Game) relocate(s *session.Session, location string) {
	if gctx := s.GameContext(); gctx != nil {
		gctx.WithPlayer(func(p *storage.Player) error {
			p.Record.Location = location
			return nil
		})
	}
	g.presence.Enter(location, s)
}

func (c *Connection) moveTo(location string) {
	c.game.relocate(c.sess, location)
}

func (c *Connection) basicCommands() commands {
	return []command{
		{
			names: m("l", "look"),
			help:  "look around",
			f: func(c *Connection, s string) error {
				return c.look()
			},
		},
		{
			names: m("go"),
			usage: "go <place>",
			help:  "travel somewhere",
			f: func(c *Connection, s string) error {
				place := argument(s)
				if place == "" {
					fmt.Fprintln(c.sess, "usage: go <place>")
					return nil
				}
				if strings.EqualFold(place, c.location()) {
					fmt.Fprintln(c.sess, "You are already there.")
					return nil
				}
				c.moveTo(place)
				return c.look()
			},
		},
		{
			names: m("quit", "q"),
			help:  "leave the realm",
			f: func(c *Connection, s string) error {
				fmt.Fprintln(c.sess, "Goodbye!")
				return errQuit
			},
		},
		{
			names: m("help", "?"),
			help:  "list commands",
			f: func(c *Connection, s string) error {
				names := []string{}
				for _, set := range []commands{c.chatCommands(), c.spectateCommands(), c.basicCommands()} {
					for _, cmd := range set {
						names = append(names, cmd.sortedNames()[0])
					}
				}
				sort.Strings(names)
				fmt.Fprintf(c.sess, "Commands: %s\n", strings.Join(names, ", "))
				if c.sess.Tier().WizNet() {
					fmt.Fprintln(c.sess, "Type /wizhelp for wizard commands.")
				}
				return nil
			},
		},
	}
}
