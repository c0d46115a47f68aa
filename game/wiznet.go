package game

import (
	"fmt"

	"github.com/zond/usurper/storage"
)

func (g *Game) wiznetRecipients(exclude ...string) []func(string) {
	skip := map[string]bool{}
	for _, name := range exclude {
		skip[storage.Key(name)] = true
	}
	result := []func(string){}
	for _, s := range g.Sessions() {
		if s.Tier().WizNet() && !skip[s.Key()] {
			result = append(result, s.Notify)
		}
	}
	return result
}

// wiznet relays coordination chatter from one wizard to all others.
func (g *Game) wiznet(from string, msg string) {
	line := fmt.Sprintf("[WizNet] %s: %s", from, msg)
	for _, notify := range g.wiznetRecipients() {
		notify(line)
	}
}

// wiznetSystem posts a system notice, such as a wizard connecting.
func (g *Game) wiznetSystem(msg string, exclude ...string) {
	line := fmt.Sprintf("[WizNet] %s", msg)
	for _, notify := range g.wiznetRecipients(exclude...) {
		notify(line)
	}
}

// wiznetAction tells every wizard except the actor about an executed privileged command.
func (g *Game) wiznetAction(actor string, action string, target string) {
	line := fmt.Sprintf("[WizNet] >> %s %s", actor, action)
	if target != "" {
		line += " " + target
	}
	for _, notify := range g.wiznetRecipients(actor) {
		notify(line)
	}
}
