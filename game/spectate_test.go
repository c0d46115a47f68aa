package game

import (
	"testing"
	"time"

	"github.com/zond/usurper/storage"
)

func spectateConfig() Config {
	c := testConfig()
	c.InviteTimeout = 2 * time.Second
	return c
}

// watch makes watcher a spectator of target.
func watch(t *testing.T, watcher, target *testClient, watcherName, targetName string) {
	t.Helper()
	watcher.send("spectate %s", targetName)
	watcher.expect("You ask to watch " + targetName + "'s session.")
	target.expect(watcherName + " wants to watch your session. Type 'accept' or 'deny'.")
	target.send("accept")
	target.expect("You accepted " + watcherName + "'s spectate request.")
	watcher.expect("You are now watching " + targetName + ". Type 'spectate off' to stop.")
	target.expect("* " + watcherName + " is now watching your session.")
}

func TestSpectateSession(t *testing.T) {
	g, _ := newTestGame(t, spectateConfig())
	alice := login(t, g, "alice")
	bob := login(t, g, "bob")
	carol := login(t, g, "carol")
	watch(t, alice, bob, "alice", "bob")

	bob.send("look")
	bob.expect(storage.DefaultLocation)
	alice.expect("[bob] ")

	bob.send("spectators")
	bob.expect("Current spectators:")
	bob.expect("  - alice")
	alice.send("w")
	alice.expect("[watching bob]")

	g.Broadcast("The realm trembles.")
	bob.expect("The realm trembles.")
	carol.expect("The realm trembles.")
	alice.expect("[bob] The realm trembles.")
	for _, line := range alice.seen() {
		if line == "The realm trembles." {
			t.Error("spectator received the broadcast directly")
		}
	}

	s, _ := g.Find("carol")
	s.GameContext().WithPlayer(func(p *storage.Player) error {
		p.Record.Level = 5
		return nil
	})
	carol.send("g alice")
	carol.expect("alice is currently spectating and cannot be invited.")

	watcher, _ := g.Find("alice")
	watcher.Touch(time.Now().Add(-time.Hour))
	if reaped := g.reapIdle(time.Now()); len(reaped) != 0 {
		t.Errorf("reaped %q, want nobody", reaped)
	}

	bob.send("nospec")
	bob.expect("All spectators have been removed.")
	alice.expect("* bob has ended the spectator session.")
	if watcher.Spectating() != nil {
		t.Error("alice should no longer be spectating")
	}
	bob.send("nospec")
	bob.expect("No one is watching your session.")
}

func TestSpectateRefusals(t *testing.T) {
	g, _ := newTestGame(t, spectateConfig())
	alice := login(t, g, "alice")
	bob := login(t, g, "bob")

	alice.send("spectate")
	alice.expect("usage: spectate <player|off>")
	alice.send("spectate alice")
	alice.expect("You cannot spectate yourself.")
	alice.send("spectate nobody")
	alice.expect("Player 'nobody' not found online.")
	alice.send("spectate off")
	alice.expect("You are not watching anyone.")

	alice.send("watch bob")
	bob.expect("alice wants to watch your session.")
	alice.send("watch bob")
	alice.expect("bob already has a pending spectate request.")
	bob.send("reject")
	bob.expect("You denied alice's spectate request.")
	alice.expect("bob denied your spectate request.")
	bob.send("reject")
	bob.expect("No pending request to deny.")
	bob.send("accept")
	bob.expect("No pending request to accept.")
}

func TestSpectateExpires(t *testing.T) {
	g, _ := newTestGame(t, testConfig())
	alice := login(t, g, "alice")
	bob := login(t, g, "bob")

	alice.send("spectate bob")
	bob.expect("alice wants to watch your session.")
	alice.expect("Your request to watch bob expired.")
	bob.send("accept")
	bob.expect("No pending request to accept.")
	if s, _ := g.Find("alice"); s.Spectating() != nil {
		t.Error("alice should not be spectating")
	}
}

func TestSpectateStopAndDisconnect(t *testing.T) {
	g, _ := newTestGame(t, spectateConfig())
	alice := login(t, g, "alice")
	bob := login(t, g, "bob")
	carol := login(t, g, "carol")

	watch(t, alice, bob, "alice", "bob")
	alice.send("spectate carol")
	alice.expect("You are already watching bob. Type 'spectate off' first.")
	carol.send("spectate alice")
	carol.expect("alice is spectating and cannot be watched.")
	alice.send("spectate off")
	alice.expect("You stop watching bob.")
	bob.expect("* alice stopped watching your session.")

	watch(t, alice, bob, "alice", "bob")
	watch(t, carol, bob, "carol", "bob")
	bob.send("quit")
	bob.expectClosed()
	alice.expect("* The player you were watching has disconnected.")
	carol.expect("* The player you were watching has disconnected.")
	for _, name := range []string{"alice", "carol"} {
		s, _ := g.Find(name)
		if s.Spectating() != nil {
			t.Errorf("%s should no longer be spectating", name)
		}
	}

	watch(t, carol, alice, "carol", "alice")
	carol.send("quit")
	carol.expectClosed()
	alice.expect("* carol stopped watching your session.")
	if s, _ := g.Find("alice"); len(s.Spectators()) != 0 {
		t.Error("alice should have no spectators")
	}
}
