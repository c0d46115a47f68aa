package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zond/usurper/authority"
)

type fakeMember struct {
	name      string
	tier      authority.Tier
	invisible bool

	mu       sync.Mutex
	messages []string
}

func (f *fakeMember) Username() string { return f.name }
func (f *fakeMember) Tier() authority.Tier { return f.tier }
func (f *fakeMember) Invisible() bool { return f.invisible }
func (f *fakeMember) Notify(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeMember) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func TestEnterLeaveNotifications(t *testing.T) {
	r := New()
	alice := &fakeMember{name: "Alice"}
	bob := &fakeMember{name: "Bob"}
	r.Enter("square", alice)
	r.Enter("square", bob)
	r.Enter("tavern", bob)

	want := []string{"Bob arrives.", "Bob leaves toward tavern."}
	if diff := cmp.Diff(want, alice.received()); diff != "" {
		t.Errorf("alice messages (-want +got):\n%s", diff)
	}
	if len(bob.received()) != 0 {
		t.Errorf("bob should not hear himself, got %v", bob.received())
	}
	if loc, _ := r.Location("bob"); loc != "tavern" {
		t.Errorf("bob is in %q, want tavern", loc)
	}
}

func TestLeaveOnlyFromCurrentLocation(t *testing.T) {
	r := New()
	alice := &fakeMember{name: "alice"}
	r.Enter("square", alice)
	r.Leave("tavern", alice, "")
	if loc, found := r.Location("alice"); !found || loc != "square" {
		t.Errorf("leaving another room must not move alice, got %q %v", loc, found)
	}
	r.Leave("square", alice, "")
	if _, found := r.Location("alice"); found {
		t.Errorf("alice should be unindexed")
	}
	if counts := r.Counts(); len(counts) != 0 {
		t.Errorf("empty rooms should be dropped, got %v", counts)
	}
}

func TestInvisibleMovesAreSilent(t *testing.T) {
	r := New()
	alice := &fakeMember{name: "alice"}
	ghost := &fakeMember{name: "ghost", tier: authority.Wizard, invisible: true}
	r.Enter("square", alice)
	r.Enter("square", ghost)
	r.Leave("square", ghost, "void")
	r.Enter("square", ghost)
	r.Disconnect(ghost)
	if got := alice.received(); len(got) != 0 {
		t.Errorf("invisible movement should be silent, got %v", got)
	}
}

func TestDisconnect(t *testing.T) {
	r := New()
	alice := &fakeMember{name: "alice"}
	bob := &fakeMember{name: "bob"}
	r.Enter("square", alice)
	r.Enter("square", bob)
	r.Disconnect(bob)
	r.Disconnect(bob)
	want := []string{"bob arrives.", "bob has disconnected."}
	if diff := cmp.Diff(want, alice.received()); diff != "" {
		t.Errorf("alice messages (-want +got):\n%s", diff)
	}
}

func TestNamesAtVisibility(t *testing.T) {
	r := New()
	mortal := &fakeMember{name: "mortal"}
	wizard := &fakeMember{name: "wiz", tier: authority.Wizard, invisible: true}
	god := &fakeMember{name: "god", tier: authority.God}
	builder := &fakeMember{name: "builder", tier: authority.Builder}
	for _, m := range []*fakeMember{mortal, wizard, god, builder} {
		r.Enter("square", m)
	}
	if diff := cmp.Diff([]string{"builder [Builder]", "god [God]"}, r.NamesAt("square", mortal)); diff != "" {
		t.Errorf("mortal view (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"builder [Builder]", "mortal", "wiz [Wizard] (invisible)"}, r.NamesAt("square", god)); diff != "" {
		t.Errorf("god view (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"builder [Builder]", "god [God]", "mortal"}, r.NamesAt("square", wizard)); diff != "" {
		t.Errorf("wizard view (-want +got):\n%s", diff)
	}
}

func TestBroadcastExclude(t *testing.T) {
	r := New()
	alice := &fakeMember{name: "alice"}
	bob := &fakeMember{name: "bob"}
	r.Enter("square", alice)
	r.Enter("square", bob)
	r.Broadcast("square", "hello", "ALICE")
	if got := alice.received(); len(got) != 1 {
		t.Errorf("alice should only have bob's arrival, got %v", got)
	}
	if diff := cmp.Diff([]string{"hello"}, bob.received()); diff != "" {
		t.Errorf("bob messages (-want +got):\n%s", diff)
	}
}

func TestAtMostOneRoomUnderConcurrentMoves(t *testing.T) {
	r := New()
	m := &fakeMember{name: "runner"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Enter(fmt.Sprintf("room%d", (i+j)%5), m)
			}
		}(i)
	}
	wg.Wait()
	total := 0
	for _, c := range r.Counts() {
		total += c
	}
	if total != 1 {
		t.Errorf("got %d indexed locations, want 1", total)
	}
	members := 0
	for i := 0; i < 5; i++ {
		members += len(r.Members(fmt.Sprintf("room%d", i)))
	}
	if members != 1 {
		t.Errorf("member is in %d rooms, want 1", members)
	}
}
