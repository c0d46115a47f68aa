package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bxcodec/faker/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/zond/usurper/authority"
)

func withStorage(t *testing.T, f func(*Storage)) {
	t.Helper()
	s, err := New(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	f(s)
}

func randomName() string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, faker.Username())
	if len(name) > 16 {
		name = name[:16]
	}
	return "p" + name
}

func TestRegisterAuthenticate(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		name := randomName()
		password := "secret-" + faker.Username()
		p, err := s.Register(ctx, name, password)
		if err != nil {
			t.Fatal(err)
		}
		if p.Username != Key(name) || p.DisplayName != name {
			t.Errorf("got %q/%q, want %q/%q", p.Username, p.DisplayName, Key(name), name)
		}
		if p.PasswordHash == password {
			t.Fatal("password must not be stored in the clear")
		}
		got, err := s.Authenticate(ctx, strings.ToUpper(name), password)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(p.Record, got.Record); diff != "" {
			t.Errorf("record mismatch (-want +got):\n%s", diff)
		}
		if _, err := s.Authenticate(ctx, name, "wrong password"); !errors.Is(err, ErrBadPassword) {
			t.Errorf("got %v, want ErrBadPassword", err)
		}
		if _, err := s.Authenticate(ctx, "nobody", password); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestRegisterRejections(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		if _, err := s.Register(ctx, "alice", "pass"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Register(ctx, "ALICE", "pass"); !errors.Is(err, ErrNameTaken) {
			t.Errorf("got %v, want ErrNameTaken", err)
		}
		if err := s.ReserveName(ctx, "Satan"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Register(ctx, "satan", "pass"); !errors.Is(err, ErrNameUnavailable) {
			t.Errorf("got %v, want ErrNameUnavailable", err)
		}
		var verr ValidationError
		for _, tc := range []struct{ name, password string }{
			{"a", "pass"},
			{"abcdefghijklmnopqrstu", "pass"},
			{"bad!name", "pass"},
			{"1234", "pass"},
			{"bob", "abc"},
			{"bob", "ab:cd"},
		} {
			if _, err := s.Register(ctx, tc.name, tc.password); !errors.As(err, &verr) {
				t.Errorf("Register(%q, %q) = %v, want ValidationError", tc.name, tc.password, err)
			}
		}
	})
}

func TestBan(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		if _, err := s.Register(ctx, "mallory", "pass"); err != nil {
			t.Fatal(err)
		}
		if err := s.Ban(ctx, "Mallory", "griefing"); err != nil {
			t.Fatal(err)
		}
		_, err := s.Authenticate(ctx, "mallory", "pass")
		var banned BannedError
		if !errors.As(err, &banned) || banned.Reason != "griefing" {
			t.Fatalf("got %v, want BannedError(griefing)", err)
		}
		if banned.Error() != "Your account has been banned. Reason: griefing" {
			t.Errorf("got %q", banned.Error())
		}
		if err := s.Unban(ctx, "mallory"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Authenticate(ctx, "mallory", "pass"); err != nil {
			t.Errorf("unbanned login failed: %v", err)
		}
		if err := s.Ban(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestTierAndFlags(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		if _, err := s.Register(ctx, "bob", "pass"); err != nil {
			t.Fatal(err)
		}
		if err := s.SetTier(ctx, "bob", authority.Wizard); err != nil {
			t.Fatal(err)
		}
		if err := s.SetFrozen(ctx, "bob", true); err != nil {
			t.Fatal(err)
		}
		if err := s.SetMuted(ctx, "bob", true); err != nil {
			t.Fatal(err)
		}
		p, err := s.LoadPlayer(ctx, "bob")
		if err != nil {
			t.Fatal(err)
		}
		if p.Tier != authority.Wizard || !p.Frozen || !p.Muted {
			t.Errorf("got tier %v frozen %v muted %v", p.Tier, p.Frozen, p.Muted)
		}
		if err := s.SetFrozen(ctx, "bob", false); err != nil {
			t.Fatal(err)
		}
		if p, err = s.LoadPlayer(ctx, "bob"); err != nil {
			t.Fatal(err)
		}
		if p.Frozen {
			t.Errorf("bob should be thawed")
		}
	})
}

func TestSavePlayerRoundTrip(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		p, err := s.Register(ctx, "carol", "pass")
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := p.Record.SetField("gold", "250"); err != nil {
			t.Fatal(err)
		}
		p.Record.Location = "Dungeon Gate"
		if err := s.SavePlayer(ctx, p); err != nil {
			t.Fatal(err)
		}
		got, err := s.LoadPlayer(ctx, "carol")
		if err != nil {
			t.Fatal(err)
		}
		if got.Record.Gold != 250 || got.Record.Location != "Dungeon Gate" {
			t.Errorf("got %+v", got.Record)
		}
	})
}

func TestEnsure(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		p, err := s.Ensure(ctx, "Relay User")
		if err != nil {
			t.Fatal(err)
		}
		again, err := s.Ensure(ctx, "relay user")
		if err != nil {
			t.Fatal(err)
		}
		if p.Username != again.Username || again.DisplayName != "Relay User" {
			t.Errorf("got %+v, want existing account", again)
		}
	})
}

func TestLoginLogoutBookkeeping(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		if _, err := s.Register(ctx, "dave", "pass"); err != nil {
			t.Fatal(err)
		}
		at := time.Unix(1700000000, 0)
		if err := s.RecordLogin(ctx, "dave", at); err != nil {
			t.Fatal(err)
		}
		if err := s.RecordLogout(ctx, "dave", at.Add(time.Hour), 60); err != nil {
			t.Fatal(err)
		}
		if err := s.RecordLogout(ctx, "dave", at.Add(2*time.Hour), 5); err != nil {
			t.Fatal(err)
		}
		p, err := s.LoadPlayer(ctx, "dave")
		if err != nil {
			t.Fatal(err)
		}
		if p.LastLogin != at.Unix() || p.PlaytimeMinutes != 65 {
			t.Errorf("got login %d playtime %d", p.LastLogin, p.PlaytimeMinutes)
		}
	})
}

func TestWizardLog(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		for i, action := range []string{"froze", "thawed", "promoted"} {
			if err := s.AppendWizardAction(ctx, WizardAction{
				Time:   int64(1000 + i),
				Actor:  "rage",
				Action: action,
				Target: "bob",
				Detail: map[bool]string{true: "Mortal -> God"}[action == "promoted"],
			}); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.RecentWizardActions(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		var actions []string
		for _, w := range got {
			actions = append(actions, w.Action)
		}
		if diff := cmp.Diff([]string{"thawed", "promoted"}, actions); diff != "" {
			t.Errorf("actions (-want +got):\n%s", diff)
		}
		if s := got[1].String(); s != "rage promoted bob: Mortal -> God" {
			t.Errorf("got %q", s)
		}
	})
}

func TestPromoteBootstrap(t *testing.T) {
	withStorage(t, func(s *Storage) {
		ctx := context.Background()
		for _, name := range []string{"admin", "rage"} {
			if _, err := s.Register(ctx, name, "pass"); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.PromoteBootstrap(ctx, []string{"admin", "rage", "missing"}, authority.God); err != nil {
			t.Fatal(err)
		}
		admin, err := s.LoadPlayer(ctx, "admin")
		if err != nil {
			t.Fatal(err)
		}
		if admin.Tier != authority.God {
			t.Errorf("admin got %v, want God", admin.Tier)
		}
		rage, err := s.LoadPlayer(ctx, "rage")
		if err != nil {
			t.Fatal(err)
		}
		if rage.Tier != authority.Mortal {
			t.Errorf("stored tier of the implementor account is never written, got %v", rage.Tier)
		}
	})
}

func TestSetField(t *testing.T) {
	r := NewRecord()
	old, updated, err := r.SetField("STR", "42")
	if err != nil {
		t.Fatal(err)
	}
	if old != "10" || updated != "42" || r.Str != 42 {
		t.Errorf("got %q -> %q, str %d", old, updated, r.Str)
	}
	if _, _, err := r.SetField("charisma", "1"); err == nil {
		t.Errorf("unknown field should fail")
	}
	if _, _, err := r.SetField("gold", "lots"); err == nil {
		t.Errorf("non numeric value should fail")
	}
	if _, _, err := r.SetField("gold", "-1"); err == nil {
		t.Errorf("negative value should fail")
	}
}
