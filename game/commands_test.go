package game

import (
	"context"
	"reflect"
	"testing"

	"github.com/zond/usurper/authority"
	"github.com/zond/usurper/presence"
	"github.com/zond/usurper/session"
)

func TestParseShellTokens(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		n          int
		wantTokens []string
		wantRest   string
	}{
		{
			name:       "empty input",
			input:      "",
			n:          0,
			wantTokens: nil,
			wantRest:   "",
		},
		{
			name:       "single token",
			input:      "hello",
			n:          0,
			wantTokens: []string{"hello"},
			wantRest:   "",
		},
		{
			name:       "multiple tokens",
			input:      "hello world foo",
			n:          0,
			wantTokens: []string{"hello", "world", "foo"},
			wantRest:   "",
		},
		{
			name:       "limit tokens",
			input:      "hello world foo bar",
			n:          2,
			wantTokens: []string{"hello", "world"},
			wantRest:   "foo bar",
		},
		{
			name:       "single quotes",
			input:      "'hello world'",
			n:          0,
			wantTokens: []string{"hello world"},
			wantRest:   "",
		},
		{
			name:       "double quotes",
			input:      `"hello world"`,
			n:          0,
			wantTokens: []string{"hello world"},
			wantRest:   "",
		},
		{
			name:       "mixed quotes",
			input:      `'hello' "world"`,
			n:          0,
			wantTokens: []string{"hello", "world"},
			wantRest:   "",
		},
		{
			name:       "backslash escape outside quotes",
			input:      `hello\ world`,
			n:          0,
			wantTokens: []string{"hello world"},
			wantRest:   "",
		},
		{
			name:       "backslash escape inside double quotes",
			input:      `"hello\"world"`,
			n:          0,
			wantTokens: []string{`hello"world`},
			wantRest:   "",
		},
		{
			name:       "limit with quotes preserves rest",
			input:      `#objectID Spawn.Container "some value"`,
			n:          2,
			wantTokens: []string{"#objectID", "Spawn.Container"},
			wantRest:   `"some value"`,
		},
		{
			name:       "whitespace handling",
			input:      "  hello   world  ",
			n:          0,
			wantTokens: []string{"hello", "world"},
			wantRest:   "",
		},
		{
			name:       "tabs as whitespace",
			input:      "hello\tworld",
			n:          0,
			wantTokens: []string{"hello", "world"},
			wantRest:   "",
		},
		{
			name:       "limit one returns rest",
			input:      "first second third",
			n:          1,
			wantTokens: []string{"first"},
			wantRest:   "second third",
		},
		{
			name:       "adjacent quotes",
			input:      `"hello"'world'`,
			n:          0,
			wantTokens: []string{"helloworld"},
			wantRest:   "",
		},
		{
			name:       "quote in middle of token",
			input:      `foo"bar baz"qux`,
			n:          0,
			wantTokens: []string{"foobar bazqux"},
			wantRest:   "",
		},
		{
			name:       "unclosed single quote",
			input:      "'hello",
			n:          0,
			wantTokens: []string{"hello"},
			wantRest:   "",
		},
		{
			name:       "unclosed double quote",
			input:      `"hello`,
			n:          0,
			wantTokens: []string{"hello"},
			wantRest:   "",
		},
		{
			name:       "trailing backslash",
			input:      `hello\`,
			n:          0,
			wantTokens: []string{"hello"},
			wantRest:   "",
		},
		{
			name:       "setstate typical usage",
			input:      "/setstate Spawn.Container genesis",
			n:          2,
			wantTokens: []string{"/setstate", "Spawn.Container"},
			wantRest:   "genesis",
		},
		{
			name:       "json value preserved",
			input:      `/setstate Foo {"nested": "value"}`,
			n:          2,
			wantTokens: []string{"/setstate", "Foo"},
			wantRest:   `{"nested": "value"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTokens, gotRest := parseShellTokens(tt.input, tt.n)
			if !reflect.DeepEqual(gotTokens, tt.wantTokens) {
				t.Errorf("parseShellTokens(%q, %d) tokens = %v, want %v", tt.input, tt.n, gotTokens, tt.wantTokens)
			}
			if gotRest != tt.wantRest {
				t.Errorf("parseShellTokens(%q, %d) rest = %q, want %q", tt.input, tt.n, gotRest, tt.wantRest)
			}
		})
	}
}

func TestArgument(t *testing.T) {
	for line, want := range map[string]string{
		"say":                  "",
		"say hello":            "hello",
		"say   hello  world  ": "hello  world",
		`/echo "quoted" rest`:  `"quoted" rest`,
	} {
		if got := argument(line); got != want {
			t.Errorf("argument(%q) = %q, want %q", line, got, want)
		}
	}
}

func TestAvailable(t *testing.T) {
	c := &Connection{}
	all := c.wizCommands()
	if got := len(all.available(authority.Mortal)); got != 0 {
		t.Errorf("mortals see %d wizard commands", got)
	}
	if got, want := len(all.available(authority.Implementor)), len(all); got != want {
		t.Errorf("implementor sees %d wizard commands, want %d", got, want)
	}
	for _, cmd := range all.available(authority.Builder) {
		if cmd.min != authority.Builder {
			t.Errorf("%v needs %v but is available to builders", cmd.sortedNames(), cmd.min)
		}
	}
}

func TestHolyViewer(t *testing.T) {
	viewer := session.New(context.Background(), "seer", session.Web, "test", nopStream{})
	viewer.SetTier(authority.Builder)
	hidden := session.New(context.Background(), "ghost", session.Web, "test", nopStream{})
	hidden.SetTier(authority.God)
	hidden.SetInvisible(true)

	if presence.Visible(holyViewer{viewer}, hidden) {
		t.Error("ghost should be hidden without holylight")
	}
	viewer.SetHolyLight(true)
	if !presence.Visible(holyViewer{viewer}, hidden) {
		t.Error("ghost should be visible with holylight")
	}
}
