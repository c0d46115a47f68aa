package lang

import (
	"testing"
	"time"
)

func TestPlural(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"second", "seconds"},
		{"minute", "minutes"},
		{"wizard", "wizards"},
		{"enemy", "enemies"},
		{"man", "men"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Plural(tt.input); got != tt.expected {
				t.Errorf("Plural(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if got := Singular(tt.expected); got != tt.input {
				t.Errorf("Singular(%q) = %q, want %q", tt.expected, got, tt.input)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	tests := []struct {
		got      string
		expected string
	}{
		{Seconds(time.Second), "1 second"},
		{Seconds(30 * time.Second), "30 seconds"},
		{Minutes(16*time.Minute + 40*time.Second), "16 minutes"},
		{Minutes(time.Minute), "1 minute"},
		{Count(0, "player"), "0 players"},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("got %q, want %q", tt.got, tt.expected)
		}
	}
}

func TestEnumerator(t *testing.T) {
	tests := []struct {
		e        Enumerator
		input    []string
		expected string
	}{
		{Enumerator{}, nil, ""},
		{Enumerator{}, []string{"alice"}, "alice"},
		{Enumerator{}, []string{"alice", "bob"}, "alice and bob"},
		{Enumerator{}, []string{"alice", "bob", "carol"}, "alice, bob and carol"},
		{Enumerator{Pattern: "[%s]", Operator: "or"}, []string{"L", "R", "Q"}, "[L], [R] or [Q]"},
	}
	for _, tt := range tests {
		if got := tt.e.Do(tt.input...); got != tt.expected {
			t.Errorf("Do(%v) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
