package authority

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOrdering(t *testing.T) {
	want := []Tier{Mortal, Builder, Immortal, Wizard, Archwizard, God, Implementor}
	if diff := cmp.Diff(want, All()); diff != "" {
		t.Errorf("tier order mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(want); i++ {
		if !want[i].Outranks(want[i-1]) {
			t.Errorf("%v should outrank %v", want[i], want[i-1])
		}
		if want[i].Outranks(want[i]) {
			t.Errorf("%v should not outrank itself", want[i])
		}
	}
}

func TestEffective(t *testing.T) {
	for _, tc := range []struct {
		name   string
		stored Tier
		want   Tier
	}{
		{"rage", Mortal, Implementor},
		{"RAGE", God, Implementor},
		{" Rage ", Builder, Implementor},
		{"alice", Implementor, God},
		{"alice", Wizard, Wizard},
		{"bob", -3, Mortal},
	} {
		if got := Effective(tc.name, tc.stored); got != tc.want {
			t.Errorf("Effective(%q, %v) = %v, want %v", tc.name, tc.stored, got, tc.want)
		}
	}
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"god", God, false},
		{"Archwizard", Archwizard, false},
		{"3", Wizard, false},
		{"6", Implementor, false},
		{"7", 0, true},
		{"emperor", 0, true},
	} {
		got, err := Parse(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAssignable(t *testing.T) {
	if Assignable(Implementor) {
		t.Errorf("Implementor must never be assignable")
	}
	for _, tier := range []Tier{Mortal, Builder, Immortal, Wizard, Archwizard, God} {
		if !Assignable(tier) {
			t.Errorf("%v should be assignable", tier)
		}
	}
}

func TestTitle(t *testing.T) {
	if Mortal.Title() != "" {
		t.Errorf("mortals carry no title")
	}
	if got := God.Title(); got != "[God]" {
		t.Errorf("got %q, want [God]", got)
	}
	if !Builder.WizNet() || Mortal.WizNet() {
		t.Errorf("WizNet membership starts at Builder")
	}
}
