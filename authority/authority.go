// Package authority defines the ordered administrative tiers and the rules
// that compare them.
package authority

import (
	"fmt"
	"strconv"
	"strings"
)

type Tier int

const (
	Mortal Tier = iota
	Builder
	Immortal
	Wizard
	Archwizard
	God
	Implementor
)

// ImplementorName is the only account that ever holds the Implementor tier.
const ImplementorName = "rage"

var titles = []string{
	Mortal:      "Mortal",
	Builder:     "Builder",
	Immortal:    "Immortal",
	Wizard:      "Wizard",
	Archwizard:  "Archwizard",
	God:         "God",
	Implementor: "Implementor",
}

var colors = []string{
	Mortal:      "\x1b[37m",
	Builder:     "\x1b[36m",
	Immortal:    "\x1b[1;36m",
	Wizard:      "\x1b[1;35m",
	Archwizard:  "\x1b[1;33m",
	God:         "\x1b[1;31m",
	Implementor: "\x1b[1;37m",
}

const colorReset = "\x1b[0m"

func (t Tier) Valid() bool {
	return t >= Mortal && t <= Implementor
}

func (t Tier) String() string {
	if !t.Valid() {
		return strconv.Itoa(int(t))
	}
	return titles[t]
}

// Title is the bracketed form shown next to names in listings, empty for mortals.
func (t Tier) Title() string {
	if t <= Mortal || !t.Valid() {
		return ""
	}
	return fmt.Sprintf("[%s]", titles[t])
}

// Colorize wraps s in the ANSI color of the tier.
func (t Tier) Colorize(s string) string {
	if !t.Valid() {
		return s
	}
	return colors[t] + s + colorReset
}

// WizNet reports whether the tier receives the privileged side channel.
func (t Tier) WizNet() bool {
	return t >= Builder
}

// Allows reports whether t meets the minimum tier min.
func (t Tier) Allows(min Tier) bool {
	return t >= min
}

// Outranks is strict: equal tiers never outrank each other.
func (t Tier) Outranks(target Tier) bool {
	return t > target
}

// Assignable reports whether a command may ever set a player to t.
func Assignable(t Tier) bool {
	return t.Valid() && t != Implementor
}

// IsImplementor reports whether name is the fixed top tier account.
func IsImplementor(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), ImplementorName)
}

// Effective resolves the tier an account actually holds given its stored tier.
func Effective(name string, stored Tier) Tier {
	if IsImplementor(name) {
		return Implementor
	}
	if stored < Mortal {
		return Mortal
	}
	if stored >= Implementor {
		return God
	}
	return stored
}

// Parse accepts a tier name (any case) or its number.
func Parse(s string) (Tier, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if t := Tier(n); t.Valid() {
			return t, nil
		}
		return 0, fmt.Errorf("no tier %d, valid tiers are 0-%d", n, int(Implementor))
	}
	for i, title := range titles {
		if strings.EqualFold(title, s) {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// All returns every tier from lowest to highest.
func All() []Tier {
	result := make([]Tier, 0, len(titles))
	for i := range titles {
		result = append(result, Tier(i))
	}
	return result
}
