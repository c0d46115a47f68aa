// Package lang renders lists and counts as English text.
package lang

import (
	"fmt"
	"strings"
	"time"

	"github.com/gertd/go-pluralize"
)

const (
	DefaultPattern   = "%s"
	DefaultSeparator = ","
	DefaultOperator  = "and"
)

var client = pluralize.NewClient()

func Plural(word string) string {
	return client.Plural(word)
}

func Singular(word string) string {
	return client.Singular(word)
}

// Count renders n with word inflected to match, e.g. "1 second" or "5 seconds".
func Count(n int, word string) string {
	return client.Pluralize(word, n, true)
}

// Seconds renders a whole number of seconds.
func Seconds(d time.Duration) string {
	return Count(int(d/time.Second), "second")
}

// Minutes renders d truncated to whole minutes.
func Minutes(d time.Duration) string {
	return Count(int(d/time.Minute), "minute")
}

type Enumerator struct {
	Pattern   string
	Separator string
	Operator  string
}

// Do joins elements as "a, b and c".
func (e Enumerator) Do(elements ...string) string {
	pattern, separator, operator := DefaultPattern, DefaultSeparator, DefaultOperator
	if e.Pattern != "" {
		pattern = e.Pattern
	}
	if e.Separator != "" {
		separator = e.Separator
	}
	if e.Operator != "" {
		operator = e.Operator
	}
	res := &strings.Builder{}
	for idx, element := range elements {
		res.WriteString(fmt.Sprintf(pattern, element))
		if idx+2 < len(elements) {
			fmt.Fprintf(res, "%s ", separator)
		} else if idx+1 < len(elements) {
			fmt.Fprintf(res, " %s ", operator)
		}
	}
	return res.String()
}
