package storage

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	goccy "github.com/goccy/go-json"
)

const DefaultLocation = "Town Square"

// Record is the serialized character kept in the player_data column.
type Record struct {
	Level    int64  `json:"level"`
	Gold     int64  `json:"gold"`
	HP       int64  `json:"hp"`
	MaxHP    int64  `json:"max_hp"`
	Mana     int64  `json:"mana"`
	MaxMana  int64  `json:"max_mana"`
	XP       int64  `json:"xp"`
	Str      int64  `json:"str"`
	Def      int64  `json:"def"`
	Sta      int64  `json:"sta"`
	Agi      int64  `json:"agi"`
	Cha      int64  `json:"cha"`
	Dex      int64  `json:"dex"`
	Wis      int64  `json:"wis"`
	Int      int64  `json:"int"`
	Con      int64  `json:"con"`
	Location string `json:"location"`
	Team     string `json:"team,omitempty"`
}

// NewRecord returns the character a fresh account starts with.
func NewRecord() Record {
	return Record{
		Level:    1,
		HP:       20,
		MaxHP:    20,
		Mana:     10,
		MaxMana:  10,
		Str:      10,
		Def:      10,
		Sta:      10,
		Agi:      10,
		Cha:      10,
		Dex:      10,
		Wis:      10,
		Int:      10,
		Con:      10,
		Location: DefaultLocation,
	}
}

func (r Record) Value() (driver.Value, error) {
	b, err := goccy.Marshal(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return string(b), nil
}

func (r *Record) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*r = NewRecord()
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return errors.Errorf("can't scan %T into Record", src)
	}
	if len(b) == 0 {
		*r = NewRecord()
		return nil
	}
	return errors.WithStack(goccy.Unmarshal(b, r))
}

func (r *Record) numbers() map[string]*int64 {
	return map[string]*int64{
		"level":   &r.Level,
		"gold":    &r.Gold,
		"hp":      &r.HP,
		"maxhp":   &r.MaxHP,
		"mana":    &r.Mana,
		"maxmana": &r.MaxMana,
		"xp":      &r.XP,
		"str":     &r.Str,
		"def":     &r.Def,
		"sta":     &r.Sta,
		"agi":     &r.Agi,
		"cha":     &r.Cha,
		"dex":     &r.Dex,
		"wis":     &r.Wis,
		"int":     &r.Int,
		"con":     &r.Con,
	}
}

// Fields lists the names SetField accepts.
func Fields() []string {
	r := &Record{}
	result := []string{"location"}
	for name := range r.numbers() {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Field returns a field by name as text.
func (r *Record) Field(field string) (string, bool) {
	field = strings.ToLower(field)
	if field == "location" {
		return r.Location, true
	}
	ptr, found := r.numbers()[field]
	if !found {
		return "", false
	}
	return strconv.FormatInt(*ptr, 10), true
}

// SetField assigns a field by name and returns the old and new values as text.
func (r *Record) SetField(field string, value string) (string, string, error) {
	field = strings.ToLower(field)
	if field == "location" {
		old := r.Location
		r.Location = value
		return old, value, nil
	}
	ptr, found := r.numbers()[field]
	if !found {
		return "", "", fmt.Errorf("unknown field %q, valid fields: %s", field, strings.Join(Fields(), ", "))
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("%q is not a number", value)
	}
	if n < 0 {
		return "", "", fmt.Errorf("%s can't be negative", field)
	}
	old := *ptr
	*ptr = n
	return strconv.FormatInt(old, 10), strconv.FormatInt(n, 10), nil
}

// Restore refills hit points and mana.
func (r *Record) Restore() {
	r.HP = r.MaxHP
	r.Mana = r.MaxMana
}
