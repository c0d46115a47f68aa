package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/zond/usurper"
	"github.com/zond/usurper/authority"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("player not found")
	ErrNameTaken       = errors.New("That username is already taken.")
	ErrNameUnavailable = errors.New("That username is not available.")
	ErrBadPassword     = errors.New("Incorrect password.")
)

// BannedError is returned when a banned account tries to log in.
type BannedError struct {
	Reason string
}

func (e BannedError) Error() string {
	return fmt.Sprintf("Your account has been banned. Reason: %s", e.Reason)
}

const schema = `
CREATE TABLE IF NOT EXISTS players (
	username TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	player_data TEXT NOT NULL DEFAULT '',
	wizard_level INTEGER NOT NULL DEFAULT 0,
	is_frozen INTEGER NOT NULL DEFAULT 0,
	is_muted INTEGER NOT NULL DEFAULT 0,
	is_banned INTEGER NOT NULL DEFAULT 0,
	ban_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0,
	last_login INTEGER NOT NULL DEFAULT 0,
	last_logout INTEGER NOT NULL DEFAULT 0,
	total_playtime_minutes INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS banned_names (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS wizard_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time INTEGER NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT ''
);
`

// Player is one account row.
type Player struct {
	Username        string         `db:"username"`
	DisplayName     string         `db:"display_name"`
	PasswordHash    string         `db:"password_hash"`
	Record          Record         `db:"player_data"`
	Tier            authority.Tier `db:"wizard_level"`
	Frozen          bool           `db:"is_frozen"`
	Muted           bool           `db:"is_muted"`
	Banned          bool           `db:"is_banned"`
	BanReason       string         `db:"ban_reason"`
	CreatedAt       int64          `db:"created_at"`
	LastLogin       int64          `db:"last_login"`
	LastLogout      int64          `db:"last_logout"`
	PlaytimeMinutes int64          `db:"total_playtime_minutes"`
}

// Key is the lowercase form every table is keyed by.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// WizardAction is one row of the privileged command log. Rows are never updated or deleted.
type WizardAction struct {
	ID     int64  `db:"id"`
	Time   int64  `db:"time"`
	Actor  string `db:"actor"`
	Action string `db:"action"`
	Target string `db:"target"`
	Detail string `db:"detail"`
}

func (w WizardAction) When() time.Time {
	return time.Unix(w.Time, 0).UTC()
}

// String renders the action as a sentence, e.g. "alice promoted bob: Mortal -> God".
func (w WizardAction) String() string {
	s := w.Actor + " " + w.Action
	if w.Target != "" {
		s += " " + w.Target
	}
	if w.Detail != "" {
		s += ": " + w.Detail
	}
	return s
}

type Storage struct {
	db    *sqlx.DB
	audit *AuditLogger
}

// New opens (creating if necessary) the database and audit log in dir.
func New(ctx context.Context, dir string) (*Storage, error) {
	dsn := filepath.Join(filepath.Clean(dir), "usurper.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, usurper.WithStack(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, usurper.WithStack(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, usurper.WithStack(err)
	}
	return &Storage{
		db:    db,
		audit: NewAuditLogger(filepath.Join(dir, "audit.log")),
	}, nil
}

func (s *Storage) Close() error {
	if err := s.audit.Close(); err != nil {
		log.Printf("closing audit log: %v", err)
	}
	return s.db.Close()
}

func (s *Storage) AuditLog(ctx context.Context, event string, data AuditData) {
	s.audit.Log(ctx, event, data)
}

// LoadPlayer returns the account named name, or ErrNotFound.
func (s *Storage) LoadPlayer(ctx context.Context, name string) (*Player, error) {
	p := &Player{}
	if err := s.db.GetContext(ctx, p, "SELECT * FROM players WHERE username = ?", Key(name)); errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(ErrNotFound)
	} else if err != nil {
		return nil, usurper.WithStack(err)
	}
	return p, nil
}

func (s *Storage) insert(ctx context.Context, p *Player) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO players
		(username, display_name, password_hash, player_data, wizard_level, created_at, last_login)
		VALUES (:username, :display_name, :password_hash, :player_data, :wizard_level, :created_at, :last_login)`, p)
	return usurper.WithStack(err)
}

// Register creates a new password protected account.
func (s *Storage) Register(ctx context.Context, name string, password string) (*Player, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	var reserved int
	if err := s.db.GetContext(ctx, &reserved, "SELECT COUNT(*) FROM banned_names WHERE name = ?", Key(name)); err != nil {
		return nil, usurper.WithStack(err)
	}
	if reserved > 0 {
		return nil, ErrNameUnavailable
	}
	if _, err := s.LoadPlayer(ctx, name); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, usurper.WithStack(err)
	}
	now := time.Now().Unix()
	p := &Player{
		Username:     Key(name),
		DisplayName:  name,
		PasswordHash: hash,
		Record:       NewRecord(),
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := s.insert(ctx, p); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrNameTaken
		}
		return nil, err
	}
	return p, nil
}

// Authenticate checks a password against the stored hash.
func (s *Storage) Authenticate(ctx context.Context, name string, password string) (*Player, error) {
	p, err := s.LoadPlayer(ctx, name)
	if err != nil {
		return nil, err
	}
	if p.Banned {
		return nil, BannedError{Reason: p.BanReason}
	}
	if !VerifyPassword(password, p.PasswordHash) {
		return nil, ErrBadPassword
	}
	return p, nil
}

// Ensure loads name, creating a passwordless account for pre-authenticated logins.
func (s *Storage) Ensure(ctx context.Context, name string) (*Player, error) {
	p, err := s.LoadPlayer(ctx, name)
	if err == nil {
		if p.Banned {
			return nil, BannedError{Reason: p.BanReason}
		}
		return p, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	p = &Player{
		Username:    Key(name),
		DisplayName: strings.TrimSpace(name),
		Record:      NewRecord(),
		CreatedAt:   now,
		LastLogin:   now,
	}
	if err := s.insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Storage) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return usurper.WithStack(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return usurper.WithStack(err)
	}
	if n == 0 {
		return errors.WithStack(ErrNotFound)
	}
	return nil
}

// SavePlayer writes the character record.
func (s *Storage) SavePlayer(ctx context.Context, p *Player) error {
	return s.exec(ctx, "UPDATE players SET player_data = ? WHERE username = ?", p.Record, p.Username)
}

func (s *Storage) SetTier(ctx context.Context, name string, tier authority.Tier) error {
	return s.exec(ctx, "UPDATE players SET wizard_level = ? WHERE username = ?", int(tier), Key(name))
}

func (s *Storage) SetFrozen(ctx context.Context, name string, frozen bool) error {
	return s.exec(ctx, "UPDATE players SET is_frozen = ? WHERE username = ?", frozen, Key(name))
}

func (s *Storage) SetMuted(ctx context.Context, name string, muted bool) error {
	return s.exec(ctx, "UPDATE players SET is_muted = ? WHERE username = ?", muted, Key(name))
}

func (s *Storage) Ban(ctx context.Context, name string, reason string) error {
	return s.exec(ctx, "UPDATE players SET is_banned = 1, ban_reason = ? WHERE username = ?", reason, Key(name))
}

func (s *Storage) Unban(ctx context.Context, name string) error {
	return s.exec(ctx, "UPDATE players SET is_banned = 0, ban_reason = '' WHERE username = ?", Key(name))
}

// ReserveName keeps name from being registered.
func (s *Storage) ReserveName(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO banned_names (name) VALUES (?)", Key(name))
	return usurper.WithStack(err)
}

func (s *Storage) RecordLogin(ctx context.Context, name string, at time.Time) error {
	return s.exec(ctx, "UPDATE players SET last_login = ? WHERE username = ?", at.Unix(), Key(name))
}

func (s *Storage) RecordLogout(ctx context.Context, name string, at time.Time, minutes int64) error {
	return s.exec(ctx, "UPDATE players SET last_logout = ?, total_playtime_minutes = total_playtime_minutes + ? WHERE username = ?", at.Unix(), minutes, Key(name))
}

// AppendWizardAction appends to the wizard log and mirrors the row into the audit log.
func (s *Storage) AppendWizardAction(ctx context.Context, w WizardAction) error {
	if w.Time == 0 {
		w.Time = time.Now().Unix()
	}
	if _, err := s.db.NamedExecContext(ctx, `INSERT INTO wizard_log (time, actor, action, target, detail)
		VALUES (:time, :actor, :action, :target, :detail)`, w); err != nil {
		return usurper.WithStack(err)
	}
	s.audit.Log(ctx, "WIZARD_ACTION", AuditWizardAction{
		Actor:  w.Actor,
		Action: w.Action,
		Target: w.Target,
		Detail: w.Detail,
	})
	return nil
}

// RecentWizardActions returns up to n entries, oldest first.
func (s *Storage) RecentWizardActions(ctx context.Context, n int) ([]WizardAction, error) {
	result := []WizardAction{}
	if err := s.db.SelectContext(ctx, &result, "SELECT * FROM (SELECT * FROM wizard_log ORDER BY id DESC LIMIT ?) ORDER BY id ASC", n); err != nil {
		return nil, usurper.WithStack(err)
	}
	return result, nil
}

// PromoteBootstrap raises the named accounts to at least tier, creating none.
func (s *Storage) PromoteBootstrap(ctx context.Context, names []string, tier authority.Tier) error {
	for _, name := range names {
		if authority.IsImplementor(name) {
			continue
		}
		if err := s.exec(ctx, "UPDATE players SET wizard_level = ? WHERE username = ? AND wizard_level < ?", int(tier), Key(name), int(tier)); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}
