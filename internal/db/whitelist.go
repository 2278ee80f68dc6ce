package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrInvalidEntry is returned for whitelist entries that are neither an IP
// address nor a CIDR prefix.
var ErrInvalidEntry = errors.New("whitelist entry must be an IP address or CIDR prefix")

// Whitelist entry sources.
const (
	SourceConfig = "config"
	SourceAdmin  = "admin"
)

// WhitelistEntry is one address or prefix allowed to join during
// maintenance.
type WhitelistEntry struct {
	Entry     string    `json:"entry"`
	Source    string    `json:"source"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WhitelistStore persists the maintenance kick whitelist.
type WhitelistStore struct {
	db *Database
}

// NewWhitelistStore creates a store on an open database.
func NewWhitelistStore(db *Database) *WhitelistStore {
	return &WhitelistStore{db: db}
}

// NormalizeEntry validates an entry and returns its canonical form.
func NormalizeEntry(entry string) (string, error) {
	entry = strings.TrimSpace(entry)
	if ip := net.ParseIP(entry); ip != nil {
		return ip.String(), nil
	}
	if _, prefix, err := net.ParseCIDR(entry); err == nil {
		return prefix.String(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntry, entry)
}

// Seed replaces the config-sourced entries with entries, leaving entries
// added at runtime untouched.
func (s *WhitelistStore) Seed(entries []string) error {
	normalized := make([]string, 0, len(entries))
	for _, e := range entries {
		n, err := NormalizeEntry(e)
		if err != nil {
			return err
		}
		normalized = append(normalized, n)
	}

	return s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM kick_whitelist WHERE source = ?", SourceConfig); err != nil {
			return fmt.Errorf("failed to clear config entries: %w", err)
		}
		now := time.Now().UnixMilli()
		for _, e := range normalized {
			if _, err := tx.Exec(
				"INSERT OR IGNORE INTO kick_whitelist (entry, source, created_at) VALUES (?, ?, ?)",
				e, SourceConfig, now); err != nil {
				return fmt.Errorf("failed to seed %s: %w", e, err)
			}
		}
		return nil
	})
}

// Add stores an entry. Adding an existing entry is not an error; the
// returned bool reports whether the entry was new.
func (s *WhitelistStore) Add(entry, note string) (bool, error) {
	n, err := NormalizeEntry(entry)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO kick_whitelist (entry, source, note, created_at) VALUES (?, ?, ?, ?)",
		n, SourceAdmin, note, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to add whitelist entry: %w", err)
	}
	added, _ := res.RowsAffected()
	if added > 0 {
		s.db.logger.Info().Str("entry", n).Msg("whitelist entry added")
	}
	return added > 0, nil
}

// Remove deletes an entry and reports whether it existed.
func (s *WhitelistStore) Remove(entry string) (bool, error) {
	n, err := NormalizeEntry(entry)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec("DELETE FROM kick_whitelist WHERE entry = ?", n)
	if err != nil {
		return false, fmt.Errorf("failed to remove whitelist entry: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		s.db.logger.Info().Str("entry", n).Msg("whitelist entry removed")
	}
	return removed > 0, nil
}

// List returns all entries ordered by entry.
func (s *WhitelistStore) List() ([]WhitelistEntry, error) {
	rows, err := s.db.Query("SELECT entry, source, note, created_at FROM kick_whitelist ORDER BY entry")
	if err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}
	defer rows.Close()

	var entries []WhitelistEntry
	for rows.Next() {
		var e WhitelistEntry
		var created int64
		if err := rows.Scan(&e.Entry, &e.Source, &e.Note, &created); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Matcher is an immutable address matcher built from whitelist entries.
type Matcher struct {
	ips      map[string]struct{}
	prefixes []*net.IPNet
}

// NewMatcher builds a matcher. Invalid entries are skipped.
func NewMatcher(entries []string) *Matcher {
	m := &Matcher{ips: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if ip := net.ParseIP(e); ip != nil {
			m.ips[ip.String()] = struct{}{}
			continue
		}
		if _, prefix, err := net.ParseCIDR(e); err == nil {
			m.prefixes = append(m.prefixes, prefix)
		}
	}
	return m
}

// Contains reports whether ip is whitelisted.
func (m *Matcher) Contains(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, p := range m.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ips) + len(m.prefixes)
}
