package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fleetsync/inventory/pkg/api"
)

// IdentityCache maps security identifiers to identity row ids in both
// directions. Identity ids are never reused and identity rows are never
// deleted, so entries never go stale. Lookups that miss fall through to the
// store and populate the cache; concurrent duplicate population writes the
// same value.
type IdentityCache struct {
	mu    sync.RWMutex
	bySID map[string]int64
	byID  map[int64]string
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{
		bySID: make(map[string]int64),
		byID:  make(map[int64]string),
	}
}

// Resolve returns the identity id for sid.
func (c *IdentityCache) Resolve(ctx context.Context, q Querier, sid string) (int64, bool, error) {
	c.mu.RLock()
	id, ok := c.bySID[sid]
	c.mu.RUnlock()
	if ok {
		return id, true, nil
	}

	err := q.QueryRowContext(ctx, `SELECT id FROM identity WHERE sid = ?`, sid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup identity %s: %w", sid, err)
	}
	c.Put(sid, id)
	return id, true, nil
}

// ResolveReverse returns the sid for an identity id.
func (c *IdentityCache) ResolveReverse(ctx context.Context, q Querier, id int64) (string, bool, error) {
	c.mu.RLock()
	sid, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return sid, true, nil
	}

	err := q.QueryRowContext(ctx, `SELECT sid FROM identity WHERE id = ?`, id).Scan(&sid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup identity %d: %w", id, err)
	}
	c.Put(sid, id)
	return sid, true, nil
}

// Put publishes a mapping. Callers only publish rows that are committed.
func (c *IdentityCache) Put(sid string, id int64) {
	c.mu.Lock()
	c.bySID[sid] = id
	c.byID[id] = sid
	c.mu.Unlock()
}

// Clear drops every cached mapping.
func (c *IdentityCache) Clear() int {
	c.mu.Lock()
	n := len(c.bySID)
	c.bySID = make(map[string]int64)
	c.byID = make(map[int64]string)
	c.mu.Unlock()
	log.Info("identity cache cleared", "entries", n)
	return n
}

func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySID)
}

// displayName derives the stored username and domain for a profile. An
// explicit domain is used with the username as given; otherwise a combined
// "DOMAIN\name" username is split on the first backslash. Without a
// backslash the whole string is the name and the domain stays unset. An
// empty part on either side of the backslash is left unset.
func displayName(p api.ProfileInfo) (username, domain *string) {
	if p.Username == nil || *p.Username == "" {
		if p.Domain != nil && *p.Domain != "" {
			return nil, p.Domain
		}
		return nil, nil
	}
	if p.Domain != nil && *p.Domain != "" {
		return p.Username, p.Domain
	}
	u := *p.Username
	if i := strings.IndexByte(u, '\\'); i >= 0 {
		d, n := u[:i], u[i+1:]
		var name, dom *string
		if n != "" {
			name = &n
		}
		if d != "" {
			dom = &d
		}
		return name, dom
	}
	return &u, nil
}

// IdentityRecord is an identity row with the number of endpoints that
// currently carry a profile for it.
type IdentityRecord struct {
	ID           int64   `json:"id" yaml:"id"`
	SID          string  `json:"sid" yaml:"sid"`
	Username     *string `json:"username,omitempty" yaml:"username,omitempty"`
	Domain       *string `json:"domain,omitempty" yaml:"domain,omitempty"`
	ProfileCount int     `json:"profile_count" yaml:"profile_count"`
}

// LookupIdentity reads one identity row by sid.
func (s *Store) LookupIdentity(ctx context.Context, sid string) (IdentityRecord, error) {
	var rec IdentityRecord
	var username, domain sql.NullString
	err := s.conn().QueryRowContext(ctx, `
		SELECT i.id, i.sid, i.username, i.domain,
		       (SELECT COUNT(*) FROM profile p WHERE p.identity_id = i.id)
		FROM identity i WHERE i.sid = ?`, sid).Scan(&rec.ID, &rec.SID, &username, &domain, &rec.ProfileCount)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("identity %s: %w", sid, ErrIdentityNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("lookup identity: %w", err)
	}
	rec.Username, rec.Domain = stringPtr(username), stringPtr(domain)
	return rec, nil
}

// ListIdentities returns every identity ordered by username, then sid.
func (s *Store) ListIdentities(ctx context.Context) ([]IdentityRecord, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT i.id, i.sid, i.username, i.domain,
		       (SELECT COUNT(*) FROM profile p WHERE p.identity_id = i.id)
		FROM identity i
		ORDER BY COALESCE(i.username, ''), i.sid`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []IdentityRecord
	for rows.Next() {
		var rec IdentityRecord
		var username, domain sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SID, &username, &domain, &rec.ProfileCount); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		rec.Username, rec.Domain = stringPtr(username), stringPtr(domain)
		out = append(out, rec)
	}
	return out, rows.Err()
}
