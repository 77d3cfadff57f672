package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ScopeGenerate = "generate"
	ScopeAdmin    = "admin"
)

// License is a customer credential gating access to the generation API.
// Raw keys are shown once at creation; only the bcrypt hash is stored.
// TokensRemaining is the prepaid budget drawn down by completed jobs.
type License struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	Name            string     `db:"name"             json:"name"`
	KeyHash         string     `db:"key_hash"         json:"-"`
	KeyPrefix       string     `db:"key_prefix"       json:"key_prefix"`
	Scopes          []string   `db:"scopes"           json:"scopes"`
	TokensRemaining int64      `db:"tokens_remaining" json:"tokens_remaining"`
	TokensUsed      int64      `db:"tokens_used"      json:"tokens_used"`
	LastUsedAt      *time.Time `db:"last_used_at"     json:"last_used_at,omitempty"`
	DeletedAt       *time.Time `db:"deleted_at"       json:"-"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
}

// HasScope reports whether the license carries the given scope.
func (l *License) HasScope(scope string) bool {
	for _, s := range l.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
