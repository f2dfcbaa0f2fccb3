package models

import (
	"fmt"
	"time"
)

// SourceTier identifies the authority level of a rules document within
// a ruleset family. Higher tiers override lower tiers when both cover
// the same rule.
type SourceTier string

const (
	TierBase      SourceTier = "BASE"
	TierExpansion SourceTier = "EXPANSION"
	TierErrata    SourceTier = "ERRATA"
)

// Precedence returns the numeric override authority for a tier.
// Errata > Expansion > Base.
func (t SourceTier) Precedence() int {
	switch t {
	case TierErrata:
		return 100
	case TierExpansion:
		return 10
	default:
		return 0
	}
}

// Valid reports whether the tier is one of the known values.
func (t SourceTier) Valid() bool {
	switch t {
	case TierBase, TierExpansion, TierErrata:
		return true
	}
	return false
}

// SourceStatus is the ingestion lifecycle state of a Source.
type SourceStatus string

const (
	SourceStatusProcessing SourceStatus = "PROCESSING"
	SourceStatusIndexed    SourceStatus = "INDEXED"
	SourceStatusFailed     SourceStatus = "FAILED"
	SourceStatusExpired    SourceStatus = "EXPIRED"
)

// Source represents a single named rules document (a rulebook, expansion,
// or errata sheet). Many Sources may belong to the same game, distinguished
// by tier. Chunks and vectors are keyed by Source ID and replaced wholesale
// on re-ingestion.
type Source struct {
	ID     string     `json:"id" badgerhold:"key"`
	Name   string     `json:"name"`
	GameID string     `json:"game_id" badgerhold:"index"`
	Tier   SourceTier `json:"tier"`

	// Precedence is denormalized from Tier so retrieval never needs the
	// tier mapping at ranking time.
	Precedence int  `json:"precedence"`
	Official   bool `json:"official"`

	Status       SourceStatus `json:"status"`
	ChunkCount   int          `json:"chunk_count"`
	ErrorMessage string       `json:"error_message,omitempty"`

	// LowFidelity is set when the layout parser fell back to linear
	// extraction and multi-column reading order cannot be guaranteed.
	LowFidelity bool `json:"low_fidelity"`

	// ExpiresAt, when set, marks the Source for hard deletion by the
	// expiry sweep. Nil means the Source never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Indexed reports whether the Source is queryable.
func (s *Source) Indexed() bool {
	return s.Status == SourceStatusIndexed
}

// Expired reports whether the Source has passed its TTL at the given time.
func (s *Source) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// SourceDescriptor is the caller-supplied metadata accompanying an
// ingestion request. Validated before any pipeline work starts.
type SourceDescriptor struct {
	Name        string     `json:"name" validate:"required,min=1,max=200"`
	GameID      string     `json:"game_id" validate:"required,min=1,max=100"`
	Tier        SourceTier `json:"tier" validate:"required"`
	Official    bool       `json:"official"`
	ContentType string     `json:"content_type" validate:"required"`
	TTL         string     `json:"ttl,omitempty"` // optional duration, e.g. "720h"
}

// Validate checks descriptor fields that validator tags cannot express.
func (d *SourceDescriptor) Validate() error {
	if !d.Tier.Valid() {
		return fmt.Errorf("invalid tier: %q (expected BASE, EXPANSION or ERRATA)", d.Tier)
	}
	if d.TTL != "" {
		if _, err := time.ParseDuration(d.TTL); err != nil {
			return fmt.Errorf("invalid ttl %q: %w", d.TTL, err)
		}
	}
	return nil
}
