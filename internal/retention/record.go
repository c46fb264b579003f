// SPDX-License-Identifier: MIT

// Package retention maintains per-artifact retention metadata and sweeps
// expired downloads.
package retention

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MinDays and MaxDays bound a per-artifact override.
	MinDays = 1
	MaxDays = 365
)

// ErrBadRetention rejects override values outside [MinDays, MaxDays].
var ErrBadRetention = errors.New("retention: override days out of range")

// Record is the persisted retention metadata of one artifact
// (retention.json next to the download).
type Record struct {
	OverrideDays *int       `json:"overrideDays"`
	DownloadedAt time.Time  `json:"downloadedAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Effective is the resolved retention view of one artifact. EffectiveDays
// and ExpiresAt are nil when the artifact never expires.
type Effective struct {
	OverrideDays  *int       `json:"overrideDays"`
	EffectiveDays *int       `json:"effectiveDays"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	IsOverride    bool       `json:"isOverride"`
	DownloadedAt  time.Time  `json:"downloadedAt"`
}

// ValidateOverrideDays checks an override value: nil clears the override,
// anything else must lie in [MinDays, MaxDays].
func ValidateOverrideDays(days *int) error {
	if days == nil {
		return nil
	}
	if *days < MinDays || *days > MaxDays {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrBadRetention, *days, MinDays, MaxDays)
	}
	return nil
}

// resolve computes the effective view from an override, the global default
// and the download time.
func resolve(override *int, defaultDays *int, downloadedAt time.Time) Effective {
	eff := Effective{
		OverrideDays: override,
		DownloadedAt: downloadedAt,
	}
	days := defaultDays
	if override != nil {
		days = override
		eff.IsOverride = true
	}
	if days != nil {
		d := *days
		eff.EffectiveDays = &d
		expires := downloadedAt.AddDate(0, 0, d)
		eff.ExpiresAt = &expires
	}
	return eff
}
