package domain

import (
	"time"
)

// SnapshotInfo describes a stored knowledge-base snapshot
type SnapshotInfo struct {
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	Rules       int       `json:"rules"`
	UpdatedAt   time.Time `json:"updated_at"`
}
