package domain

import "time"

// PackageStatus is the ingest state machine's status column. It progresses
// strictly pending -> processing -> {completed|failed}; no backwards
// transitions.
type PackageStatus string

const (
	PackagePending    PackageStatus = "pending"
	PackageProcessing PackageStatus = "processing"
	PackageCompleted  PackageStatus = "completed"
	PackageFailed     PackageStatus = "failed"
)

// CanTransition reports whether moving from "from" to "to" respects the
// strictly-forward package ingest lattice.
func (from PackageStatus) CanTransition(to PackageStatus) bool {
	switch from {
	case PackagePending:
		// failed is reachable straight from pending when the move into
		// processing itself fails.
		return to == PackageProcessing || to == PackageFailed
	case PackageProcessing:
		return to == PackageCompleted || to == PackageFailed
	default:
		return false
	}
}

// Package is one concrete versioned artifact of an Application.
type Package struct {
	ID            int64
	ApplicationID int64
	Version       string
	Revision      string
	Status        PackageStatus
	Creator       string
	Builder       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
