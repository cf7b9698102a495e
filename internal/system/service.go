// Package system defines the lifecycle contract shared by every
// long-running component: the package ingest daemon, the installer daemon,
// and (optionally) the REST surface.
package system

import "context"

// Service represents a lifecycle-managed component. The ingest daemon and
// the installer daemon both implement this so a process supervisor can
// start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
