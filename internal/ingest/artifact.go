package ingest

import (
	"strings"

	"github.com/taggeddeploy/tds/internal/domain"
)

// Artifact is the metadata probed from an incoming file's name, following
// the <name>-<version>-<revision>.<arch>.rpm convention.
type Artifact struct {
	Filename string
	Name     string
	Version  string
	Revision string
	Arch     domain.Arch
}

// ParseArtifact probes artifact metadata from a filename. The version and
// revision are taken from the right, so application names containing
// dashes still parse; a name with fewer than three dash-separated fields
// before the arch suffix fails.
func ParseArtifact(filename string) (Artifact, error) {
	base, ok := strings.CutSuffix(filename, ".rpm")
	if !ok {
		return Artifact{}, domain.NewError(domain.KindInvalidInput, "artifact %q does not end in .rpm", filename)
	}
	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return Artifact{}, domain.NewError(domain.KindInvalidInput, "artifact %q has no architecture suffix", filename)
	}
	arch := domain.Arch(base[dot+1:])
	if !domain.ValidArch(arch) {
		return Artifact{}, domain.NewError(domain.KindInvalidInput, "artifact %q has unrecognized architecture %q", filename, arch)
	}
	stem := base[:dot]

	lastDash := strings.LastIndex(stem, "-")
	if lastDash <= 0 {
		return Artifact{}, domain.NewError(domain.KindInvalidInput, "artifact %q is missing a revision field", filename)
	}
	revision := stem[lastDash+1:]
	rest := stem[:lastDash]

	prevDash := strings.LastIndex(rest, "-")
	if prevDash <= 0 {
		return Artifact{}, domain.NewError(domain.KindInvalidInput, "artifact %q is missing a version field", filename)
	}
	version := rest[prevDash+1:]
	name := rest[:prevDash]
	if version == "" || revision == "" || name == "" {
		return Artifact{}, domain.NewError(domain.KindInvalidInput, "artifact %q has empty name/version/revision fields", filename)
	}

	return Artifact{
		Filename: filename,
		Name:     name,
		Version:  version,
		Revision: revision,
		Arch:     arch,
	}, nil
}
