package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/taggeddeploy/tds/internal/domain"
	"github.com/taggeddeploy/tds/internal/notify"
	"github.com/taggeddeploy/tds/internal/storage/memory"
)

func TestParseArtifact(t *testing.T) {
	cases := []struct {
		filename string
		want     Artifact
		wantErr  bool
	}{
		{
			filename: "app1-1-1.noarch.rpm",
			want:     Artifact{Filename: "app1-1-1.noarch.rpm", Name: "app1", Version: "1", Revision: "1", Arch: domain.ArchNoarch},
		},
		{
			filename: "search-frontend-2.3-7.x86_64.rpm",
			want:     Artifact{Filename: "search-frontend-2.3-7.x86_64.rpm", Name: "search-frontend", Version: "2.3", Revision: "7", Arch: domain.ArchX86_64},
		},
		{filename: "app1-1-1.sparc.rpm", wantErr: true},
		{filename: "app1.noarch.rpm", wantErr: true},
		{filename: "app1-1-1.noarch.tar", wantErr: true},
		{filename: "noarch.rpm", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseArtifact(tc.filename)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseArtifact(%q): expected error, got %+v", tc.filename, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseArtifact(%q): %v", tc.filename, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseArtifact(%q) = %+v, want %+v", tc.filename, got, tc.want)
		}
	}
}

type fakeIndex struct {
	calls    int
	failures int
}

func (f *fakeIndex) Rebuild(ctx context.Context) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("make: *** [index] Error 1")
	}
	return nil
}

type ingestHarness struct {
	daemon *Daemon
	store  *memory.Store
	dirs   Dirs
	index  *fakeIndex
	emails []notify.Event
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()
	root := t.TempDir()
	dirs := Dirs{
		Incoming:   filepath.Join(root, "incoming"),
		Processing: filepath.Join(root, "processing"),
		RepoBase:   root,
	}
	for _, dir := range []string{dirs.Incoming, dirs.Processing} {
		if err := os.MkdirAll(dir, 0o775); err != nil {
			t.Fatal(err)
		}
	}

	h := &ingestHarness{store: memory.New(), dirs: dirs, index: &fakeIndex{}}
	dispatcher := notify.NewDispatcher([]notify.Method{notify.MethodEmail})
	dispatcher.Register(notify.MethodEmail, notify.TransportFunc(func(ctx context.Context, event notify.Event) error {
		h.emails = append(h.emails, event)
		return nil
	}))
	h.daemon = New(h.store, nil, h.index, dispatcher, dirs, nil)
	return h
}

func (h *ingestHarness) seedPackage(t *testing.T, appName, version, revision string) domain.Package {
	t.Helper()
	ctx := context.Background()
	app, err := h.store.CreateApplication(ctx, domain.Application{Name: appName, Arch: domain.ArchNoarch})
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := h.store.CreatePackage(ctx, domain.Package{
		ApplicationID: app.ID, Version: version, Revision: revision, Status: domain.PackagePending,
	})
	if err != nil {
		t.Fatal(err)
	}
	return pkg
}

func (h *ingestHarness) drop(t *testing.T, filename string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(h.dirs.Incoming, filename), []byte("rpm-bytes"), 0o664); err != nil {
		t.Fatal(err)
	}
}

func TestProcessBatch_HappyPath(t *testing.T) {
	h := newIngestHarness(t)
	pkg := h.seedPackage(t, "app1", "1", "1")
	h.drop(t, "app1-1-1.noarch.rpm")

	if err := h.daemon.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	got, err := h.store.GetPackage(context.Background(), pkg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.PackageCompleted {
		t.Fatalf("package status = %s, want completed", got.Status)
	}
	if _, err := os.Stat(filepath.Join(h.dirs.RepoBase, "noarch", "app1-1-1.noarch.rpm")); err != nil {
		t.Fatalf("artifact not in repository: %v", err)
	}
	for _, dir := range []string{h.dirs.Incoming, h.dirs.Processing} {
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Fatalf("%s not empty after batch", dir)
		}
	}
	if h.index.calls != 1 {
		t.Fatalf("index rebuilt %d times, want 1", h.index.calls)
	}
}

// An artifact with no matching package record is removed, an operator
// email goes out, and no rows change.
func TestProcessBatch_MissingPackageRecord(t *testing.T) {
	h := newIngestHarness(t)
	h.drop(t, "unknown-9-1.noarch.rpm")

	if err := h.daemon.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if _, err := os.Stat(filepath.Join(h.dirs.Incoming, "unknown-9-1.noarch.rpm")); !os.IsNotExist(err) {
		t.Fatalf("offending file should be removed, stat err = %v", err)
	}
	if len(h.emails) != 1 {
		t.Fatalf("expected one operator email, got %d", len(h.emails))
	}
	if h.emails[0].Package != "unknown-9-1.noarch.rpm" {
		t.Fatalf("email names %q, want the dropped file", h.emails[0].Package)
	}
	if h.index.calls != 0 {
		t.Fatalf("index should not rebuild for an empty batch")
	}
}

func TestProcessBatch_IndexFailureTwiceFailsBatch(t *testing.T) {
	h := newIngestHarness(t)
	pkg := h.seedPackage(t, "app1", "1", "1")
	h.drop(t, "app1-1-1.noarch.rpm")
	h.index.failures = 2

	if err := h.daemon.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	got, err := h.store.GetPackage(context.Background(), pkg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.PackageFailed {
		t.Fatalf("package status = %s, want failed after double index failure", got.Status)
	}
	if h.index.calls != 2 {
		t.Fatalf("index rebuild attempted %d times, want 2", h.index.calls)
	}
}

func TestProcessBatch_IndexFailureOnceRecovers(t *testing.T) {
	h := newIngestHarness(t)
	pkg := h.seedPackage(t, "app1", "1", "1")
	h.drop(t, "app1-1-1.noarch.rpm")
	h.index.failures = 1

	if err := h.daemon.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	got, _ := h.store.GetPackage(context.Background(), pkg.ID)
	if got.Status != domain.PackageCompleted {
		t.Fatalf("package status = %s, want completed after single retry", got.Status)
	}
}

func TestProcessBatch_UnparsableArtifactDropped(t *testing.T) {
	h := newIngestHarness(t)
	h.drop(t, "garbage.rpm")

	if err := h.daemon.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.dirs.Incoming, "garbage.rpm")); !os.IsNotExist(err) {
		t.Fatalf("unparsable file should be removed")
	}
}
