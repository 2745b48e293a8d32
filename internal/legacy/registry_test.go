package legacy

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bluekit.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestReadRegistry_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadRegistry(filepath.Join(dir, RegistryFile)); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing registry error = %v, want ErrNotFound", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadRegistry(bad); !errors.Is(err, apperr.ErrParse) {
		t.Errorf("invalid registry error = %v, want ErrParse", err)
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	home := t.TempDir()
	alpha := t.TempDir()
	beta := t.TempDir()
	gone := filepath.Join(home, "gone")

	registry := filepath.Join(home, RegistryFile)
	entries := []Entry{
		{ID: "p-alpha", Title: "Alpha", Path: alpha, Description: "first", CreatedAt: 1700000000000},
		{ID: "p-beta", Title: "  ", Path: beta},
		{ID: "p-gone", Title: "Gone", Path: gone},
		{ID: "p-nopath", Title: "No path"},
	}
	if err := WriteRegistry(registry, entries); err != nil {
		t.Fatalf("WriteRegistry() failed: %v", err)
	}
	read, err := ReadRegistry(registry)
	if err != nil || len(read) != 4 {
		t.Fatalf("ReadRegistry() = %d entries, %v", len(read), err)
	}

	logger := log.New(io.Discard, "", 0)
	result, err := Import(ctx, st, ImportOptions{Registry: registry, Backup: true, Logger: logger})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 2 || result.Updated != 0 {
		t.Errorf("result = %+v, want 2 imported", result)
	}
	if len(result.Missing) != 1 || result.Missing[0] != gone {
		t.Errorf("missing = %v, want [%s]", result.Missing, gone)
	}
	if len(result.Errors) != 1 {
		t.Errorf("errors = %v, want one for the entry without path", result.Errors)
	}
	if _, err := os.Stat(result.BackupCreated); err != nil {
		t.Errorf("backup not created: %v", err)
	}

	p, err := st.GetProject(ctx, "p-alpha")
	if err != nil {
		t.Fatalf("imported project not found by registry id: %v", err)
	}
	if p.Name != "Alpha" || p.Description != "first" || p.CreatedAt != 1700000000000 {
		t.Errorf("project = %+v", p)
	}
	b, err := st.GetProjectByPath(ctx, beta)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != filepath.Base(beta) {
		t.Errorf("blank title name = %q, want directory name", b.Name)
	}

	again, err := Import(ctx, st, ImportOptions{Registry: registry, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if again.Imported != 0 || again.Updated != 2 {
		t.Errorf("second import = %+v, want 2 updated", again)
	}
	projects, _ := st.ListProjects(ctx)
	if len(projects) != 2 {
		t.Errorf("got %d projects, want 2", len(projects))
	}
}

func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	home := t.TempDir()
	registry := filepath.Join(home, RegistryFile)
	if err := WriteRegistry(registry, []Entry{{ID: "a", Title: "A", Path: t.TempDir()}}); err != nil {
		t.Fatal(err)
	}

	result, err := Import(ctx, st, ImportOptions{Registry: registry, DryRun: true, Backup: true, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 1 || result.BackupCreated != "" {
		t.Errorf("result = %+v", result)
	}
	projects, _ := st.ListProjects(ctx)
	if len(projects) != 0 {
		t.Errorf("dry run wrote %d projects", len(projects))
	}
}
