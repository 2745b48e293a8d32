package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/github"
	"github.com/bluekit-app/bluekit/internal/scanner"
	"github.com/bluekit-app/bluekit/internal/store"
)

// fakeRemote is an in-memory repository with contents-API semantics:
// writes to an existing file need its current sha.
type fakeRemote struct {
	mu       sync.Mutex
	files    map[string][]byte
	user     string
	messages []string
	commits  int

	// listErr, when set, fails ListDirectory for the dirs it returns an error for.
	listErr func(dir string) error
	listed  []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string][]byte{}, user: "alice"}
}

func blobSHA(content []byte) string {
	return artifact.ContentHash(content)[:40]
}

func (f *fakeRemote) seed(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = []byte(content)
}

func (f *fakeRemote) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

func (f *fakeRemote) content(p string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.files[p])
}

func (f *fakeRemote) GetFile(ctx context.Context, owner, repo, p string) (*github.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return nil, apperr.NotFound("file", p)
	}
	return &github.File{
		Path:    p,
		Name:    path.Base(p),
		SHA:     blobSHA(data),
		Size:    int64(len(data)),
		Content: append([]byte(nil), data...),
	}, nil
}

func (f *fakeRemote) GetFileSHA(ctx context.Context, owner, repo, p string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return "", false, nil
	}
	return blobSHA(data), true, nil
}

func (f *fakeRemote) ListDirectory(ctx context.Context, owner, repo, dir string) ([]github.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, dir)
	if f.listErr != nil {
		if err := f.listErr(dir); err != nil {
			return nil, err
		}
	}
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seen := map[string]bool{}
	var entries []github.Entry
	for p, data := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			name := rest[:i]
			if !seen[name] {
				seen[name] = true
				entries = append(entries, github.Entry{Path: prefix + name, Name: name, Type: "dir"})
			}
			continue
		}
		entries = append(entries, github.Entry{Path: p, Name: rest, SHA: blobSHA(data), Size: int64(len(data)), Type: "file"})
	}
	if len(entries) == 0 && dir != "" {
		return nil, apperr.NotFound("directory", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (f *fakeRemote) PutFile(ctx context.Context, owner, repo, p string, content []byte, message, sha string) (*github.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.files[p]
	if ok && sha != blobSHA(cur) || !ok && sha != "" {
		return nil, fmt.Errorf("put %s: stale sha: %w", p, apperr.ErrConflict)
	}
	f.files[p] = append([]byte(nil), content...)
	f.messages = append(f.messages, message)
	f.commits++
	return &github.WriteResult{ContentSHA: blobSHA(content), CommitSHA: fmt.Sprintf("commit-%d", f.commits)}, nil
}

func (f *fakeRemote) DeleteFile(ctx context.Context, owner, repo, p, message, sha string) (*github.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.files[p]
	if !ok {
		return nil, apperr.NotFound("file", p)
	}
	if sha != blobSHA(cur) {
		return nil, fmt.Errorf("delete %s: stale sha: %w", p, apperr.ErrConflict)
	}
	delete(f.files, p)
	f.messages = append(f.messages, message)
	f.commits++
	return &github.WriteResult{CommitSHA: fmt.Sprintf("commit-%d", f.commits)}, nil
}

func (f *fakeRemote) GetUser(ctx context.Context) (*github.User, error) {
	if f.user == "" {
		return nil, fmt.Errorf("no token: %w", apperr.ErrUnauthenticated)
	}
	return &github.User{Login: f.user}, nil
}

func (f *fakeRemote) lastMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

type fixture struct {
	ctx     context.Context
	store   *store.Store
	remote  *fakeRemote
	svc     *Service
	ws      *store.Workspace
	project *store.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "bluekit.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ws, err := st.UpsertWorkspace(ctx, "acme", "lib", "")
	if err != nil {
		t.Fatal(err)
	}
	remote := newFakeRemote()
	f := &fixture{
		ctx:    ctx,
		store:  st,
		remote: remote,
		svc:    New(Config{Store: st, Remote: remote, Logger: log.New(io.Discard, "", 0)}),
		ws:     ws,
	}
	f.project = f.newProject(t, "p")
	return f
}

func (f *fixture) newProject(t *testing.T, name string) *store.Project {
	t.Helper()
	p := &store.Project{Name: name, Path: t.TempDir()}
	if err := f.store.CreateProject(f.ctx, p); err != nil {
		t.Fatal(err)
	}
	return p
}

// writeAndScan writes a project file and returns its scanned resource.
func (f *fixture) writeAndScan(t *testing.T, p *store.Project, rel, content string) *store.Resource {
	t.Helper()
	abs := filepath.Join(p.Path, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	sc := scanner.New(f.store, log.New(io.Discard, "", 0))
	if _, err := sc.ScanProject(f.ctx, p.ID, p.Path); err != nil {
		t.Fatalf("ScanProject() failed: %v", err)
	}
	r, err := f.store.GetResourceByPath(f.ctx, p.ID, rel)
	if err != nil {
		t.Fatalf("GetResourceByPath(%s) failed: %v", rel, err)
	}
	return r
}

func (f *fixture) publish(t *testing.T, r *store.Resource, overwrite string) *PublishResult {
	t.Helper()
	res, err := f.svc.PublishResource(f.ctx, PublishRequest{
		ResourceID:           r.ID,
		WorkspaceID:          f.ws.ID,
		OverwriteVariationID: overwrite,
	})
	if err != nil {
		t.Fatalf("PublishResource() failed: %v", err)
	}
	return res
}

const authKit = "---\ntype: kit\nalias: Auth\ntags: [a, b]\n---\nX"

func TestPublish_FirstPublishCreatesCatalog(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)

	status, err := f.svc.CheckPublishStatus(f.ctx, r.ID, f.ws.ID)
	if err != nil {
		t.Fatalf("CheckPublishStatus() failed: %v", err)
	}
	if status.Status != NoCatalogExists || status.SuggestedName != "Auth" || status.RemotePath != "kits/auth.md" {
		t.Fatalf("status = %+v, want no catalog, Auth, kits/auth.md", status)
	}

	res := f.publish(t, r, "")
	if !res.CatalogCreated || !res.RemoteCreated {
		t.Errorf("result = %+v, want catalog and remote created", res)
	}
	if got := f.remote.content("kits/auth.md"); got != authKit {
		t.Errorf("remote content = %q, want %q", got, authKit)
	}
	if got := f.remote.lastMessage(); got != "[BlueKit] Publish: Auth by alice" {
		t.Errorf("commit message = %q", got)
	}

	catalogs, err := f.store.ListCatalogs(f.ctx, f.ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(catalogs) != 1 {
		t.Fatalf("got %d catalogs, want 1", len(catalogs))
	}
	c := catalogs[0]
	if c.RemotePath != "kits/auth.md" || c.ArtifactType != artifact.TypeKit || c.Name != "Auth" {
		t.Errorf("catalog = %+v", c)
	}
	if strings.Join(c.Tags, ",") != "a,b" {
		t.Errorf("tags = %v, want [a b]", c.Tags)
	}

	variations, err := f.store.ListVariations(f.ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(variations) != 1 {
		t.Fatalf("got %d variations, want 1", len(variations))
	}
	v := variations[0]
	if v.ContentHash != artifact.ContentHash([]byte(authKit)) || v.Publisher != "alice" {
		t.Errorf("variation = %+v", v)
	}
	if v.RemoteSHA != blobSHA([]byte(authKit)) {
		t.Errorf("remote sha = %q, want blob sha", v.RemoteSHA)
	}
}

func TestPublish_RepublishAndOverwrite(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	first := f.publish(t, r, "")

	status, err := f.svc.CheckPublishStatus(f.ctx, r.ID, f.ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != CatalogExists || status.Catalog.ID != first.Catalog.ID || len(status.Variations) != 1 {
		t.Fatalf("status = %+v, want existing catalog with 1 variation", status)
	}

	second := f.publish(t, r, "")
	if second.CatalogCreated || second.RemoteCreated {
		t.Errorf("republish created catalog=%v remote=%v", second.CatalogCreated, second.RemoteCreated)
	}
	variations, _ := f.store.ListVariations(f.ctx, first.Catalog.ID)
	if len(variations) != 2 {
		t.Fatalf("got %d variations after republish, want 2", len(variations))
	}

	third := f.publish(t, r, second.Variation.ID)
	if third.Variation.ID != second.Variation.ID {
		t.Errorf("overwrite produced variation %s, want %s", third.Variation.ID, second.Variation.ID)
	}
	if third.Variation.PublishedAt < second.Variation.PublishedAt {
		t.Errorf("published_at went backwards: %d < %d", third.Variation.PublishedAt, second.Variation.PublishedAt)
	}
	variations, _ = f.store.ListVariations(f.ctx, first.Catalog.ID)
	if len(variations) != 2 {
		t.Errorf("got %d variations after overwrite, want 2", len(variations))
	}
}

func TestPublish_HashDriftWritesNothing(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	abs := filepath.Join(f.project.Path, ".bluekit", "kits", "auth.md")
	if err := os.WriteFile(abs, []byte(authKit+" edited"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.PublishResource(f.ctx, PublishRequest{ResourceID: r.ID, WorkspaceID: f.ws.ID})
	if !errors.Is(err, apperr.ErrHashMismatch) {
		t.Fatalf("PublishResource() error = %v, want ErrHashMismatch", err)
	}
	if f.remote.has("kits/auth.md") || f.remote.commits != 0 {
		t.Error("remote was written despite hash drift")
	}
}

func TestPublish_RequiresType(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/untyped.md", "---\nalias: U\n---\nbody")

	_, err := f.svc.PublishResource(f.ctx, PublishRequest{ResourceID: r.ID, WorkspaceID: f.ws.ID})
	var verr *apperr.ValidationError
	if !errors.As(err, &verr) || verr.Field != "type" {
		t.Fatalf("PublishResource() error = %v, want validation of type", err)
	}
	if f.remote.commits != 0 {
		t.Error("remote was written for an untyped file")
	}
}

func TestPublish_OverwriteRejectsOtherCatalog(t *testing.T) {
	f := newFixture(t)
	a := f.writeAndScan(t, f.project, ".bluekit/kits/a.md", "---\ntype: kit\n---\nA")
	b := f.writeAndScan(t, f.project, ".bluekit/kits/b.md", "---\ntype: kit\n---\nB")
	pub := f.publish(t, a, "")
	commits := f.remote.commits

	_, err := f.svc.PublishResource(f.ctx, PublishRequest{
		ResourceID:           b.ID,
		WorkspaceID:          f.ws.ID,
		OverwriteVariationID: pub.Variation.ID,
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("PublishResource() error = %v, want ErrValidation", err)
	}
	if f.remote.has("kits/b.md") || f.remote.commits != commits {
		t.Error("remote was written for a mismatched overwrite")
	}
	if _, err := f.store.GetCatalogByPath(f.ctx, f.ws.ID, "kits/b.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("catalog for b.md recorded, err = %v", err)
	}
}

func TestPublish_OverwriteFollowsMovedCatalog(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	report, err := f.svc.ApplyChanges(f.ctx, f.ws.ID, []Change{
		{Kind: FolderCreated, Folder: "ui"},
		{Kind: CatalogMovedToFolder, CatalogID: pub.Catalog.ID, Folder: "ui"},
	})
	if err != nil || report.HasFailures() {
		t.Fatalf("move failed: %v %+v", err, report)
	}

	edited := authKit + " edited"
	r = f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", edited)
	res := f.publish(t, r, pub.Variation.ID)

	if res.Catalog.ID != pub.Catalog.ID || res.Variation.ID != pub.Variation.ID {
		t.Errorf("overwrite landed on catalog %s variation %s", res.Catalog.ID, res.Variation.ID)
	}
	if got := f.remote.content("ui/kits/auth.md"); got != edited {
		t.Errorf("ui/kits/auth.md = %q, want edited content", got)
	}
	if f.remote.has("kits/auth.md") {
		t.Error("overwrite recreated the file at the root")
	}
	v, _ := f.store.GetVariation(f.ctx, pub.Variation.ID)
	if v.RemotePath != "ui/kits/auth.md" || v.ContentHash != artifact.ContentHash([]byte(edited)) {
		t.Errorf("variation = %+v", v)
	}
	if _, err := f.store.GetCatalogByPath(f.ctx, f.ws.ID, "kits/auth.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stray root catalog recorded, err = %v", err)
	}
}

func TestPull_MaterializesFile(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	q := f.newProject(t, "q")
	res, err := f.svc.PullVariation(f.ctx, PullRequest{VariationID: pub.Variation.ID, ProjectID: q.ID})
	if err != nil {
		t.Fatalf("PullVariation() failed: %v", err)
	}
	want := filepath.Join(q.Path, ".bluekit", "kits", "auth.md")
	if res.Path != want {
		t.Errorf("path = %s, want %s", res.Path, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if artifact.ContentHash(data) != pub.Variation.ContentHash {
		t.Error("pulled content hash differs from the variation's")
	}

	stored, err := f.store.GetResourceByPath(f.ctx, q.ID, ".bluekit/kits/auth.md")
	if err != nil {
		t.Fatalf("pulled resource not recorded: %v", err)
	}
	if stored.ContentHash != pub.Variation.ContentHash || stored.ArtifactType != artifact.TypeKit {
		t.Errorf("resource = %+v", stored)
	}
	sub, err := f.store.GetSubscriptionByResource(f.ctx, stored.ID)
	if err != nil {
		t.Fatalf("subscription not recorded: %v", err)
	}
	if sub.VariationID != pub.Variation.ID || sub.CatalogID != pub.Catalog.ID {
		t.Errorf("subscription = %+v", sub)
	}

	_, err = f.svc.PullVariation(f.ctx, PullRequest{VariationID: pub.Variation.ID, ProjectID: q.ID})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second pull error = %v, want ErrConflict", err)
	}
	if _, err := f.svc.PullVariation(f.ctx, PullRequest{VariationID: pub.Variation.ID, ProjectID: q.ID, Overwrite: true}); err != nil {
		t.Errorf("pull with overwrite failed: %v", err)
	}
}

func TestPull_RemoteMutated(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")
	f.remote.seed("kits/auth.md", authKit+" changed upstream")

	q := f.newProject(t, "q")
	_, err := f.svc.PullVariation(f.ctx, PullRequest{VariationID: pub.Variation.ID, ProjectID: q.ID})
	if !errors.Is(err, apperr.ErrHashMismatch) {
		t.Fatalf("PullVariation() error = %v, want ErrHashMismatch", err)
	}
	if _, err := os.Stat(filepath.Join(q.Path, ".bluekit", "kits", "auth.md")); !os.IsNotExist(err) {
		t.Error("file written despite mismatch")
	}
}

func TestPull_RejectsEscapingTarget(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	_, err := f.svc.PullVariation(f.ctx, PullRequest{
		VariationID: pub.Variation.ID,
		ProjectID:   f.project.ID,
		TargetPath:  "../outside.md",
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("PullVariation() error = %v, want ErrValidation", err)
	}
}

func TestReorg_MovesCatalog(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	report, err := f.svc.ApplyChanges(f.ctx, f.ws.ID, []Change{
		{Kind: FolderCreated, Folder: "ui"},
		{Kind: CatalogMovedToFolder, CatalogID: pub.Catalog.ID, Folder: "ui"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.HasFailures() {
		t.Fatalf("report failures: %+v", report.Failed)
	}
	if !f.remote.has("ui/.bluekitws") {
		t.Error("folder sentinel missing")
	}
	if f.remote.has("kits/auth.md") {
		t.Error("old path still exists")
	}
	if got := f.remote.content("ui/kits/auth.md"); got != authKit {
		t.Errorf("moved content = %q, want original", got)
	}
	if got := f.remote.lastMessage(); got != "[BlueKit] Move catalog to folder: root → ui by alice" {
		t.Errorf("commit message = %q", got)
	}

	c, _ := f.store.GetCatalog(f.ctx, pub.Catalog.ID)
	if c.RemotePath != "ui/kits/auth.md" || c.Folder != "ui" {
		t.Errorf("catalog = %+v, want ui/kits/auth.md in ui", c)
	}
	v, _ := f.store.GetVariation(f.ctx, pub.Variation.ID)
	if v.RemotePath != "ui/kits/auth.md" || v.ContentHash != pub.Variation.ContentHash {
		t.Errorf("variation = %+v", v)
	}

	report, _ = f.svc.ApplyChanges(f.ctx, f.ws.ID, []Change{
		{Kind: CatalogRemovedFromFolder, CatalogID: pub.Catalog.ID},
	})
	if report.HasFailures() {
		t.Fatalf("remove failures: %+v", report.Failed)
	}
	if !f.remote.has("kits/auth.md") || f.remote.has("ui/kits/auth.md") {
		t.Error("catalog not moved back to root")
	}
	c, _ = f.store.GetCatalog(f.ctx, pub.Catalog.ID)
	if c.RemotePath != "kits/auth.md" || c.Folder != "" {
		t.Errorf("catalog = %+v, want kits/auth.md at root", c)
	}
}

func TestReorg_ResumesInterruptedMove(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	// The file already moved remotely, the store never heard about it.
	f.remote.seed("ui/kits/auth.md", authKit)
	f.remote.mu.Lock()
	delete(f.remote.files, "kits/auth.md")
	f.remote.mu.Unlock()

	report, _ := f.svc.ApplyChanges(f.ctx, f.ws.ID, []Change{
		{Kind: CatalogMovedToFolder, CatalogID: pub.Catalog.ID, Folder: "ui"},
	})
	if report.HasFailures() {
		t.Fatalf("failures: %+v", report.Failed)
	}
	c, _ := f.store.GetCatalog(f.ctx, pub.Catalog.ID)
	if c.RemotePath != "ui/kits/auth.md" {
		t.Errorf("catalog path = %s, want ui/kits/auth.md", c.RemotePath)
	}
}

func TestReorg_ErrorsAccumulate(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	report, err := f.svc.ApplyChanges(f.ctx, f.ws.ID, []Change{
		{Kind: FolderCreated, Folder: "  !!  "},
		{Kind: CatalogMovedToFolder, CatalogID: "missing", Folder: "ui"},
		{Kind: FolderCreated, Folder: "My Folder"},
		{Kind: CatalogMovedToFolder, CatalogID: pub.Catalog.ID, Folder: "My Folder"},
		{Kind: FolderDeleted, Folder: "My Folder"},
		{Kind: "rename"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Succeeded) != 2 || len(report.Failed) != 4 {
		t.Fatalf("succeeded=%v failed=%+v, want 2 and 4", report.Succeeded, report.Failed)
	}
	kinds := map[string]string{}
	for _, item := range report.Failed {
		kinds[item.ID] = item.Kind
	}
	if kinds["folder_created:  !!  "] != "validation" {
		t.Errorf("bad folder kind = %q", kinds["folder_created:  !!  "])
	}
	if kinds["catalog_moved_to_folder:missing"] != "not_found" {
		t.Errorf("missing catalog kind = %q", kinds["catalog_moved_to_folder:missing"])
	}
	if kinds["folder_deleted:My Folder"] != "conflict" {
		t.Errorf("non-empty folder delete kind = %q", kinds["folder_deleted:My Folder"])
	}
	if !errors.Is(report.Err(), apperr.ErrValidation) || !errors.Is(report.Err(), apperr.ErrConflict) {
		t.Errorf("joined error = %v", report.Err())
	}
	if !f.remote.has("My-Folder/kits/auth.md") {
		t.Error("catalog not moved into sanitized folder")
	}
}

func TestSanitizeFolderName(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"ui", "ui", false},
		{"  My   Folder ", "My-Folder", false},
		{"a/b..c", "abc", false},
		{"snake_case-ok", "snake_case-ok", false},
		{" ?? ", "", true},
	}
	for _, tt := range tests {
		got, err := SanitizeFolderName(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("SanitizeFolderName(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestSync_MissingTypeRejects(t *testing.T) {
	f := newFixture(t)
	f.remote.seed(".bluekit/kits/good.md", "---\ntype: kit\nalias: Good\n---\nG")
	f.remote.seed(".bluekit/kits/bad.md", "---\nalias: Bad\n---\nB")
	f.remote.seed("walkthroughs/tour.md", "---\ntype: walkthrough\n---\n# Tour\n")
	f.remote.seed("ui/.bluekitws", sentinelContent)
	f.remote.seed("ui/agents/helper.md", "---\ntype: agent\n---\nH")
	f.remote.seed("README.md", "not an artifact")

	report, err := f.svc.SyncWorkspaceCatalog(f.ctx, f.ws.ID)
	if !errors.Is(err, apperr.ErrValidation) || !strings.Contains(err.Error(), ".bluekit/kits/bad.md") {
		t.Fatalf("SyncWorkspaceCatalog() error = %v, want validation naming bad.md", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].ID != ".bluekit/kits/bad.md" {
		t.Errorf("failed = %+v", report.Failed)
	}
	if report.CatalogsCreated != 3 || report.VariationsCreated != 3 {
		t.Errorf("created catalogs=%d variations=%d, want 3 and 3", report.CatalogsCreated, report.VariationsCreated)
	}
	if len(report.Folders) != 1 || report.Folders[0] != "ui" {
		t.Errorf("folders = %v, want [ui]", report.Folders)
	}

	good, err := f.store.GetCatalogByPath(f.ctx, f.ws.ID, ".bluekit/kits/good.md")
	if err != nil {
		t.Fatal(err)
	}
	if good.Name != "Good" || good.ArtifactType != artifact.TypeKit {
		t.Errorf("good catalog = %+v", good)
	}
	tour, _ := f.store.GetCatalogByPath(f.ctx, f.ws.ID, "walkthroughs/tour.md")
	if tour == nil || tour.Name != "Tour" {
		t.Errorf("tour catalog = %+v, want heading title", tour)
	}
	helper, _ := f.store.GetCatalogByPath(f.ctx, f.ws.ID, "ui/agents/helper.md")
	if helper == nil || helper.Folder != "ui" {
		t.Errorf("helper catalog = %+v, want folder ui", helper)
	}

	again, _ := f.svc.SyncWorkspaceCatalog(f.ctx, f.ws.ID)
	if again.CatalogsCreated != 0 || again.VariationsCreated != 0 {
		t.Errorf("second sync created catalogs=%d variations=%d, want 0", again.CatalogsCreated, again.VariationsCreated)
	}

	f.remote.seed(".bluekit/kits/good.md", "---\ntype: kit\nalias: Renamed\n---\nG2")
	third, _ := f.svc.SyncWorkspaceCatalog(f.ctx, f.ws.ID)
	if third.CatalogsCreated != 0 || third.VariationsCreated != 1 {
		t.Errorf("sync after edit created catalogs=%d variations=%d, want 0 and 1", third.CatalogsCreated, third.VariationsCreated)
	}
	good, _ = f.store.GetCatalogByPath(f.ctx, f.ws.ID, ".bluekit/kits/good.md")
	if good.Name != "Good" {
		t.Errorf("sync overwrote catalog name: %q", good.Name)
	}
}

func TestSync_StopsOnAccountErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &apperr.RateLimitError{RetryAfter: time.Minute}, apperr.ErrRateLimited},
		{"forbidden", fmt.Errorf("list: %w", apperr.ErrForbidden), apperr.ErrForbidden},
		{"unauthenticated", fmt.Errorf("list: %w", apperr.ErrUnauthenticated), apperr.ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.remote.seed("kits/a.md", "---\ntype: kit\n---\nA")
			f.remote.seed("agents/b.md", "---\ntype: agent\n---\nB")
			f.remote.listErr = func(dir string) error {
				if dir == "" {
					return nil
				}
				return tt.err
			}

			report, err := f.svc.SyncWorkspaceCatalog(f.ctx, f.ws.ID)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SyncWorkspaceCatalog() error = %v, want %v", err, tt.want)
			}
			// The root listing finds folders, then one crawl directory fails.
			if len(f.remote.listed) != 2 {
				t.Errorf("listed %v, want the root and one directory", f.remote.listed)
			}
			if len(report.Failed) != 1 || len(report.Succeeded) != 0 {
				t.Errorf("failed=%+v succeeded=%v, want one failure", report.Failed, report.Succeeded)
			}
		})
	}
}

func TestSync_RolledBackEntryNotCounted(t *testing.T) {
	f := newFixture(t)
	f.remote.seed("kits/a.md", "---\ntype: kit\n---\nA")
	_, err := f.store.RawDB().ExecContext(f.ctx, `
		CREATE TRIGGER reject_variation BEFORE INSERT ON variations
		BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	if err != nil {
		t.Fatal(err)
	}

	report, err := f.svc.SyncWorkspaceCatalog(f.ctx, f.ws.ID)
	if err == nil || len(report.Failed) != 1 {
		t.Fatalf("SyncWorkspaceCatalog() error = %v, failed = %+v, want one failure", err, report.Failed)
	}
	if report.CatalogsCreated != 0 || report.VariationsCreated != 0 {
		t.Errorf("created catalogs=%d variations=%d for a rolled back entry", report.CatalogsCreated, report.VariationsCreated)
	}
	if _, err := f.store.GetCatalogByPath(f.ctx, f.ws.ID, "kits/a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("catalog survived rollback, err = %v", err)
	}
}

func TestDeleteCatalogs(t *testing.T) {
	f := newFixture(t)
	r1 := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	r2 := f.writeAndScan(t, f.project, ".bluekit/kits/gone.md", "---\ntype: kit\n---\nG")
	a := f.publish(t, r1, "")
	g := f.publish(t, r2, "")

	f.remote.mu.Lock()
	delete(f.remote.files, "kits/gone.md")
	f.remote.mu.Unlock()

	report := f.svc.DeleteCatalogs(f.ctx, []string{a.Catalog.ID, g.Catalog.ID, "missing"})
	if len(report.Succeeded) != 2 || len(report.Failed) != 1 || report.Failed[0].Kind != "not_found" {
		t.Fatalf("report = %+v", report)
	}
	if f.remote.has("kits/auth.md") {
		t.Error("remote file not deleted")
	}
	if got := f.remote.lastMessage(); got != "[BlueKit] Delete catalog: Auth by alice" {
		t.Errorf("commit message = %q", got)
	}
	catalogs, _ := f.store.ListCatalogs(f.ctx, f.ws.ID)
	if len(catalogs) != 0 {
		t.Errorf("%d catalogs remain", len(catalogs))
	}
	if _, err := f.store.GetVariation(f.ctx, a.Variation.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("variation survived catalog delete: %v", err)
	}
}

func TestDeleteCatalogs_RemoteFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	f.remote.user = ""
	f.svc.ForgetUser()
	report := f.svc.DeleteCatalogs(f.ctx, []string{pub.Catalog.ID})
	if report.HasFailures() || len(report.Warnings) != 1 || report.Warnings[0].Kind != "unauthenticated" {
		t.Fatalf("report = %+v", report)
	}
	if _, err := f.store.GetCatalog(f.ctx, pub.Catalog.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("catalog kept after remote failure")
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	pub := f.publish(t, r, "")

	q := f.newProject(t, "q")
	pulled, err := f.svc.PullVariation(f.ctx, PullRequest{VariationID: pub.Variation.ID, ProjectID: q.ID})
	if err != nil {
		t.Fatal(err)
	}

	status, err := f.svc.CheckResourceStatus(f.ctx, pulled.Resource.ID)
	if err != nil {
		t.Fatalf("CheckResourceStatus() failed: %v", err)
	}
	if status.HasUnpublishedChanges || status.HasUpdates || status.Subscription == nil {
		t.Errorf("fresh pull status = %+v", status)
	}

	newer := &store.Variation{
		CatalogID:   pub.Catalog.ID,
		RemotePath:  "kits/auth.md",
		ContentHash: artifact.ContentHash([]byte("newer")),
		PublishedAt: pub.Variation.PublishedAt + 10,
	}
	if err := f.store.InsertVariation(f.ctx, newer); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pulled.Path, []byte(authKit+" local edit"), 0644); err != nil {
		t.Fatal(err)
	}

	status, err = f.svc.CheckResourceStatus(f.ctx, pulled.Resource.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !status.HasUnpublishedChanges || !status.HasUpdates || status.LatestVariation.ID != newer.ID {
		t.Errorf("status = %+v, want local changes and update to %s", status, newer.ID)
	}
}

func TestCheckProjectForUpdates_SkipsFailures(t *testing.T) {
	f := newFixture(t)
	f.writeAndScan(t, f.project, ".bluekit/kits/a.md", "A")
	b := f.writeAndScan(t, f.project, ".bluekit/kits/b.md", "B")
	if err := os.Remove(filepath.Join(f.project.Path, ".bluekit", "kits", "a.md")); err != nil {
		t.Fatal(err)
	}

	status, err := f.svc.CheckProjectForUpdates(f.ctx, f.project.ID)
	if err != nil {
		t.Fatalf("CheckProjectForUpdates() failed: %v", err)
	}
	if len(status.Resources) != 1 || status.Resources[0].ResourceID != b.ID {
		t.Errorf("resources = %+v, want only b", status.Resources)
	}
	if len(status.Report.Failed) != 1 || status.Report.Failed[0].Kind != "not_found" {
		t.Errorf("failed = %+v", status.Report.Failed)
	}
}

func TestListWorkspaceCatalogsAndFolders(t *testing.T) {
	f := newFixture(t)
	r := f.writeAndScan(t, f.project, ".bluekit/kits/auth.md", authKit)
	f.publish(t, r, "")
	f.publish(t, r, "")
	f.remote.seed("ui/.bluekitws", sentinelContent)
	f.remote.seed("docs/readme.md", "no sentinel")

	list, err := f.svc.ListWorkspaceCatalogs(f.ctx, f.ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || len(list[0].Variations) != 2 {
		t.Fatalf("list = %+v, want 1 catalog with 2 variations", list)
	}

	folders, err := f.svc.ListFolders(f.ctx, f.ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 || folders[0].Path != "ui" {
		t.Fatalf("folders = %+v, want [ui]", folders)
	}

	f.remote.mu.Lock()
	delete(f.remote.files, "ui/.bluekitws")
	f.remote.mu.Unlock()
	folders, _ = f.svc.ListFolders(f.ctx, f.ws.ID)
	stored, _ := f.store.ListFolders(f.ctx, f.ws.ID)
	if len(folders) != 0 || len(stored) != 0 {
		t.Errorf("stale folder kept: listed=%d stored=%d", len(folders), len(stored))
	}
}
