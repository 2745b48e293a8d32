package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bluekit.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustProject(t *testing.T, s *Store, path string) *Project {
	t.Helper()
	p := &Project{Name: filepath.Base(path), Path: path}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	return p
}

func TestOpen_InitSchemaIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.InitSchema(ctx); err != nil {
			t.Fatalf("InitSchema() #%d failed: %v", i, err)
		}
	}

	tables := []string{"projects", "resources", "workspaces", "catalogs", "variations",
		"subscriptions", "folders", "plans", "plan_phases", "plan_milestones", "plan_documents",
		"plan_links", "walkthroughs", "walkthrough_takeaways", "walkthrough_notes", "checkpoints"}
	for _, table := range tables {
		var name string
		err := s.RawDB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	var mode string
	if err := s.RawDB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestProjects_CRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := mustProject(t, s, "/p")
	if p.ID == "" || p.CreatedAt == 0 {
		t.Fatalf("project not populated: %+v", p)
	}

	got, err := s.GetProjectByPath(ctx, "/p")
	if err != nil {
		t.Fatalf("GetProjectByPath() failed: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("ID = %s, want %s", got.ID, p.ID)
	}

	up := &Project{Name: "renamed", Path: "/p", GitBranch: "main"}
	if err := s.UpsertProjectByPath(ctx, up); err != nil {
		t.Fatalf("UpsertProjectByPath() failed: %v", err)
	}
	if up.ID != p.ID {
		t.Errorf("upsert changed id: %s != %s", up.ID, p.ID)
	}
	got, _ = s.GetProject(ctx, p.ID)
	if got.Name != "renamed" || got.GitBranch != "main" {
		t.Errorf("after upsert: %+v", got)
	}

	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetProject(missing) error = %v, want NotFound", err)
	}
}

func TestDeleteProject_Cascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "/p")

	if err := s.CreateCheckpoint(ctx, &Checkpoint{ProjectID: p.ID, Name: "c1", GitCommitSHA: "abc"}); err != nil {
		t.Fatal(err)
	}
	plan := &Plan{ProjectID: p.ID, Name: "plan", FolderPath: ".bluekit/plans/plan"}
	if err := s.CreatePlan(ctx, plan); err != nil {
		t.Fatal(err)
	}
	r := &Resource{ProjectID: p.ID, RelativePath: ".bluekit/kits/a.md", FileName: "a.md",
		ArtifactType: artifact.TypeKit, ContentHash: "h"}
	if err := s.InsertResource(ctx, r); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject() failed: %v", err)
	}

	cps, err := s.ListCheckpoints(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 0 {
		t.Errorf("checkpoints survived project delete: %d", len(cps))
	}
	if _, err := s.GetPlan(ctx, plan.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("plan survived project delete: %v", err)
	}
	if _, err := s.GetResource(ctx, r.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("resource survived project delete: %v", err)
	}
	if err := s.DeleteProject(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second DeleteProject() error = %v, want NotFound", err)
	}
}

func TestResources_UpsertAndSoftDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "/p")

	r := &Resource{ProjectID: p.ID, RelativePath: ".bluekit/kits/a.md", FileName: "a.md",
		ArtifactType: artifact.TypeKit, ContentHash: "h1", FrontMatter: `{"type":"kit"}`}
	if err := s.UpsertResource(ctx, r); err != nil {
		t.Fatal(err)
	}
	id := r.ID

	if err := s.SoftDeleteResource(ctx, id); err != nil {
		t.Fatal(err)
	}
	live, err := s.ListResources(ctx, p.ID, ListResourcesFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Errorf("soft-deleted resource listed: %d", len(live))
	}
	all, _ := s.ListResources(ctx, p.ID, ListResourcesFilter{IncludeDeleted: true})
	if len(all) != 1 || !all[0].IsDeleted {
		t.Fatalf("IncludeDeleted listing = %+v", all)
	}

	again := &Resource{ProjectID: p.ID, RelativePath: ".bluekit/kits/a.md", FileName: "a.md",
		ArtifactType: artifact.TypeKit, ContentHash: "h2"}
	if err := s.UpsertResource(ctx, again); err != nil {
		t.Fatal(err)
	}
	if again.ID != id {
		t.Errorf("upsert changed id: %s != %s", again.ID, id)
	}
	got, _ := s.GetResource(ctx, id)
	if got.IsDeleted || got.ContentHash != "h2" || got.FrontMatter != "" {
		t.Errorf("after upsert: %+v", got)
	}
}

func TestCatalogsAndVariations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ws, err := s.UpsertWorkspace(ctx, "acme", "lib", "")
	if err != nil {
		t.Fatal(err)
	}
	if ws.Name != "lib" || ws.FullName() != "acme/lib" {
		t.Errorf("workspace = %+v", ws)
	}
	again, _ := s.UpsertWorkspace(ctx, "acme", "lib", "")
	if again.ID != ws.ID {
		t.Errorf("UpsertWorkspace created a duplicate")
	}

	c := &Catalog{WorkspaceID: ws.ID, RemotePath: "kits/auth.md", Name: "Auth",
		Tags: []string{"a", "b"}, ArtifactType: artifact.TypeKit}
	if err := s.InsertCatalog(ctx, c); err != nil {
		t.Fatal(err)
	}
	dup := &Catalog{WorkspaceID: ws.ID, RemotePath: "kits/auth.md", Name: "Auth", ArtifactType: artifact.TypeKit}
	if err := s.InsertCatalog(ctx, dup); err == nil {
		t.Error("duplicate (workspace, remote_path) accepted")
	}

	got, err := s.GetCatalogByPath(ctx, ws.ID, "kits/auth.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "b" {
		t.Errorf("tags = %v", got.Tags)
	}

	v1 := &Variation{CatalogID: c.ID, RemotePath: c.RemotePath, ContentHash: "h1", RemoteSHA: "s1",
		Publisher: "alice", PublishedAt: 100}
	v2 := &Variation{CatalogID: c.ID, RemotePath: c.RemotePath, ContentHash: "h2", RemoteSHA: "s2",
		Publisher: "alice", PublishedAt: 200}
	for _, v := range []*Variation{v1, v2} {
		if err := s.InsertVariation(ctx, v); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.LatestVariation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != v2.ID {
		t.Errorf("latest = %s, want %s", latest.ID, v2.ID)
	}
	list, _ := s.ListVariations(ctx, c.ID)
	if len(list) != 2 || list[0].ID != v2.ID {
		t.Errorf("ListVariations not newest first: %+v", list)
	}
	byHash, err := s.FindVariationByHash(ctx, c.ID, "h1")
	if err != nil || byHash.ID != v1.ID {
		t.Errorf("FindVariationByHash = %v, %v", byHash, err)
	}

	v1.ContentHash = "h3"
	v1.RemoteSHA = "s3"
	if err := s.OverwriteVariation(ctx, v1); err != nil {
		t.Fatal(err)
	}
	reloaded, _ := s.GetVariation(ctx, v1.ID)
	if reloaded.ContentHash != "h3" || reloaded.PublishedAt < 200 {
		t.Errorf("overwrite = %+v", reloaded)
	}

	if err := s.DeleteCatalog(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetVariation(ctx, v2.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("variation survived catalog delete: %v", err)
	}
}

func TestSubscriptions_UniquePerResource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "/q")
	ws, _ := s.UpsertWorkspace(ctx, "acme", "lib", "")
	c := &Catalog{WorkspaceID: ws.ID, RemotePath: "kits/auth.md", Name: "Auth", ArtifactType: artifact.TypeKit}
	if err := s.InsertCatalog(ctx, c); err != nil {
		t.Fatal(err)
	}
	v1 := &Variation{CatalogID: c.ID, RemotePath: c.RemotePath, ContentHash: "h1"}
	v2 := &Variation{CatalogID: c.ID, RemotePath: c.RemotePath, ContentHash: "h2"}
	_ = s.InsertVariation(ctx, v1)
	_ = s.InsertVariation(ctx, v2)
	r := &Resource{ProjectID: p.ID, RelativePath: ".bluekit/kits/auth.md", FileName: "auth.md",
		ArtifactType: artifact.TypeKit, ContentHash: "h1"}
	_ = s.InsertResource(ctx, r)

	first, err := s.UpsertSubscription(ctx, r.ID, c.ID, v1.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.UpsertSubscription(ctx, r.ID, c.ID, v2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("subscription id changed: %s -> %s", first.ID, second.ID)
	}
	if second.VariationID != v2.ID {
		t.Errorf("variation = %s, want %s", second.VariationID, v2.ID)
	}

	if err := s.DeleteResource(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSubscriptionByResource(ctx, r.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("subscription survived resource delete: %v", err)
	}
}

func TestTimestampScales(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Unix(1_700_000_000, 123_000_000)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	p := mustProject(t, s, "/p")
	if p.CreatedAt != fixed.UnixMilli() {
		t.Errorf("project created_at = %d, want ms %d", p.CreatedAt, fixed.UnixMilli())
	}
	ws, _ := s.UpsertWorkspace(ctx, "acme", "lib", "Lib")
	if ws.CreatedAt != fixed.Unix() {
		t.Errorf("workspace created_at = %d, want s %d", ws.CreatedAt, fixed.Unix())
	}
}

func TestFolders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ws, _ := s.UpsertWorkspace(ctx, "acme", "lib", "")

	a, err := s.UpsertFolder(ctx, ws.ID, "ui", "ui")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.UpsertFolder(ctx, ws.ID, "ui", "UI")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Errorf("folder id changed on upsert")
	}
	folders, _ := s.ListFolders(ctx, ws.ID)
	if len(folders) != 1 || folders[0].Name != "UI" {
		t.Errorf("folders = %+v", folders)
	}
	if err := s.DeleteFolder(ctx, ws.ID, "ui"); err != nil {
		t.Fatal(err)
	}
	folders, _ = s.ListFolders(ctx, ws.ID)
	if len(folders) != 0 {
		t.Errorf("folder not deleted")
	}
}

func TestPlanDetails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "/p")

	plan := &Plan{ProjectID: p.ID, Name: "Launch", FolderPath: ".bluekit/plans/launch"}
	if err := s.CreatePlan(ctx, plan); err != nil {
		t.Fatal(err)
	}
	ph2 := &PlanPhase{PlanID: plan.ID, Name: "Second", OrderIndex: 1}
	ph1 := &PlanPhase{PlanID: plan.ID, Name: "First", OrderIndex: 0}
	for _, ph := range []*PlanPhase{ph2, ph1} {
		if err := s.AddPhase(ctx, ph); err != nil {
			t.Fatal(err)
		}
	}
	m1 := &PlanMilestone{PhaseID: ph1.ID, Name: "m1"}
	m2 := &PlanMilestone{PhaseID: ph2.ID, Name: "m2"}
	_ = s.AddMilestone(ctx, m1)
	_ = s.AddMilestone(ctx, m2)
	if err := s.ToggleMilestone(ctx, m1.ID); err != nil {
		t.Fatal(err)
	}
	_ = s.AddPlanDocument(ctx, &PlanDocument{PlanID: plan.ID, FilePath: "/p/.bluekit/plans/launch/a.md", FileName: "a.md"})
	_ = s.AddPlanDocument(ctx, &PlanDocument{PlanID: plan.ID, FilePath: "/p/.bluekit/plans/launch/a.md", FileName: "a.md"})
	_ = s.AddPlanLink(ctx, &PlanLink{PlanID: plan.ID, LinkedPlanPath: "other"})

	d, err := s.GetPlanDetails(ctx, plan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Phases) != 2 || d.Phases[0].Name != "First" {
		t.Fatalf("phases = %+v", d.Phases)
	}
	if len(d.Phases[0].Milestones) != 1 || !d.Phases[0].Milestones[0].Completed {
		t.Errorf("first phase milestones = %+v", d.Phases[0].Milestones)
	}
	if d.Progress != 50 {
		t.Errorf("progress = %v, want 50", d.Progress)
	}
	if len(d.Documents) != 1 || len(d.Links) != 1 {
		t.Errorf("documents = %d, links = %d", len(d.Documents), len(d.Links))
	}

	if err := s.ToggleMilestone(ctx, m1.ID); err != nil {
		t.Fatal(err)
	}
	d, _ = s.GetPlanDetails(ctx, plan.ID)
	if d.Phases[0].Milestones[0].Completed || d.Phases[0].Milestones[0].CompletedAt != nil {
		t.Errorf("toggle back failed: %+v", d.Phases[0].Milestones[0])
	}
}

func TestWalkthroughDetails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := mustProject(t, s, "/p")

	w := &Walkthrough{ProjectID: p.ID, Name: "Tour", FilePath: ".bluekit/walkthroughs/tour.md"}
	if err := s.CreateWalkthrough(ctx, w); err != nil {
		t.Fatal(err)
	}
	t1 := &Takeaway{WalkthroughID: w.ID, Title: "one", SortOrder: 1}
	t2 := &Takeaway{WalkthroughID: w.ID, Title: "two", SortOrder: 2}
	_ = s.AddTakeaway(ctx, t2)
	_ = s.AddTakeaway(ctx, t1)
	_ = s.ToggleTakeaway(ctx, t2.ID)
	_ = s.AddNote(ctx, &Note{WalkthroughID: w.ID, Content: "remember"})

	d, err := s.GetWalkthroughDetails(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Takeaways) != 2 || d.Takeaways[0].Title != "one" {
		t.Errorf("takeaways = %+v", d.Takeaways)
	}
	if d.Progress != 50 || len(d.Notes) != 1 {
		t.Errorf("progress = %v, notes = %d", d.Progress, len(d.Notes))
	}

	if err := s.DeleteWalkthrough(ctx, w.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetWalkthroughDetails(ctx, w.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("walkthrough survived delete: %v", err)
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Store) error {
		if err := tx.CreateProject(ctx, &Project{Name: "x", Path: "/x"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx error = %v", err)
	}
	if _, err := s.GetProjectByPath(ctx, "/x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("rolled-back project visible: %v", err)
	}
}
