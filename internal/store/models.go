package store

import "github.com/bluekit-app/bluekit/internal/artifact"

// Project is a local workspace on disk. Timestamps are Unix milliseconds.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	Description  string `json:"description"`
	GitURL       string `json:"git_url,omitempty"`
	GitBranch    string `json:"git_branch,omitempty"`
	GitCommit    string `json:"git_commit,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
	LastOpenedAt *int64 `json:"last_opened_at,omitempty"`
}

// Resource is a file under a project's .bluekit directory, identified by
// (ProjectID, RelativePath). Timestamps are Unix seconds.
type Resource struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"project_id"`
	RelativePath   string        `json:"relative_path"`
	FileName       string        `json:"file_name"`
	ArtifactType   artifact.Type `json:"artifact_type"`
	ContentHash    string        `json:"content_hash"`
	FrontMatter    string        `json:"front_matter,omitempty"` // JSON
	LastModifiedAt int64         `json:"last_modified_at"`
	IsDeleted      bool          `json:"is_deleted"`
	CreatedAt      int64         `json:"created_at"`
	UpdatedAt      int64         `json:"updated_at"`
}

// Workspace describes a remote library repository.
type Workspace struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// FullName returns "owner/repo".
func (w *Workspace) FullName() string {
	return w.Owner + "/" + w.Repo
}

// Catalog is the logical remote artifact, identified by
// (WorkspaceID, RemotePath).
type Catalog struct {
	ID           string        `json:"id"`
	WorkspaceID  string        `json:"workspace_id"`
	RemotePath   string        `json:"remote_path"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Tags         []string      `json:"tags"`
	ArtifactType artifact.Type `json:"artifact_type"`
	Folder       string        `json:"folder,omitempty"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// Variation is an immutable content snapshot of a catalog.
type Variation struct {
	ID          string `json:"id"`
	CatalogID   string `json:"catalog_id"`
	RemotePath  string `json:"remote_path"`
	ContentHash string `json:"content_hash"`
	RemoteSHA   string `json:"remote_sha"`
	Publisher   string `json:"publisher"`
	VersionTag  string `json:"version_tag,omitempty"`
	PublishedAt int64  `json:"published_at"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Subscription links a local resource to the variation it was pulled from.
type Subscription struct {
	ID            string `json:"id"`
	ResourceID    string `json:"resource_id"`
	CatalogID     string `json:"catalog_id"`
	VariationID   string `json:"variation_id"`
	PulledAt      int64  `json:"pulled_at"`
	LastCheckedAt int64  `json:"last_checked_at"`
}

// Folder is a remote workspace folder marked by a sentinel file.
type Folder struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	CreatedAt   int64  `json:"created_at"`
}

// Plan groups phases, milestones, documents and links under a folder of a
// project. Plan and its children use Unix milliseconds.
type Plan struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	FolderPath  string `json:"folder_path"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type PlanPhase struct {
	ID          string          `json:"id"`
	PlanID      string          `json:"plan_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	OrderIndex  int             `json:"order_index"`
	Status      string          `json:"status"`
	Milestones  []PlanMilestone `json:"milestones"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

type PlanMilestone struct {
	ID          string `json:"id"`
	PhaseID     string `json:"phase_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OrderIndex  int    `json:"order_index"`
	Completed   bool   `json:"completed"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type PlanDocument struct {
	ID        string `json:"id"`
	PlanID    string `json:"plan_id"`
	PhaseID   string `json:"phase_id,omitempty"`
	FilePath  string `json:"file_path"`
	FileName  string `json:"file_name"`
	CreatedAt int64  `json:"created_at"`
}

type PlanLink struct {
	ID             string `json:"id"`
	PlanID         string `json:"plan_id"`
	LinkedPlanPath string `json:"linked_plan_path"`
	CreatedAt      int64  `json:"created_at"`
}

// PlanDetails is a plan with all of its children loaded.
type PlanDetails struct {
	Plan
	Phases    []PlanPhase    `json:"phases"`
	Documents []PlanDocument `json:"documents"`
	Links     []PlanLink     `json:"links"`
	Progress  float64        `json:"progress"`
}

type Walkthrough struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	FilePath    string `json:"file_path"`
	Status      string `json:"status"`
	Complexity  string `json:"complexity"`
	Format      string `json:"format"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type Takeaway struct {
	ID            string `json:"id"`
	WalkthroughID string `json:"walkthrough_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	SortOrder     int    `json:"sort_order"`
	Completed     bool   `json:"completed"`
	CompletedAt   *int64 `json:"completed_at,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

type Note struct {
	ID            string `json:"id"`
	WalkthroughID string `json:"walkthrough_id"`
	Content       string `json:"content"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// WalkthroughDetails is a walkthrough with its takeaways and notes.
type WalkthroughDetails struct {
	Walkthrough
	Takeaways []Takeaway `json:"takeaways"`
	Notes     []Note     `json:"notes"`
	Progress  float64    `json:"progress"`
}

// Checkpoint pins a git commit of a project. ParentID is a nullable
// reference to another checkpoint.
type Checkpoint struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	GitCommitSHA   string `json:"git_commit_sha"`
	GitBranch      string `json:"git_branch,omitempty"`
	GitURL         string `json:"git_url,omitempty"`
	ParentID       string `json:"parent_checkpoint_id,omitempty"`
	CheckpointType string `json:"checkpoint_type"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}
