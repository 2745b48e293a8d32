package store

import (
	"context"
	"database/sql"
	"fmt"
)

// --- plans ---

const planColumns = `id, project_id, name, description, folder_path, status, created_at, updated_at`

// CreatePlan inserts a plan.
func (s *Store) CreatePlan(ctx context.Context, p *Plan) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	now := s.nowMillis()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx, `INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.Name, p.Description, p.FolderPath, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan %s: %w", p.Name, err)
	}
	return nil
}

// GetPlan loads a plan by id.
func (s *Store) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	err := s.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id).
		Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.FolderPath, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "plan", id)
	}
	return &p, nil
}

// ListPlans returns a project's plans, newest first.
func (s *Store) ListPlans(ctx context.Context, projectID string) ([]*Plan, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.FolderPath, &p.Status,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpdatePlanStatus sets a plan's status.
func (s *Store) UpdatePlanStatus(ctx context.Context, id, status string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("failed to update plan %s: %w", id, err)
	}
	return requireRow(res, "plan", id)
}

// DeletePlan removes a plan with its phases, milestones, documents and links.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan %s: %w", id, err)
	}
	return requireRow(res, "plan", id)
}

// AddPhase appends a phase to a plan.
func (s *Store) AddPhase(ctx context.Context, ph *PlanPhase) error {
	if ph.ID == "" {
		ph.ID = NewID()
	}
	if ph.Status == "" {
		ph.Status = "pending"
	}
	now := s.nowMillis()
	ph.CreatedAt, ph.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_phases (id, plan_id, name, description, order_index, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ph.ID, ph.PlanID, ph.Name, ph.Description, ph.OrderIndex, ph.Status, ph.CreatedAt, ph.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add phase %s: %w", ph.Name, err)
	}
	return nil
}

// AddMilestone appends a milestone to a phase.
func (s *Store) AddMilestone(ctx context.Context, m *PlanMilestone) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	now := s.nowMillis()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_milestones (id, phase_id, name, description, order_index, completed, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.PhaseID, m.Name, m.Description, m.OrderIndex, boolToInt(m.Completed),
		nullInt(m.CompletedAt), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add milestone %s: %w", m.Name, err)
	}
	return nil
}

// ToggleMilestone flips a milestone's completion and stamps completed_at.
func (s *Store) ToggleMilestone(ctx context.Context, id string) error {
	now := s.nowMillis()
	res, err := s.q.ExecContext(ctx, `
		UPDATE plan_milestones
		SET completed = 1 - completed,
			completed_at = CASE WHEN completed = 0 THEN ? ELSE NULL END,
			updated_at = ?
		WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to toggle milestone %s: %w", id, err)
	}
	return requireRow(res, "milestone", id)
}

// AddPlanDocument attaches a document file to a plan, optionally to one
// of its phases. Re-adding the same path is a no-op.
func (s *Store) AddPlanDocument(ctx context.Context, d *PlanDocument) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	d.CreatedAt = s.nowMillis()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_documents (id, plan_id, phase_id, file_path, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, file_path) DO NOTHING
	`, d.ID, d.PlanID, nullString(d.PhaseID), d.FilePath, d.FileName, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add plan document %s: %w", d.FilePath, err)
	}
	return nil
}

// AddPlanLink links a plan to another plan file. Duplicates are ignored.
func (s *Store) AddPlanLink(ctx context.Context, l *PlanLink) error {
	if l.ID == "" {
		l.ID = NewID()
	}
	l.CreatedAt = s.nowMillis()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plan_links (id, plan_id, linked_plan_path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id, linked_plan_path) DO NOTHING
	`, l.ID, l.PlanID, l.LinkedPlanPath, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add plan link %s: %w", l.LinkedPlanPath, err)
	}
	return nil
}

// GetPlanDetails loads a plan with its ordered phases and milestones, its
// documents and links, and the percentage of completed milestones.
func (s *Store) GetPlanDetails(ctx context.Context, id string) (*PlanDetails, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	details := &PlanDetails{
		Plan:      *plan,
		Phases:    []PlanPhase{},
		Documents: []PlanDocument{},
		Links:     []PlanLink{},
	}

	phaseRows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, name, description, order_index, status, created_at, updated_at
		FROM plan_phases WHERE plan_id = ? ORDER BY order_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load phases of plan %s: %w", id, err)
	}
	phaseIndex := make(map[string]int)
	for phaseRows.Next() {
		var ph PlanPhase
		if err := phaseRows.Scan(&ph.ID, &ph.PlanID, &ph.Name, &ph.Description, &ph.OrderIndex,
			&ph.Status, &ph.CreatedAt, &ph.UpdatedAt); err != nil {
			phaseRows.Close()
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		ph.Milestones = []PlanMilestone{}
		phaseIndex[ph.ID] = len(details.Phases)
		details.Phases = append(details.Phases, ph)
	}
	phaseRows.Close()
	if err := phaseRows.Err(); err != nil {
		return nil, err
	}

	msRows, err := s.q.QueryContext(ctx, `
		SELECT m.id, m.phase_id, m.name, m.description, m.order_index, m.completed, m.completed_at,
			m.created_at, m.updated_at
		FROM plan_milestones m
		JOIN plan_phases p ON p.id = m.phase_id
		WHERE p.plan_id = ?
		ORDER BY p.order_index, m.order_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load milestones of plan %s: %w", id, err)
	}
	var total, done int
	for msRows.Next() {
		var (
			m           PlanMilestone
			completed   int
			completedAt sql.NullInt64
		)
		if err := msRows.Scan(&m.ID, &m.PhaseID, &m.Name, &m.Description, &m.OrderIndex, &completed,
			&completedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			msRows.Close()
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.Completed = completed != 0
		m.CompletedAt = intPtr(completedAt)
		total++
		if m.Completed {
			done++
		}
		if i, ok := phaseIndex[m.PhaseID]; ok {
			details.Phases[i].Milestones = append(details.Phases[i].Milestones, m)
		}
	}
	msRows.Close()
	if err := msRows.Err(); err != nil {
		return nil, err
	}
	if total > 0 {
		details.Progress = float64(done) * 100 / float64(total)
	}

	docRows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, phase_id, file_path, file_name, created_at
		FROM plan_documents WHERE plan_id = ? ORDER BY file_path
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents of plan %s: %w", id, err)
	}
	for docRows.Next() {
		var (
			d       PlanDocument
			phaseID sql.NullString
		)
		if err := docRows.Scan(&d.ID, &d.PlanID, &phaseID, &d.FilePath, &d.FileName, &d.CreatedAt); err != nil {
			docRows.Close()
			return nil, fmt.Errorf("failed to scan plan document: %w", err)
		}
		d.PhaseID = phaseID.String
		details.Documents = append(details.Documents, d)
	}
	docRows.Close()
	if err := docRows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := s.q.QueryContext(ctx, `
		SELECT id, plan_id, linked_plan_path, created_at
		FROM plan_links WHERE plan_id = ? ORDER BY linked_plan_path
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load links of plan %s: %w", id, err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var l PlanLink
		if err := linkRows.Scan(&l.ID, &l.PlanID, &l.LinkedPlanPath, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan link: %w", err)
		}
		details.Links = append(details.Links, l)
	}
	return details, linkRows.Err()
}

// --- walkthroughs ---

const walkthroughColumns = `id, project_id, name, description, file_path, status, complexity, format,
	created_at, updated_at`

// CreateWalkthrough inserts a walkthrough.
func (s *Store) CreateWalkthrough(ctx context.Context, w *Walkthrough) error {
	if w.ID == "" {
		w.ID = NewID()
	}
	if w.Status == "" {
		w.Status = "not_started"
	}
	now := s.nowMillis()
	w.CreatedAt, w.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO walkthroughs (`+walkthroughColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ProjectID, w.Name, w.Description, w.FilePath, w.Status, w.Complexity, w.Format,
		w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create walkthrough %s: %w", w.Name, err)
	}
	return nil
}

func scanWalkthrough(row rowScanner) (*Walkthrough, error) {
	var w Walkthrough
	if err := row.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Description, &w.FilePath, &w.Status,
		&w.Complexity, &w.Format, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalkthrough loads a walkthrough by id.
func (s *Store) GetWalkthrough(ctx context.Context, id string) (*Walkthrough, error) {
	w, err := scanWalkthrough(s.q.QueryRowContext(ctx,
		`SELECT `+walkthroughColumns+` FROM walkthroughs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "walkthrough", id)
	}
	return w, nil
}

// ListWalkthroughs returns a project's walkthroughs, newest first.
func (s *Store) ListWalkthroughs(ctx context.Context, projectID string) ([]*Walkthrough, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+walkthroughColumns+` FROM walkthroughs WHERE project_id = ? ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list walkthroughs: %w", err)
	}
	defer rows.Close()

	var out []*Walkthrough
	for rows.Next() {
		w, err := scanWalkthrough(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan walkthrough: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWalkthrough removes a walkthrough with its takeaways and notes.
func (s *Store) DeleteWalkthrough(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM walkthroughs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete walkthrough %s: %w", id, err)
	}
	return requireRow(res, "walkthrough", id)
}

// AddTakeaway appends a takeaway to a walkthrough.
func (s *Store) AddTakeaway(ctx context.Context, t *Takeaway) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	t.CreatedAt = s.nowMillis()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO walkthrough_takeaways (id, walkthrough_id, title, description, sort_order, completed, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.WalkthroughID, t.Title, t.Description, t.SortOrder, boolToInt(t.Completed),
		nullInt(t.CompletedAt), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add takeaway %s: %w", t.Title, err)
	}
	return nil
}

// ToggleTakeaway flips a takeaway's completion.
func (s *Store) ToggleTakeaway(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE walkthrough_takeaways
		SET completed = 1 - completed,
			completed_at = CASE WHEN completed = 0 THEN ? ELSE NULL END
		WHERE id = ?
	`, s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("failed to toggle takeaway %s: %w", id, err)
	}
	return requireRow(res, "takeaway", id)
}

// AddNote attaches a note to a walkthrough.
func (s *Store) AddNote(ctx context.Context, n *Note) error {
	if n.ID == "" {
		n.ID = NewID()
	}
	now := s.nowMillis()
	n.CreatedAt, n.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO walkthrough_notes (id, walkthrough_id, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, n.ID, n.WalkthroughID, n.Content, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add note: %w", err)
	}
	return nil
}

// GetWalkthroughDetails loads a walkthrough with ordered takeaways, notes
// and the percentage of completed takeaways.
func (s *Store) GetWalkthroughDetails(ctx context.Context, id string) (*WalkthroughDetails, error) {
	w, err := s.GetWalkthrough(ctx, id)
	if err != nil {
		return nil, err
	}
	details := &WalkthroughDetails{Walkthrough: *w, Takeaways: []Takeaway{}, Notes: []Note{}}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, walkthrough_id, title, description, sort_order, completed, completed_at, created_at
		FROM walkthrough_takeaways WHERE walkthrough_id = ? ORDER BY sort_order
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load takeaways of %s: %w", id, err)
	}
	done := 0
	for rows.Next() {
		var (
			t           Takeaway
			completed   int
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.WalkthroughID, &t.Title, &t.Description, &t.SortOrder,
			&completed, &completedAt, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan takeaway: %w", err)
		}
		t.Completed = completed != 0
		t.CompletedAt = intPtr(completedAt)
		if t.Completed {
			done++
		}
		details.Takeaways = append(details.Takeaways, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n := len(details.Takeaways); n > 0 {
		details.Progress = float64(done) * 100 / float64(n)
	}

	noteRows, err := s.q.QueryContext(ctx, `
		SELECT id, walkthrough_id, content, created_at, updated_at
		FROM walkthrough_notes WHERE walkthrough_id = ? ORDER BY created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load notes of %s: %w", id, err)
	}
	defer noteRows.Close()
	for noteRows.Next() {
		var n Note
		if err := noteRows.Scan(&n.ID, &n.WalkthroughID, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		details.Notes = append(details.Notes, n)
	}
	return details, noteRows.Err()
}

// --- checkpoints ---

const checkpointColumns = `id, project_id, name, description, git_commit_sha, git_branch, git_url,
	parent_checkpoint_id, checkpoint_type, created_at, updated_at`

// CreateCheckpoint pins a commit of a project.
func (s *Store) CreateCheckpoint(ctx context.Context, c *Checkpoint) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CheckpointType == "" {
		c.CheckpointType = "experiment"
	}
	now := s.nowMillis()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO checkpoints (`+checkpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Name, c.Description, c.GitCommitSHA, nullString(c.GitBranch),
		nullString(c.GitURL), nullString(c.ParentID), c.CheckpointType, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint %s: %w", c.Name, err)
	}
	return nil
}

// ListCheckpoints returns a project's checkpoints, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, projectID string) ([]*Checkpoint, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE project_id = ? ORDER BY created_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var (
			c                     Checkpoint
			branch, url, parentID sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Description, &c.GitCommitSHA, &branch,
			&url, &parentID, &c.CheckpointType, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		c.GitBranch = branch.String
		c.GitURL = url.String
		c.ParentID = parentID.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteCheckpoint removes a checkpoint. Children keep a dangling parent
// id, which readers treat as a root.
func (s *Store) DeleteCheckpoint(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", id, err)
	}
	return requireRow(res, "checkpoint", id)
}
