package library

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/store"
)

// ResourceStatus compares a resource with its file and its subscription.
type ResourceStatus struct {
	ResourceID            string `json:"resource_id"`
	RelativePath          string `json:"relative_path"`
	CurrentHash           string `json:"current_hash"`
	StoredHash            string `json:"stored_hash"`
	HasUnpublishedChanges bool   `json:"has_unpublished_changes"`

	// Set when the resource was pulled from a library.
	Subscription     *store.Subscription `json:"subscription,omitempty"`
	CurrentVariation *store.Variation    `json:"current_variation,omitempty"`
	LatestVariation  *store.Variation    `json:"latest_variation,omitempty"`
	HasUpdates       bool                `json:"has_updates"`
}

// CheckResourceStatus reports whether a resource changed locally since it
// was scanned and whether its library catalog has a newer variation.
func (s *Service) CheckResourceStatus(ctx context.Context, resourceID string) (*ResourceStatus, error) {
	res, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, res.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.resourceStatus(ctx, project, res)
}

func (s *Service) resourceStatus(ctx context.Context, project *store.Project, res *store.Resource) (*ResourceStatus, error) {
	hash, err := fileHash(filepath.Join(project.Path, filepath.FromSlash(res.RelativePath)))
	if err != nil {
		return nil, err
	}
	status := &ResourceStatus{
		ResourceID:            res.ID,
		RelativePath:          res.RelativePath,
		CurrentHash:           hash,
		StoredHash:            res.ContentHash,
		HasUnpublishedChanges: hash != res.ContentHash,
	}

	sub, err := s.store.GetSubscriptionByResource(ctx, res.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return status, nil
		}
		return nil, err
	}
	status.Subscription = sub

	current, err := s.store.GetVariation(ctx, sub.VariationID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestVariation(ctx, sub.CatalogID)
	if err != nil {
		return nil, err
	}
	status.CurrentVariation = current
	status.LatestVariation = latest
	status.HasUpdates = latest.ID != current.ID || latest.ContentHash != current.ContentHash

	if err := s.store.TouchSubscription(ctx, sub.ID); err != nil {
		return nil, err
	}
	return status, nil
}

// ProjectStatus is the per-resource status of a project.
type ProjectStatus struct {
	ProjectID string            `json:"project_id"`
	Resources []*ResourceStatus `json:"resources"`

	// Updates counts resources whose catalog has a newer variation.
	Updates int `json:"updates"`

	Report BatchReport `json:"report"`
}

// CheckProjectForUpdates checks every live resource of a project. A
// resource that cannot be checked is logged and reported, and the rest
// are still checked.
func (s *Service) CheckProjectForUpdates(ctx context.Context, projectID string) (*ProjectStatus, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	resources, err := s.store.ListResources(ctx, projectID, store.ListResourcesFilter{})
	if err != nil {
		return nil, err
	}

	out := &ProjectStatus{ProjectID: projectID, Resources: []*ResourceStatus{}, Report: newReport()}
	for _, res := range resources {
		status, err := s.resourceStatus(ctx, project, res)
		if err != nil {
			s.logger.Printf("WARNING: Failed to check %s: %v", res.RelativePath, err)
			out.Report.fail(res.ID, err)
			continue
		}
		out.Resources = append(out.Resources, status)
		out.Report.ok(res.ID)
		if status.HasUpdates {
			out.Updates++
		}
	}
	return out, nil
}
