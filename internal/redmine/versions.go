package redmine

import (
	"context"
	"fmt"
	"net/url"
)

// VersionsService handles version/milestone CRUD. Listing and
// creation are scoped to a project; get/update/delete address a
// version by its own ID.
type VersionsService struct {
	client *Client
}

// VersionList is the decoded response from a listing call.
type VersionList struct {
	Items      []Version `json:"versions"`
	TotalCount int       `json:"total_count"`
}

// Create creates a version in the given project.
func (s *VersionsService) Create(ctx context.Context, project string, fields map[string]any) (*Version, error) {
	path := fmt.Sprintf("/projects/%s/versions.json", url.PathEscape(project))
	payload, err := s.client.do(ctx, "POST", path, map[string]any{"version": fields})
	if err != nil {
		return nil, err
	}

	var version Version
	if err := unwrapResource(payload, "version", &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// Get returns a version by ID.
func (s *VersionsService) Get(ctx context.Context, id int) (*Version, error) {
	path := fmt.Sprintf("/versions/%d.json", id)
	payload, err := s.client.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var version Version
	if err := unwrapResource(payload, "version", &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// List returns all versions of a project.
func (s *VersionsService) List(ctx context.Context, project string) (*VersionList, error) {
	path := fmt.Sprintf("/projects/%s/versions.json", url.PathEscape(project))
	payload, err := s.client.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var list VersionList
	if err := decode(payload, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		list.Items = []Version{}
	}
	return &list, nil
}

// Update updates a version; empty acknowledgment on success.
func (s *VersionsService) Update(ctx context.Context, id int, fields map[string]any) error {
	path := fmt.Sprintf("/versions/%d.json", id)
	_, err := s.client.do(ctx, "PUT", path, map[string]any{"version": fields})
	return err
}

// Delete deletes a version.
func (s *VersionsService) Delete(ctx context.Context, id int) error {
	path := fmt.Sprintf("/versions/%d.json", id)
	_, err := s.client.do(ctx, "DELETE", path, nil)
	return err
}
