package redmine

import (
	"context"
	"fmt"
	"net/url"
)

// ProjectsService handles project CRUD against /projects.json.
// Item paths accept either the numeric ID or the project identifier.
type ProjectsService struct {
	client *Client
}

// ProjectList is the decoded response from a listing call.
type ProjectList struct {
	Items      []Project `json:"projects"`
	TotalCount int       `json:"total_count"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

// Create creates a project. Name and identifier are required by the
// backend; everything else passes through.
func (s *ProjectsService) Create(ctx context.Context, fields map[string]any) (*Project, error) {
	payload, err := s.client.do(ctx, "POST", "/projects.json", map[string]any{"project": fields})
	if err != nil {
		return nil, err
	}

	var project Project
	if err := unwrapResource(payload, "project", &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// Get returns a project by ID or identifier, optionally with related
// data (trackers, issue_categories, enabled_modules).
func (s *ProjectsService) Get(ctx context.Context, idOrIdentifier string, include ...string) (*Project, error) {
	path := fmt.Sprintf("/projects/%s.json%s", url.PathEscape(idOrIdentifier), includeQuery(include))
	payload, err := s.client.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var project Project
	if err := unwrapResource(payload, "project", &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// List returns projects visible to the authenticated user.
func (s *ProjectsService) List(ctx context.Context, opts ListOptions) (*ProjectList, error) {
	payload, err := s.client.do(ctx, "GET", "/projects.json?"+opts.query().Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list ProjectList
	if err := decode(payload, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		list.Items = []Project{}
	}
	return &list, nil
}

// Update updates a project; empty acknowledgment on success.
func (s *ProjectsService) Update(ctx context.Context, idOrIdentifier string, fields map[string]any) error {
	path := fmt.Sprintf("/projects/%s.json", url.PathEscape(idOrIdentifier))
	_, err := s.client.do(ctx, "PUT", path, map[string]any{"project": fields})
	return err
}

// Delete deletes a project and everything under it.
func (s *ProjectsService) Delete(ctx context.Context, idOrIdentifier string) error {
	path := fmt.Sprintf("/projects/%s.json", url.PathEscape(idOrIdentifier))
	_, err := s.client.do(ctx, "DELETE", path, nil)
	return err
}
