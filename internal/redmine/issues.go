package redmine

import (
	"context"
	"fmt"
)

// IssuesService handles issue CRUD against /issues.json.
type IssuesService struct {
	client *Client
}

// IssueList is the decoded response from a listing call.
type IssueList struct {
	Items      []Issue `json:"issues"`
	TotalCount int     `json:"total_count"`
	Offset     int     `json:"offset"`
	Limit      int     `json:"limit"`
}

// Create creates an issue from caller-supplied fields. The field set
// is passed through to the backend unmodified so backend-specific
// fields (parent_issue_id, done_ratio, estimated_hours, custom_fields,
// ...) work without client changes. The returned issue always carries
// its id, even when the backend answered 201 with an empty body.
func (s *IssuesService) Create(ctx context.Context, fields map[string]any) (*Issue, error) {
	payload, err := s.client.do(ctx, "POST", "/issues.json", map[string]any{"issue": fields})
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := unwrapResource(payload, "issue", &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Get returns an issue by ID with optional related data (journals,
// watchers, relations, children, attachments).
func (s *IssuesService) Get(ctx context.Context, id int, include ...string) (*Issue, error) {
	path := fmt.Sprintf("/issues/%d.json%s", id, includeQuery(include))
	payload, err := s.client.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := unwrapResource(payload, "issue", &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// List returns issues matching the given filters.
func (s *IssuesService) List(ctx context.Context, opts ListOptions) (*IssueList, error) {
	payload, err := s.client.do(ctx, "GET", "/issues.json?"+opts.query().Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list IssueList
	if err := decode(payload, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		list.Items = []Issue{}
	}
	return &list, nil
}

// Update updates an issue. Redmine acknowledges a successful update
// with an empty 204; callers needing the new state must Get again.
func (s *IssuesService) Update(ctx context.Context, id int, fields map[string]any) error {
	path := fmt.Sprintf("/issues/%d.json", id)
	_, err := s.client.do(ctx, "PUT", path, map[string]any{"issue": fields})
	return err
}

// Delete deletes an issue.
func (s *IssuesService) Delete(ctx context.Context, id int) error {
	path := fmt.Sprintf("/issues/%d.json", id)
	_, err := s.client.do(ctx, "DELETE", path, nil)
	return err
}
