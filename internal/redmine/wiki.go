package redmine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// WikiService handles project wiki pages. Wiki pages are addressed by
// project and title rather than a numeric ID.
//
// Redmine's documented creation verb for a wiki page is PUT to the
// page path, not POST to a collection. CreateOrUpdate therefore
// issues the PUT first and falls back to POST only when the backend
// rejects the verb outright; trying POST first yields inconsistent
// text-markup rendering on some deployments.
type WikiService struct {
	client *Client
}

// WikiPageList is the decoded response from the wiki index.
type WikiPageList struct {
	Items []WikiPage `json:"wiki_pages"`
}

// CreateOrUpdate writes a wiki page. Fields must contain "text";
// "comments" and "parent_title" pass through. Redmine answers 201 on
// create and 204 on update, both commonly bodiless, so the page is
// re-fetched to return the stored state.
func (s *WikiService) CreateOrUpdate(ctx context.Context, project, title string, fields map[string]any) (*WikiPage, error) {
	path := fmt.Sprintf("/projects/%s/wiki/%s.json", url.PathEscape(project), url.PathEscape(title))
	_, err := s.client.do(ctx, "PUT", path, map[string]any{"wiki_page": fields})
	if err != nil {
		if !verbRejected(err) {
			return nil, err
		}
		// Compatibility fallback for backends that only accept POST to
		// the wiki collection; never the primary path.
		collection := fmt.Sprintf("/projects/%s/wiki.json", url.PathEscape(project))
		body := map[string]any{"title": title}
		for k, v := range fields {
			body[k] = v
		}
		if _, err := s.client.do(ctx, "POST", collection, map[string]any{"wiki_page": body}); err != nil {
			return nil, err
		}
	}

	return s.Get(ctx, project, title)
}

// verbRejected reports whether the backend refused the HTTP verb
// itself (404 on the page path or 405) rather than the content.
func verbRejected(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 404 || apiErr.StatusCode == 405
}

// Get returns a wiki page with its content, optionally including
// attachments.
func (s *WikiService) Get(ctx context.Context, project, title string, include ...string) (*WikiPage, error) {
	path := fmt.Sprintf("/projects/%s/wiki/%s.json%s", url.PathEscape(project), url.PathEscape(title), includeQuery(include))
	payload, err := s.client.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var page WikiPage
	if err := unwrapResource(payload, "wiki_page", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// List returns the wiki index of a project (titles and versions, no
// content).
func (s *WikiService) List(ctx context.Context, project string) (*WikiPageList, error) {
	path := fmt.Sprintf("/projects/%s/wiki/index.json", url.PathEscape(project))
	payload, err := s.client.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var list WikiPageList
	if err := decode(payload, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		list.Items = []WikiPage{}
	}
	return &list, nil
}

// Delete deletes a wiki page and its history.
func (s *WikiService) Delete(ctx context.Context, project, title string) error {
	path := fmt.Sprintf("/projects/%s/wiki/%s.json", url.PathEscape(project), url.PathEscape(title))
	_, err := s.client.do(ctx, "DELETE", path, nil)
	return err
}
