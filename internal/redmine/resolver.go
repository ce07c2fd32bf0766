package redmine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Resolver resolves human-friendly names to IDs so tools accept
// either. Lookups are cached for the resolver's lifetime; callers
// that need fresh data create a new resolver.
type Resolver struct {
	client *Client

	projects []Project
	users    []User
}

// NewResolver creates a new resolver backed by the given client.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

// ResolveError reports a failed or ambiguous name lookup.
type ResolveError struct {
	Type     string
	Query    string
	Matches  []IDName
	NotFound bool
}

func (e *ResolveError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("%s not found: %s", e.Type, e.Query)
	}
	names := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		names[i] = fmt.Sprintf("%s (ID: %d)", m.Name, m.ID)
	}
	return fmt.Sprintf("multiple %s match '%s': %s", e.Type, e.Query, strings.Join(names, ", "))
}

// ResolveProject resolves a project name, identifier, or numeric ID to
// the project ID.
func (r *Resolver) ResolveProject(ctx context.Context, nameOrID string) (int, error) {
	if id, err := strconv.Atoi(nameOrID); err == nil {
		return id, nil
	}

	if r.projects == nil {
		list, err := r.client.Projects.List(ctx, ListOptions{Limit: 1000})
		if err != nil {
			return 0, fmt.Errorf("failed to load projects: %w", err)
		}
		r.projects = list.Items
	}

	query := strings.ToLower(nameOrID)
	var matches []IDName
	for _, p := range r.projects {
		if strings.ToLower(p.Name) == query || strings.ToLower(p.Identifier) == query {
			matches = append(matches, IDName{ID: p.ID, Name: p.Name})
		}
	}

	// Fall back to partial match on the display name.
	if len(matches) == 0 {
		for _, p := range r.projects {
			if strings.Contains(strings.ToLower(p.Name), query) {
				matches = append(matches, IDName{ID: p.ID, Name: p.Name})
			}
		}
	}

	if len(matches) == 0 {
		return 0, &ResolveError{Type: "project", Query: nameOrID, NotFound: true}
	}
	if len(matches) > 1 {
		return 0, &ResolveError{Type: "project", Query: nameOrID, Matches: matches}
	}

	return matches[0].ID, nil
}

// ResolveUser resolves a user login, display name, or numeric ID to
// the user ID.
func (r *Resolver) ResolveUser(ctx context.Context, nameOrID string) (int, error) {
	if id, err := strconv.Atoi(nameOrID); err == nil {
		return id, nil
	}

	if r.users == nil {
		list, err := r.client.Users.List(ctx, ListOptions{Limit: 1000})
		if err != nil {
			return 0, fmt.Errorf("failed to load users: %w", err)
		}
		r.users = list.Items
	}

	query := strings.ToLower(nameOrID)
	var matches []IDName
	for _, u := range r.users {
		if strings.ToLower(u.Login) == query || strings.ToLower(u.Name()) == query {
			matches = append(matches, IDName{ID: u.ID, Name: u.Name()})
		}
	}

	if len(matches) == 0 {
		for _, u := range r.users {
			if strings.Contains(strings.ToLower(u.Name()), query) {
				matches = append(matches, IDName{ID: u.ID, Name: u.Name()})
			}
		}
	}

	if len(matches) == 0 {
		return 0, &ResolveError{Type: "user", Query: nameOrID, NotFound: true}
	}
	if len(matches) > 1 {
		return 0, &ResolveError{Type: "user", Query: nameOrID, Matches: matches}
	}

	return matches[0].ID, nil
}
