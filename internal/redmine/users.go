package redmine

import (
	"context"
	"fmt"
)

// UsersService handles user CRUD against /users.json. Most write
// operations require admin privileges on the Redmine side.
type UsersService struct {
	client *Client
}

// UserList is the decoded response from a listing call.
type UserList struct {
	Items      []User `json:"users"`
	TotalCount int    `json:"total_count"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

// Create creates a user account.
func (s *UsersService) Create(ctx context.Context, fields map[string]any) (*User, error) {
	payload, err := s.client.do(ctx, "POST", "/users.json", map[string]any{"user": fields})
	if err != nil {
		return nil, err
	}

	var user User
	if err := unwrapResource(payload, "user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Get returns a user by ID with optional related data (memberships,
// groups).
func (s *UsersService) Get(ctx context.Context, id int, include ...string) (*User, error) {
	path := fmt.Sprintf("/users/%d.json%s", id, includeQuery(include))
	payload, err := s.client.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := unwrapResource(payload, "user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Current returns the user owning the configured API key.
func (s *UsersService) Current(ctx context.Context) (*User, error) {
	payload, err := s.client.do(ctx, "GET", "/users/current.json", nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := unwrapResource(payload, "user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns users matching the given filters (name, group_id,
// status).
func (s *UsersService) List(ctx context.Context, opts ListOptions) (*UserList, error) {
	payload, err := s.client.do(ctx, "GET", "/users.json?"+opts.query().Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list UserList
	if err := decode(payload, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		list.Items = []User{}
	}
	return &list, nil
}

// Update updates a user; empty acknowledgment on success.
func (s *UsersService) Update(ctx context.Context, id int, fields map[string]any) error {
	path := fmt.Sprintf("/users/%d.json", id)
	_, err := s.client.do(ctx, "PUT", path, map[string]any{"user": fields})
	return err
}

// Delete deletes a user account.
func (s *UsersService) Delete(ctx context.Context, id int) error {
	path := fmt.Sprintf("/users/%d.json", id)
	_, err := s.client.do(ctx, "DELETE", path, nil)
	return err
}
