package redmine

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// IDName represents a simple id/name pair.
type IDName struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CustomField represents a custom field value on a resource.
type CustomField struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Issue represents a Redmine issue.
type Issue struct {
	ID             int      `json:"id"`
	Project        IDName   `json:"project"`
	Tracker        IDName   `json:"tracker"`
	Status         IDName   `json:"status"`
	Priority       IDName   `json:"priority"`
	Author         IDName   `json:"author"`
	AssignedTo     *IDName  `json:"assigned_to,omitempty"`
	Subject        string   `json:"subject"`
	Description    string   `json:"description"`
	StartDate      string   `json:"start_date,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	DoneRatio      int      `json:"done_ratio"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	CreatedOn      string   `json:"created_on"`
	UpdatedOn      string   `json:"updated_on"`
	ClosedOn       string   `json:"closed_on,omitempty"`
	Parent         *struct {
		ID int `json:"id"`
	} `json:"parent,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
	Journals     []Journal     `json:"journals,omitempty"`
	Watchers     []IDName      `json:"watchers,omitempty"`
	Relations    []Relation    `json:"relations,omitempty"`
}

// Journal represents an issue journal entry (comment/change).
type Journal struct {
	ID        int      `json:"id"`
	User      IDName   `json:"user"`
	Notes     string   `json:"notes"`
	CreatedOn string   `json:"created_on"`
	Details   []Detail `json:"details,omitempty"`
}

// Detail represents a journal detail (field change).
type Detail struct {
	Property string `json:"property"`
	Name     string `json:"name"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// Relation represents an issue relation.
type Relation struct {
	ID           int    `json:"id"`
	IssueID      int    `json:"issue_id"`
	IssueToID    int    `json:"issue_to_id"`
	RelationType string `json:"relation_type"`
	Delay        int    `json:"delay,omitempty"`
}

// Project represents a Redmine project.
type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	Description string `json:"description"`
	Status      int    `json:"status"`
	IsPublic    bool   `json:"is_public,omitempty"`
	CreatedOn   string `json:"created_on,omitempty"`
	UpdatedOn   string `json:"updated_on,omitempty"`
	Parent      *struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"parent,omitempty"`
	Trackers     []IDName      `json:"trackers,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
}

// User represents a Redmine user.
type User struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Mail      string `json:"mail"`
	Status    int    `json:"status,omitempty"`
	Admin     bool   `json:"admin,omitempty"`
	CreatedOn string `json:"created_on,omitempty"`
	LastLogin string `json:"last_login_on,omitempty"`
}

// Name returns the user's display name.
func (u User) Name() string {
	return u.Firstname + " " + u.Lastname
}

// Version represents a project version/milestone.
type Version struct {
	ID          int    `json:"id"`
	Project     IDName `json:"project"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date,omitempty"`
	Sharing     string `json:"sharing,omitempty"`
	CreatedOn   string `json:"created_on,omitempty"`
	UpdatedOn   string `json:"updated_on,omitempty"`
}

// WikiPage represents a project wiki page.
type WikiPage struct {
	Title  string `json:"title"`
	Parent *struct {
		Title string `json:"title"`
	} `json:"parent,omitempty"`
	Text      string `json:"text,omitempty"`
	Version   int    `json:"version,omitempty"`
	Author    IDName `json:"author,omitempty"`
	Comments  string `json:"comments,omitempty"`
	CreatedOn string `json:"created_on,omitempty"`
	UpdatedOn string `json:"updated_on,omitempty"`
}

// ListOptions are shared pagination and filter parameters for listing
// calls. Filters are passed through as query parameters verbatim, so
// the accepted filter set is backend-driven rather than hard-coded.
type ListOptions struct {
	Filters map[string]string
	Limit   int
	Offset  int
}

// query renders the options as URL query parameters.
func (o ListOptions) query() url.Values {
	q := url.Values{}
	for k, v := range o.Filters {
		q.Set(k, v)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	} else {
		q.Set("limit", "25")
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

// includeQuery appends an include=a,b,c parameter for related data.
func includeQuery(include []string) string {
	if len(include) == 0 {
		return ""
	}
	q := url.Values{}
	q.Set("include", strings.Join(include, ","))
	return "?" + q.Encode()
}

// unwrapResource extracts a singular resource envelope such as
// {"issue": {...}} into out. Payloads without the envelope key (the
// recovered bodiless-201 shape {"id": N, "success": true}) are decoded
// at the top level so a created resource always carries its id.
func unwrapResource(payload json.RawMessage, key string, out any) error {
	var envelope map[string]json.RawMessage
	if err := decode(payload, &envelope); err != nil {
		return err
	}
	if inner, ok := envelope[key]; ok {
		return decode(inner, out)
	}
	return decode(payload, out)
}
