package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/redmine-mcp/redmine-mcp-server/internal/redmine"
)

type contextKey string

const clientContextKey contextKey = "redmineClient"

func withClient(ctx context.Context, client *redmine.Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

func getClient(ctx context.Context) *redmine.Client {
	return ctx.Value(clientContextKey).(*redmine.Client)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, &redmine.Error{
		Kind:    redmine.KindValidation,
		Message: message,
	})
}

// writeError renders the typed error envelope, mirroring the upstream
// status where one was recorded.
func writeError(w http.ResponseWriter, err error) {
	var resolveErr *redmine.ResolveError
	if errors.As(err, &resolveErr) {
		writeValidationError(w, resolveErr.Error())
		return
	}

	envelope := redmine.AsError(err)
	status := envelope.StatusCode
	if status == 0 {
		switch envelope.Kind {
		case redmine.KindValidation:
			status = http.StatusBadRequest
		case redmine.KindAuthentication:
			status = http.StatusUnauthorized
		case redmine.KindAuthorization:
			status = http.StatusForbidden
		case redmine.KindNotFound:
			status = http.StatusNotFound
		case redmine.KindConflict:
			status = http.StatusConflict
		case redmine.KindRateLimit:
			status = http.StatusTooManyRequests
		case redmine.KindTimeout:
			status = http.StatusGatewayTimeout
		case redmine.KindConnection:
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, envelope)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return &redmine.Error{Kind: redmine.KindValidation, Message: "Invalid request body"}
	}
	return nil
}

// --- Account ---

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())
	user, err := client.Users.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        user.ID,
		"login":     user.Login,
		"firstname": user.Firstname,
		"lastname":  user.Lastname,
		"name":      user.Name(),
		"email":     user.Mail,
	})
}

// --- Projects ---

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	list, err := client.Projects.List(r.Context(), redmine.ListOptions{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, len(list.Items))
	for i, p := range list.Items {
		items[i] = formatProjectAPI(p)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
		"offset":      list.Offset,
		"limit":       list.Limit,
	})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	var req struct {
		Name        string `json:"name"`
		Identifier  string `json:"identifier"`
		Description string `json:"description"`
		Parent      string `json:"parent"`
		IsPublic    *bool  `json:"is_public"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.Name == "" || req.Identifier == "" {
		writeValidationError(w, "name and identifier are required")
		return
	}

	fields := map[string]any{
		"name":       req.Name,
		"identifier": req.Identifier,
	}
	if req.Description != "" {
		fields["description"] = req.Description
	}
	if req.IsPublic != nil {
		fields["is_public"] = *req.IsPublic
	}
	if req.Parent != "" {
		parentID, err := redmine.NewResolver(client).ResolveProject(r.Context(), req.Parent)
		if err != nil {
			writeError(w, err)
			return
		}
		fields["parent_id"] = parentID
	}

	project, err := client.Projects.Create(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatProjectAPI(*project))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	project, err := client.Projects.Get(r.Context(), chi.URLParam(r, "id"), "trackers")
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatProjectAPI(*project))
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		writeError(w, err)
		return
	}
	if len(fields) == 0 {
		writeValidationError(w, "no fields to update")
		return
	}

	id := chi.URLParam(r, "id")
	if err := client.Projects.Update(r.Context(), id, fields); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"project": id,
		"message": "Project updated successfully",
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id := chi.URLParam(r, "id")
	if err := client.Projects.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"project": id,
		"message": "Project deleted successfully",
	})
}

// --- Issues ---

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())
	q := r.URL.Query()

	filters := map[string]string{}
	if project := q.Get("project"); project != "" {
		projectID, err := redmine.NewResolver(client).ResolveProject(r.Context(), project)
		if err != nil {
			writeError(w, err)
			return
		}
		filters["project_id"] = strconv.Itoa(projectID)
	}
	if status := q.Get("status"); status != "" {
		filters["status_id"] = status
	}
	if assignedTo := q.Get("assigned_to"); assignedTo != "" {
		if assignedTo == "me" {
			filters["assigned_to_id"] = "me"
		} else {
			userID, err := redmine.NewResolver(client).ResolveUser(r.Context(), assignedTo)
			if err != nil {
				writeError(w, err)
				return
			}
			filters["assigned_to_id"] = strconv.Itoa(userID)
		}
	}

	list, err := client.Issues.List(r.Context(), redmine.ListOptions{
		Filters: filters,
		Limit:   queryInt(r, "limit", 25),
		Offset:  queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, len(list.Items))
	for i, issue := range list.Items {
		items[i] = formatIssueAPI(issue)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
		"offset":      list.Offset,
		"limit":       list.Limit,
	})
}

func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())
	resolver := redmine.NewResolver(client)

	var req struct {
		Project       string         `json:"project"`
		Subject       string         `json:"subject"`
		Description   string         `json:"description"`
		TrackerID     int            `json:"tracker_id"`
		AssignedTo    string         `json:"assigned_to"`
		ParentIssueID int            `json:"parent_issue_id"`
		StartDate     string         `json:"start_date"`
		DueDate       string         `json:"due_date"`
		CustomFields  map[string]any `json:"custom_fields"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.Project == "" || req.Subject == "" {
		writeValidationError(w, "project and subject are required")
		return
	}

	projectID, err := resolver.ResolveProject(r.Context(), req.Project)
	if err != nil {
		writeError(w, err)
		return
	}

	fields := map[string]any{
		"project_id": projectID,
		"subject":    req.Subject,
	}
	if req.Description != "" {
		fields["description"] = req.Description
	}
	if req.TrackerID > 0 {
		fields["tracker_id"] = req.TrackerID
	}
	if req.ParentIssueID > 0 {
		fields["parent_issue_id"] = req.ParentIssueID
	}
	if req.StartDate != "" {
		fields["start_date"] = req.StartDate
	}
	if req.DueDate != "" {
		fields["due_date"] = req.DueDate
	}
	if req.AssignedTo != "" {
		userID, err := resolver.ResolveUser(r.Context(), req.AssignedTo)
		if err != nil {
			writeError(w, err)
			return
		}
		fields["assigned_to_id"] = userID
	}
	if req.CustomFields != nil {
		cfs := make([]map[string]any, 0, len(req.CustomFields))
		for id, value := range req.CustomFields {
			cfID, err := strconv.Atoi(id)
			if err != nil {
				writeValidationError(w, "custom_fields keys must be numeric field IDs")
				return
			}
			cfs = append(cfs, map[string]any{"id": cfID, "value": value})
		}
		fields["custom_fields"] = cfs
	}

	issue, err := client.Issues.Create(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatIssueAPI(*issue))
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid issue ID")
		return
	}

	var include []string
	if inc := r.URL.Query().Get("include"); inc != "" {
		include = strings.Split(inc, ",")
	}

	issue, err := client.Issues.Get(r.Context(), id, include...)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatIssueDetailAPI(*issue))
}

func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid issue ID")
		return
	}

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		writeError(w, err)
		return
	}
	if len(fields) == 0 {
		writeValidationError(w, "no fields to update")
		return
	}

	if assignedTo, ok := fields["assigned_to"].(string); ok {
		userID, err := redmine.NewResolver(client).ResolveUser(r.Context(), assignedTo)
		if err != nil {
			writeError(w, err)
			return
		}
		delete(fields, "assigned_to")
		fields["assigned_to_id"] = userID
	}

	if err := client.Issues.Update(r.Context(), id, fields); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"issue_id": id,
		"message":  "Issue updated successfully",
	})
}

func (s *Server) handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid issue ID")
		return
	}

	if err := client.Issues.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"issue_id": id,
		"message":  "Issue deleted successfully",
	})
}

// --- Users ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	filters := map[string]string{}
	if name := r.URL.Query().Get("name"); name != "" {
		filters["name"] = name
	}

	list, err := client.Users.List(r.Context(), redmine.ListOptions{
		Filters: filters,
		Limit:   queryInt(r, "limit", 25),
		Offset:  queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, len(list.Items))
	for i, u := range list.Items {
		items[i] = formatUserAPI(u)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
		"offset":      list.Offset,
		"limit":       list.Limit,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		writeError(w, err)
		return
	}

	for _, name := range []string{"login", "firstname", "lastname", "mail"} {
		if v, _ := fields[name].(string); v == "" {
			writeValidationError(w, "login, firstname, lastname, and mail are required")
			return
		}
	}

	user, err := client.Users.Create(r.Context(), fields)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatUserAPI(*user))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid user ID")
		return
	}

	user, err := client.Users.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatUserAPI(*user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid user ID")
		return
	}

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		writeError(w, err)
		return
	}
	if len(fields) == 0 {
		writeValidationError(w, "no fields to update")
		return
	}

	if err := client.Users.Update(r.Context(), id, fields); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": id,
		"message": "User updated successfully",
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid user ID")
		return
	}

	if err := client.Users.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": id,
		"message": "User deleted successfully",
	})
}

// --- Versions ---

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	list, err := client.Versions.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, len(list.Items))
	for i, v := range list.Items {
		items[i] = formatVersionAPI(v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
	})
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		writeError(w, err)
		return
	}
	if name, _ := fields["name"].(string); name == "" {
		writeValidationError(w, "name is required")
		return
	}

	version, err := client.Versions.Create(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatVersionAPI(*version))
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid version ID")
		return
	}

	version, err := client.Versions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatVersionAPI(*version))
}

func (s *Server) handleUpdateVersion(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid version ID")
		return
	}

	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		writeError(w, err)
		return
	}
	if len(fields) == 0 {
		writeValidationError(w, "no fields to update")
		return
	}

	if err := client.Versions.Update(r.Context(), id, fields); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"version_id": id,
		"message":    "Version updated successfully",
	})
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeValidationError(w, "Invalid version ID")
		return
	}

	if err := client.Versions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"version_id": id,
		"message":    "Version deleted successfully",
	})
}

// --- Wiki ---

func (s *Server) handleListWikiPages(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	list, err := client.Wiki.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, len(list.Items))
	for i, p := range list.Items {
		items[i] = formatWikiPageAPI(p)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"total_count": len(list.Items),
	})
}

func (s *Server) handleGetWikiPage(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	page, err := client.Wiki.Get(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "title"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatWikiPageAPI(*page))
}

func (s *Server) handleWriteWikiPage(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	var req struct {
		Text        string `json:"text"`
		Comments    string `json:"comments"`
		ParentTitle string `json:"parent_title"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Text == "" {
		writeValidationError(w, "text is required")
		return
	}

	fields := map[string]any{"text": req.Text}
	if req.Comments != "" {
		fields["comments"] = req.Comments
	}
	if req.ParentTitle != "" {
		fields["parent_title"] = req.ParentTitle
	}

	page, err := client.Wiki.CreateOrUpdate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "title"), fields)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatWikiPageAPI(*page))
}

func (s *Server) handleDeleteWikiPage(w http.ResponseWriter, r *http.Request) {
	client := getClient(r.Context())

	project := chi.URLParam(r, "id")
	title := chi.URLParam(r, "title")
	if err := client.Wiki.Delete(r.Context(), project, title); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"project": project,
		"title":   title,
		"message": "Wiki page deleted successfully",
	})
}

// Helper functions

func formatIssueAPI(issue redmine.Issue) map[string]any {
	result := map[string]any{
		"id":      issue.ID,
		"subject": issue.Subject,
		"project": map[string]any{
			"id":   issue.Project.ID,
			"name": issue.Project.Name,
		},
		"tracker": map[string]any{
			"id":   issue.Tracker.ID,
			"name": issue.Tracker.Name,
		},
		"status": map[string]any{
			"id":   issue.Status.ID,
			"name": issue.Status.Name,
		},
		"priority": map[string]any{
			"id":   issue.Priority.ID,
			"name": issue.Priority.Name,
		},
		"author": map[string]any{
			"id":   issue.Author.ID,
			"name": issue.Author.Name,
		},
		"created_on": issue.CreatedOn,
		"updated_on": issue.UpdatedOn,
	}

	if issue.AssignedTo != nil {
		result["assigned_to"] = map[string]any{
			"id":   issue.AssignedTo.ID,
			"name": issue.AssignedTo.Name,
		}
	}

	return result
}

func formatIssueDetailAPI(issue redmine.Issue) map[string]any {
	result := formatIssueAPI(issue)
	result["description"] = issue.Description
	result["done_ratio"] = issue.DoneRatio

	if issue.Parent != nil {
		result["parent_issue_id"] = issue.Parent.ID
	}

	if len(issue.CustomFields) > 0 {
		cf := make(map[string]any)
		for _, f := range issue.CustomFields {
			cf[f.Name] = f.Value
		}
		result["custom_fields"] = cf
	}

	if len(issue.Journals) > 0 {
		journals := make([]map[string]any, len(issue.Journals))
		for i, j := range issue.Journals {
			journals[i] = map[string]any{
				"id":         j.ID,
				"user":       j.User.Name,
				"notes":      j.Notes,
				"created_on": j.CreatedOn,
			}
		}
		result["journals"] = journals
	}

	return result
}

func formatProjectAPI(p redmine.Project) map[string]any {
	result := map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"identifier":  p.Identifier,
		"description": p.Description,
	}
	if p.Parent != nil {
		result["parent"] = map[string]any{
			"id":   p.Parent.ID,
			"name": p.Parent.Name,
		}
	}
	if len(p.Trackers) > 0 {
		trackers := make([]map[string]any, len(p.Trackers))
		for i, t := range p.Trackers {
			trackers[i] = map[string]any{"id": t.ID, "name": t.Name}
		}
		result["trackers"] = trackers
	}
	return result
}

func formatUserAPI(u redmine.User) map[string]any {
	result := map[string]any{
		"id":        u.ID,
		"login":     u.Login,
		"firstname": u.Firstname,
		"lastname":  u.Lastname,
		"name":      u.Name(),
	}
	if u.Mail != "" {
		result["email"] = u.Mail
	}
	return result
}

func formatVersionAPI(v redmine.Version) map[string]any {
	result := map[string]any{
		"id":     v.ID,
		"name":   v.Name,
		"status": v.Status,
	}
	if v.Project.ID > 0 {
		result["project"] = map[string]any{"id": v.Project.ID, "name": v.Project.Name}
	}
	if v.Description != "" {
		result["description"] = v.Description
	}
	if v.DueDate != "" {
		result["due_date"] = v.DueDate
	}
	return result
}

func formatWikiPageAPI(p redmine.WikiPage) map[string]any {
	result := map[string]any{
		"title":   p.Title,
		"version": p.Version,
	}
	if p.Text != "" {
		result["text"] = p.Text
	}
	if p.Parent != nil {
		result["parent_title"] = p.Parent.Title
	}
	if p.UpdatedOn != "" {
		result["updated_on"] = p.UpdatedOn
	}
	return result
}
