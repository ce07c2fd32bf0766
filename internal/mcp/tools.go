package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/redmine-mcp/redmine-mcp-server/internal/redmine"
)

// ToolHandlers contains all MCP tool handlers. Handlers share one
// client and one resolver; there is no other cross-request state.
type ToolHandlers struct {
	client   *redmine.Client
	resolver *redmine.Resolver
	readOnly bool
}

// NewToolHandlers creates new tool handlers around a Redmine client.
func NewToolHandlers(client *redmine.Client) *ToolHandlers {
	readOnly := os.Getenv("REDMINE_MCP_READ_ONLY") == "true"
	if readOnly {
		slog.Info("read-only mode enabled - all write operations will be blocked")
	}
	return &ToolHandlers{
		client:   client,
		resolver: redmine.NewResolver(client),
		readOnly: readOnly,
	}
}

// checkReadOnly returns an error if the server is in read-only mode.
func (h *ToolHandlers) checkReadOnly() error {
	if h.readOnly {
		return &redmine.Error{
			Kind:    redmine.KindAuthorization,
			Message: "server is in read-only mode - write operations are disabled",
		}
	}
	return nil
}

// BuildRegistry declares every tool with its accepted parameter set.
// Tool names follow the redmine-{action}-{entity} convention.
func (h *ToolHandlers) BuildRegistry() *Registry {
	r := NewRegistry()

	// Account
	r.Register(mcp.NewTool("redmine-current-user",
		mcp.WithDescription("Get the user owning the configured API key"),
	), nil, h.handleCurrentUser)

	// Issues
	r.Register(mcp.NewTool("redmine-create-issue",
		mcp.WithDescription("Create a new issue"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Issue subject/title"),
		),
		mcp.WithNumber("tracker_id",
			mcp.Description("Tracker ID"),
		),
		mcp.WithString("description",
			mcp.Description("Issue description"),
		),
		mcp.WithString("assigned_to",
			mcp.Description("Assignee name or ID"),
		),
		mcp.WithNumber("parent_issue_id",
			mcp.Description("Parent issue ID"),
		),
		mcp.WithString("start_date",
			mcp.Description("Start date (YYYY-MM-DD)"),
		),
		mcp.WithString("due_date",
			mcp.Description("Due date (YYYY-MM-DD)"),
		),
		mcp.WithNumber("done_ratio",
			mcp.Description("Progress percentage (0-100)"),
		),
		mcp.WithNumber("estimated_hours",
			mcp.Description("Estimated effort in hours"),
		),
		mcp.WithObject("custom_fields",
			mcp.Description("Custom field values keyed by field ID"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"project", "subject", "tracker_id", "description", "assigned_to", "parent_issue_id",
		"start_date", "due_date", "done_ratio", "estimated_hours", "custom_fields", "fields"},
		h.handleCreateIssue)

	r.Register(mcp.NewTool("redmine-get-issue",
		mcp.WithDescription("Get issue details"),
		mcp.WithNumber("issue_id",
			mcp.Required(),
			mcp.Description("Issue ID"),
		),
		mcp.WithArray("include",
			mcp.Description("Related data to include: journals, watchers, relations, children, attachments"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), []string{"issue_id", "include"}, h.handleGetIssue)

	r.Register(mcp.NewTool("redmine-list-issues",
		mcp.WithDescription("List issues matching filters"),
		mcp.WithString("project",
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("status",
			mcp.Description("Status filter: open, closed, *, or a status ID"),
		),
		mcp.WithString("assigned_to",
			mcp.Description("Assignee name or ID, or 'me'"),
		),
		mcp.WithString("subject",
			mcp.Description("Keyword in issue subject (partial match)"),
		),
		mcp.WithObject("filters",
			mcp.Description("Additional query filters passed through verbatim"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of issues to return (default: 25)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Offset for pagination (default: 0)"),
		),
	), []string{"project", "status", "assigned_to", "subject", "filters", "limit", "offset"},
		h.handleListIssues)

	r.Register(mcp.NewTool("redmine-update-issue",
		mcp.WithDescription("Update an issue. Returns an acknowledgment; fetch the issue again for the new state."),
		mcp.WithNumber("issue_id",
			mcp.Required(),
			mcp.Description("Issue ID"),
		),
		mcp.WithString("subject",
			mcp.Description("New subject/title"),
		),
		mcp.WithString("description",
			mcp.Description("New description"),
		),
		mcp.WithNumber("status_id",
			mcp.Description("New status ID"),
		),
		mcp.WithNumber("priority_id",
			mcp.Description("New priority ID"),
		),
		mcp.WithString("assigned_to",
			mcp.Description("New assignee name or ID"),
		),
		mcp.WithString("notes",
			mcp.Description("Comment to add"),
		),
		mcp.WithString("start_date",
			mcp.Description("Start date (YYYY-MM-DD)"),
		),
		mcp.WithString("due_date",
			mcp.Description("Due date (YYYY-MM-DD)"),
		),
		mcp.WithNumber("done_ratio",
			mcp.Description("Progress percentage (0-100)"),
		),
		mcp.WithNumber("estimated_hours",
			mcp.Description("Estimated effort in hours"),
		),
		mcp.WithObject("custom_fields",
			mcp.Description("Custom field values keyed by field ID"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"issue_id", "subject", "description", "status_id", "priority_id", "assigned_to",
		"notes", "start_date", "due_date", "done_ratio", "estimated_hours", "custom_fields", "fields"},
		h.handleUpdateIssue)

	r.Register(mcp.NewTool("redmine-delete-issue",
		mcp.WithDescription("Delete an issue"),
		mcp.WithNumber("issue_id",
			mcp.Required(),
			mcp.Description("Issue ID"),
		),
	), []string{"issue_id"}, h.handleDeleteIssue)

	r.Register(mcp.NewTool("redmine-export-issues",
		mcp.WithDescription("Export issues matching filters as an XLSX workbook (base64-encoded)"),
		mcp.WithString("project",
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("status",
			mcp.Description("Status filter: open, closed, *, or a status ID"),
		),
		mcp.WithString("assigned_to",
			mcp.Description("Assignee name or ID, or 'me'"),
		),
		mcp.WithObject("filters",
			mcp.Description("Additional query filters passed through verbatim"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of issues to export (default: 100)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Offset for pagination (default: 0)"),
		),
	), []string{"project", "status", "assigned_to", "filters", "limit", "offset"},
		h.handleExportIssues)

	// Projects
	r.Register(mcp.NewTool("redmine-create-project",
		mcp.WithDescription("Create a new project"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Project name"),
		),
		mcp.WithString("identifier",
			mcp.Required(),
			mcp.Description("Project identifier (used in URLs)"),
		),
		mcp.WithString("description",
			mcp.Description("Project description"),
		),
		mcp.WithString("parent",
			mcp.Description("Parent project name or ID"),
		),
		mcp.WithBoolean("is_public",
			mcp.Description("Whether the project is public"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"name", "identifier", "description", "parent", "is_public", "fields"},
		h.handleCreateProject)

	r.Register(mcp.NewTool("redmine-get-project",
		mcp.WithDescription("Get project details"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithArray("include",
			mcp.Description("Related data to include: trackers, issue_categories, enabled_modules"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), []string{"project", "include"}, h.handleGetProject)

	r.Register(mcp.NewTool("redmine-list-projects",
		mcp.WithDescription("List projects visible to the API key"),
		mcp.WithObject("filters",
			mcp.Description("Additional query filters passed through verbatim"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of projects to return (default: 100)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Offset for pagination (default: 0)"),
		),
	), []string{"filters", "limit", "offset"}, h.handleListProjects)

	r.Register(mcp.NewTool("redmine-update-project",
		mcp.WithDescription("Update project settings"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("name",
			mcp.Description("New project name"),
		),
		mcp.WithString("description",
			mcp.Description("New project description"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"project", "name", "description", "fields"}, h.handleUpdateProject)

	r.Register(mcp.NewTool("redmine-delete-project",
		mcp.WithDescription("Delete a project and everything under it"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
	), []string{"project"}, h.handleDeleteProject)

	// Users
	r.Register(mcp.NewTool("redmine-create-user",
		mcp.WithDescription("Create a user account (requires admin privileges)"),
		mcp.WithString("login",
			mcp.Required(),
			mcp.Description("Login name"),
		),
		mcp.WithString("firstname",
			mcp.Required(),
			mcp.Description("First name"),
		),
		mcp.WithString("lastname",
			mcp.Required(),
			mcp.Description("Last name"),
		),
		mcp.WithString("mail",
			mcp.Required(),
			mcp.Description("Email address"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"login", "firstname", "lastname", "mail", "fields"}, h.handleCreateUser)

	r.Register(mcp.NewTool("redmine-get-user",
		mcp.WithDescription("Get user details"),
		mcp.WithNumber("user_id",
			mcp.Required(),
			mcp.Description("User ID"),
		),
		mcp.WithArray("include",
			mcp.Description("Related data to include: memberships, groups"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), []string{"user_id", "include"}, h.handleGetUser)

	r.Register(mcp.NewTool("redmine-list-users",
		mcp.WithDescription("List users (requires admin privileges)"),
		mcp.WithString("name",
			mcp.Description("Filter on login, name, or email (partial match)"),
		),
		mcp.WithNumber("status",
			mcp.Description("1=active, 2=registered, 3=locked"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of users to return (default: 25)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Offset for pagination (default: 0)"),
		),
	), []string{"name", "status", "limit", "offset"}, h.handleListUsers)

	r.Register(mcp.NewTool("redmine-update-user",
		mcp.WithDescription("Update a user account (requires admin privileges)"),
		mcp.WithNumber("user_id",
			mcp.Required(),
			mcp.Description("User ID"),
		),
		mcp.WithString("firstname",
			mcp.Description("New first name"),
		),
		mcp.WithString("lastname",
			mcp.Description("New last name"),
		),
		mcp.WithString("mail",
			mcp.Description("New email address"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"user_id", "firstname", "lastname", "mail", "fields"}, h.handleUpdateUser)

	r.Register(mcp.NewTool("redmine-delete-user",
		mcp.WithDescription("Delete a user account (requires admin privileges)"),
		mcp.WithNumber("user_id",
			mcp.Required(),
			mcp.Description("User ID"),
		),
	), []string{"user_id"}, h.handleDeleteUser)

	// Versions
	r.Register(mcp.NewTool("redmine-create-version",
		mcp.WithDescription("Create a version/milestone in a project"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Version name"),
		),
		mcp.WithString("description",
			mcp.Description("Version description"),
		),
		mcp.WithString("status",
			mcp.Description("Version status"),
			mcp.Enum("open", "locked", "closed"),
		),
		mcp.WithString("due_date",
			mcp.Description("Due date (YYYY-MM-DD)"),
		),
		mcp.WithString("sharing",
			mcp.Description("Sharing scope"),
			mcp.Enum("none", "descendants", "hierarchy", "tree", "system"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"project", "name", "description", "status", "due_date", "sharing", "fields"},
		h.handleCreateVersion)

	r.Register(mcp.NewTool("redmine-get-version",
		mcp.WithDescription("Get version details"),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Version ID"),
		),
	), []string{"version_id"}, h.handleGetVersion)

	r.Register(mcp.NewTool("redmine-list-versions",
		mcp.WithDescription("List all versions/milestones of a project"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
	), []string{"project"}, h.handleListVersions)

	r.Register(mcp.NewTool("redmine-update-version",
		mcp.WithDescription("Update a version/milestone"),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Version ID"),
		),
		mcp.WithString("name",
			mcp.Description("Version name"),
		),
		mcp.WithString("description",
			mcp.Description("Version description"),
		),
		mcp.WithString("status",
			mcp.Description("Version status"),
			mcp.Enum("open", "locked", "closed"),
		),
		mcp.WithString("due_date",
			mcp.Description("Due date (YYYY-MM-DD)"),
		),
		mcp.WithString("sharing",
			mcp.Description("Sharing scope"),
			mcp.Enum("none", "descendants", "hierarchy", "tree", "system"),
		),
		mcp.WithObject("fields",
			mcp.Description("Additional backend fields passed through verbatim"),
		),
	), []string{"version_id", "name", "description", "status", "due_date", "sharing", "fields"},
		h.handleUpdateVersion)

	r.Register(mcp.NewTool("redmine-delete-version",
		mcp.WithDescription("Delete a version/milestone"),
		mcp.WithNumber("version_id",
			mcp.Required(),
			mcp.Description("Version ID"),
		),
	), []string{"version_id"}, h.handleDeleteVersion)

	// Wiki pages
	r.Register(mcp.NewTool("redmine-create-wiki-page",
		mcp.WithDescription("Create a wiki page in a project"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Wiki page title"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Wiki page content (Textile or Markdown depending on Redmine config)"),
		),
		mcp.WithString("comments",
			mcp.Description("Edit comment / version note"),
		),
		mcp.WithString("parent_title",
			mcp.Description("Parent wiki page title"),
		),
	), []string{"project", "title", "text", "comments", "parent_title"}, h.handleWriteWikiPage)

	r.Register(mcp.NewTool("redmine-get-wiki-page",
		mcp.WithDescription("Get a wiki page with its content"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Wiki page title"),
		),
	), []string{"project", "title"}, h.handleGetWikiPage)

	r.Register(mcp.NewTool("redmine-list-wiki-pages",
		mcp.WithDescription("List all wiki pages of a project"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
	), []string{"project"}, h.handleListWikiPages)

	r.Register(mcp.NewTool("redmine-update-wiki-page",
		mcp.WithDescription("Update a wiki page's content"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Wiki page title"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("New wiki page content"),
		),
		mcp.WithString("comments",
			mcp.Description("Edit comment / version note"),
		),
	), []string{"project", "title", "text", "comments"}, h.handleWriteWikiPage)

	r.Register(mcp.NewTool("redmine-delete-wiki-page",
		mcp.WithDescription("Delete a wiki page and its history"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, identifier, or ID"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Wiki page title"),
		),
	), []string{"project", "title"}, h.handleDeleteWikiPage)

	return r
}

// RegisterTools builds the registry and attaches it to the server.
func (h *ToolHandlers) RegisterTools(s McpServer) {
	h.BuildRegistry().Attach(s)
}

// --- Account ---

func (h *ToolHandlers) handleCurrentUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := h.client.Users.Current(ctx)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"id":        user.ID,
		"login":     user.Login,
		"firstname": user.Firstname,
		"lastname":  user.Lastname,
		"name":      user.Name(),
		"email":     user.Mail,
	})
}

// --- Issues ---

func (h *ToolHandlers) handleCreateIssue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}
	subject, err := req.RequireString("subject")
	if err != nil {
		return validationResult(err), nil
	}

	projectID, err := h.resolver.ResolveProject(ctx, project)
	if err != nil {
		return errorResult(err), nil
	}

	fields := collectFields(req, "tracker_id", "description", "parent_issue_id",
		"start_date", "due_date", "done_ratio", "estimated_hours")
	fields["project_id"] = projectID
	fields["subject"] = subject

	if assignedTo := req.GetString("assigned_to", ""); assignedTo != "" {
		userID, err := h.resolver.ResolveUser(ctx, assignedTo)
		if err != nil {
			return errorResult(err), nil
		}
		fields["assigned_to_id"] = userID
	}

	if cf := getMapArg(req, "custom_fields"); cf != nil {
		converted, err := customFieldsParam(cf)
		if err != nil {
			return errorResult(err), nil
		}
		fields["custom_fields"] = converted
	}

	issue, err := h.client.Issues.Create(ctx, fields)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatIssue(*issue))
}

func (h *ToolHandlers) handleGetIssue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := requireID(req, "issue_id")
	if err != nil {
		return validationResult(err), nil
	}

	issue, err := h.client.Issues.Get(ctx, issueID, getStringArrayArg(req, "include")...)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatIssueDetail(*issue))
}

func (h *ToolHandlers) handleListIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := h.issueListOptions(ctx, req, 25)
	if err != nil {
		return errorResult(err), nil
	}

	list, err := h.client.Issues.List(ctx, *opts)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]map[string]any, len(list.Items))
	for i, issue := range list.Items {
		items[i] = formatIssue(issue)
	}

	return jsonResult(map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
		"offset":      list.Offset,
		"limit":       list.Limit,
	})
}

// issueListOptions translates shared issue filter arguments.
func (h *ToolHandlers) issueListOptions(ctx context.Context, req mcp.CallToolRequest, defaultLimit int) (*redmine.ListOptions, error) {
	filters := map[string]string{}
	for k, v := range getMapArg(req, "filters") {
		filters[k] = fmt.Sprintf("%v", v)
	}

	if project := req.GetString("project", ""); project != "" {
		projectID, err := h.resolver.ResolveProject(ctx, project)
		if err != nil {
			return nil, err
		}
		filters["project_id"] = strconv.Itoa(projectID)
	}

	if status := req.GetString("status", ""); status != "" {
		filters["status_id"] = status
	}

	if assignedTo := req.GetString("assigned_to", ""); assignedTo != "" {
		if assignedTo == "me" {
			filters["assigned_to_id"] = "me"
		} else {
			userID, err := h.resolver.ResolveUser(ctx, assignedTo)
			if err != nil {
				return nil, err
			}
			filters["assigned_to_id"] = strconv.Itoa(userID)
		}
	}

	if subject := req.GetString("subject", ""); subject != "" {
		// ~keyword is Redmine's partial-match operator.
		filters["subject"] = "~" + subject
	}

	return &redmine.ListOptions{
		Filters: filters,
		Limit:   req.GetInt("limit", defaultLimit),
		Offset:  req.GetInt("offset", 0),
	}, nil
}

func (h *ToolHandlers) handleUpdateIssue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	issueID, err := requireID(req, "issue_id")
	if err != nil {
		return validationResult(err), nil
	}

	fields := collectFields(req, "subject", "description", "status_id", "priority_id",
		"notes", "start_date", "due_date", "done_ratio", "estimated_hours")

	if assignedTo := req.GetString("assigned_to", ""); assignedTo != "" {
		userID, err := h.resolver.ResolveUser(ctx, assignedTo)
		if err != nil {
			return errorResult(err), nil
		}
		fields["assigned_to_id"] = userID
	}

	if cf := getMapArg(req, "custom_fields"); cf != nil {
		converted, err := customFieldsParam(cf)
		if err != nil {
			return errorResult(err), nil
		}
		fields["custom_fields"] = converted
	}

	if len(fields) == 0 {
		return validationResult(fmt.Errorf("no fields to update")), nil
	}

	if err := h.client.Issues.Update(ctx, issueID, fields); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success":  true,
		"issue_id": issueID,
		"message":  "Issue updated successfully",
	})
}

func (h *ToolHandlers) handleDeleteIssue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	issueID, err := requireID(req, "issue_id")
	if err != nil {
		return validationResult(err), nil
	}

	if err := h.client.Issues.Delete(ctx, issueID); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success":  true,
		"issue_id": issueID,
		"message":  "Issue deleted successfully",
	})
}

func (h *ToolHandlers) handleExportIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts, err := h.issueListOptions(ctx, req, 100)
	if err != nil {
		return errorResult(err), nil
	}

	list, err := h.client.Issues.List(ctx, *opts)
	if err != nil {
		return errorResult(err), nil
	}

	content, err := issueWorkbook(list.Items)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"filename":       "issues.xlsx",
		"content_type":   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"content_base64": content,
		"count":          len(list.Items),
		"total_count":    list.TotalCount,
	})
}

// --- Projects ---

func (h *ToolHandlers) handleCreateProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	name, err := req.RequireString("name")
	if err != nil {
		return validationResult(err), nil
	}
	identifier, err := req.RequireString("identifier")
	if err != nil {
		return validationResult(err), nil
	}

	fields := collectFields(req, "description", "is_public")
	fields["name"] = name
	fields["identifier"] = identifier

	if parent := req.GetString("parent", ""); parent != "" {
		parentID, err := h.resolver.ResolveProject(ctx, parent)
		if err != nil {
			return errorResult(err), nil
		}
		fields["parent_id"] = parentID
	}

	project, err := h.client.Projects.Create(ctx, fields)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatProject(*project))
}

func (h *ToolHandlers) handleGetProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}

	p, err := h.client.Projects.Get(ctx, project, getStringArrayArg(req, "include")...)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatProject(*p))
}

func (h *ToolHandlers) handleListProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filters := map[string]string{}
	for k, v := range getMapArg(req, "filters") {
		filters[k] = fmt.Sprintf("%v", v)
	}

	list, err := h.client.Projects.List(ctx, redmine.ListOptions{
		Filters: filters,
		Limit:   req.GetInt("limit", 100),
		Offset:  req.GetInt("offset", 0),
	})
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]map[string]any, len(list.Items))
	for i, p := range list.Items {
		items[i] = formatProject(p)
	}

	return jsonResult(map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
		"offset":      list.Offset,
		"limit":       list.Limit,
	})
}

func (h *ToolHandlers) handleUpdateProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}

	fields := collectFields(req, "name", "description")
	if len(fields) == 0 {
		return validationResult(fmt.Errorf("no fields to update")), nil
	}

	if err := h.client.Projects.Update(ctx, project, fields); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success": true,
		"project": project,
		"message": "Project updated successfully",
	})
}

func (h *ToolHandlers) handleDeleteProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}

	if err := h.client.Projects.Delete(ctx, project); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success": true,
		"project": project,
		"message": "Project deleted successfully",
	})
}

// --- Users ---

func (h *ToolHandlers) handleCreateUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	fields := collectFields(req)
	for _, name := range []string{"login", "firstname", "lastname", "mail"} {
		value, err := req.RequireString(name)
		if err != nil {
			return validationResult(err), nil
		}
		fields[name] = value
	}

	user, err := h.client.Users.Create(ctx, fields)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatUser(*user))
}

func (h *ToolHandlers) handleGetUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := requireID(req, "user_id")
	if err != nil {
		return validationResult(err), nil
	}

	user, err := h.client.Users.Get(ctx, userID, getStringArrayArg(req, "include")...)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatUser(*user))
}

func (h *ToolHandlers) handleListUsers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filters := map[string]string{}
	if name := req.GetString("name", ""); name != "" {
		filters["name"] = name
	}
	if status := req.GetInt("status", 0); status > 0 {
		filters["status"] = strconv.Itoa(status)
	}

	list, err := h.client.Users.List(ctx, redmine.ListOptions{
		Filters: filters,
		Limit:   req.GetInt("limit", 25),
		Offset:  req.GetInt("offset", 0),
	})
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]map[string]any, len(list.Items))
	for i, u := range list.Items {
		items[i] = formatUser(u)
	}

	return jsonResult(map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
		"offset":      list.Offset,
		"limit":       list.Limit,
	})
}

func (h *ToolHandlers) handleUpdateUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	userID, err := requireID(req, "user_id")
	if err != nil {
		return validationResult(err), nil
	}

	fields := collectFields(req, "firstname", "lastname", "mail")
	if len(fields) == 0 {
		return validationResult(fmt.Errorf("no fields to update")), nil
	}

	if err := h.client.Users.Update(ctx, userID, fields); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success": true,
		"user_id": userID,
		"message": "User updated successfully",
	})
}

func (h *ToolHandlers) handleDeleteUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	userID, err := requireID(req, "user_id")
	if err != nil {
		return validationResult(err), nil
	}

	if err := h.client.Users.Delete(ctx, userID); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success": true,
		"user_id": userID,
		"message": "User deleted successfully",
	})
}

// --- Versions ---

func (h *ToolHandlers) handleCreateVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return validationResult(err), nil
	}

	fields := collectFields(req, "description", "status", "due_date", "sharing")
	fields["name"] = name

	version, err := h.client.Versions.Create(ctx, project, fields)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatVersion(*version))
}

func (h *ToolHandlers) handleGetVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	versionID, err := requireID(req, "version_id")
	if err != nil {
		return validationResult(err), nil
	}

	version, err := h.client.Versions.Get(ctx, versionID)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatVersion(*version))
}

func (h *ToolHandlers) handleListVersions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}

	list, err := h.client.Versions.List(ctx, project)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]map[string]any, len(list.Items))
	for i, v := range list.Items {
		items[i] = formatVersion(v)
	}

	return jsonResult(map[string]any{
		"items":       items,
		"total_count": list.TotalCount,
	})
}

func (h *ToolHandlers) handleUpdateVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	versionID, err := requireID(req, "version_id")
	if err != nil {
		return validationResult(err), nil
	}

	fields := collectFields(req, "name", "description", "status", "due_date", "sharing")
	if len(fields) == 0 {
		return validationResult(fmt.Errorf("no fields to update")), nil
	}

	if err := h.client.Versions.Update(ctx, versionID, fields); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success":    true,
		"version_id": versionID,
		"message":    "Version updated successfully",
	})
}

func (h *ToolHandlers) handleDeleteVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	versionID, err := requireID(req, "version_id")
	if err != nil {
		return validationResult(err), nil
	}

	if err := h.client.Versions.Delete(ctx, versionID); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success":    true,
		"version_id": versionID,
		"message":    "Version deleted successfully",
	})
}

// --- Wiki ---

// handleWriteWikiPage backs both create and update: Redmine's write
// verb for wiki pages is the same PUT either way.
func (h *ToolHandlers) handleWriteWikiPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return validationResult(err), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return validationResult(err), nil
	}

	fields := map[string]any{"text": text}
	if comments := req.GetString("comments", ""); comments != "" {
		fields["comments"] = comments
	}
	if parent := req.GetString("parent_title", ""); parent != "" {
		fields["parent_title"] = parent
	}

	page, err := h.client.Wiki.CreateOrUpdate(ctx, project, title, fields)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatWikiPage(*page))
}

func (h *ToolHandlers) handleGetWikiPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return validationResult(err), nil
	}

	page, err := h.client.Wiki.Get(ctx, project, title)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(formatWikiPage(*page))
}

func (h *ToolHandlers) handleListWikiPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}

	list, err := h.client.Wiki.List(ctx, project)
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]map[string]any, len(list.Items))
	for i, p := range list.Items {
		items[i] = formatWikiPage(p)
	}

	return jsonResult(map[string]any{
		"items":       items,
		"total_count": len(list.Items),
	})
}

func (h *ToolHandlers) handleDeleteWikiPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.checkReadOnly(); err != nil {
		return errorResult(err), nil
	}

	project, err := req.RequireString("project")
	if err != nil {
		return validationResult(err), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return validationResult(err), nil
	}

	if err := h.client.Wiki.Delete(ctx, project, title); err != nil {
		return errorResult(err), nil
	}

	return jsonResult(map[string]any{
		"success": true,
		"project": project,
		"title":   title,
		"message": "Wiki page deleted successfully",
	})
}

// --- Result formatting ---

// jsonResult serializes a handler result preserving its structure:
// objects stay JSON objects and slices stay JSON arrays. A lossy
// string coercion here would collapse populated maps into "{}" or
// concatenate list elements without brackets, which is exactly the
// failure this helper exists to rule out.
func jsonResult(data any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// errorResult renders the typed error envelope as a structured JSON
// error response, keeping kind, message, status code, and details.
func errorResult(err error) *mcp.CallToolResult {
	envelope := redmine.AsError(err)
	payload, mErr := json.MarshalIndent(envelope, "", "  ")
	if mErr != nil {
		return mcp.NewToolResultError(envelope.Error())
	}
	return mcp.NewToolResultError(string(payload))
}

// validationResult wraps an argument error as a validation envelope.
func validationResult(err error) *mcp.CallToolResult {
	return errorResult(&redmine.Error{Kind: redmine.KindValidation, Message: err.Error()})
}

// requireID reads a required numeric argument as an int.
func requireID(req mcp.CallToolRequest, key string) (int, error) {
	value, err := req.RequireFloat(key)
	if err != nil {
		return 0, err
	}
	return int(value), nil
}

// collectFields assembles a resource field map: the open "fields"
// object first, then the explicitly declared argument names on top.
func collectFields(req mcp.CallToolRequest, names ...string) map[string]any {
	fields := map[string]any{}
	for k, v := range getMapArg(req, "fields") {
		fields[k] = v
	}
	args := req.GetArguments()
	for _, name := range names {
		if v, ok := args[name]; ok {
			fields[name] = v
		}
	}
	return fields
}

// customFieldsParam converts {"<field id>": value} into Redmine's
// [{"id": n, "value": v}] shape.
func customFieldsParam(m map[string]any) ([]map[string]any, error) {
	converted := make([]map[string]any, 0, len(m))
	for id, value := range m {
		cfID, err := strconv.Atoi(id)
		if err != nil {
			return nil, &redmine.Error{
				Kind:    redmine.KindValidation,
				Message: fmt.Sprintf("custom_fields keys must be numeric field IDs, got %q", id),
			}
		}
		converted = append(converted, map[string]any{"id": cfID, "value": value})
	}
	return converted, nil
}

func getMapArg(req mcp.CallToolRequest, key string) map[string]any {
	args := req.GetArguments()
	if v, ok := args[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
		// Some MCP clients stringify object arguments.
		if s, ok := v.(string); ok && strings.HasPrefix(s, "{") {
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func getStringArrayArg(req mcp.CallToolRequest, key string) []string {
	args := req.GetArguments()
	v, ok := args[key]
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// --- Payload formatting ---

func formatIssue(issue redmine.Issue) map[string]any {
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
	if issue.StartDate != "" {
		result["start_date"] = issue.StartDate
	}
	if issue.DueDate != "" {
		result["due_date"] = issue.DueDate
	}
	if issue.EstimatedHours != nil {
		result["estimated_hours"] = *issue.EstimatedHours
	}

	return result
}

func formatIssueDetail(issue redmine.Issue) map[string]any {
	result := formatIssue(issue)
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

	if len(issue.Watchers) > 0 {
		watchers := make([]map[string]any, len(issue.Watchers))
		for i, w := range issue.Watchers {
			watchers[i] = map[string]any{"id": w.ID, "name": w.Name}
		}
		result["watchers"] = watchers
	}

	if len(issue.Relations) > 0 {
		relations := make([]map[string]any, len(issue.Relations))
		for i, rel := range issue.Relations {
			relations[i] = map[string]any{
				"id":            rel.ID,
				"issue_id":      rel.IssueID,
				"issue_to_id":   rel.IssueToID,
				"relation_type": rel.RelationType,
			}
		}
		result["relations"] = relations
	}

	return result
}

func formatProject(p redmine.Project) map[string]any {
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
	if p.CreatedOn != "" {
		result["created_on"] = p.CreatedOn
	}
	return result
}

func formatUser(u redmine.User) map[string]any {
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
	if u.Status > 0 {
		result["status"] = u.Status
	}
	return result
}

func formatVersion(v redmine.Version) map[string]any {
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
	if v.Sharing != "" {
		result["sharing"] = v.Sharing
	}
	return result
}

func formatWikiPage(p redmine.WikiPage) map[string]any {
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
	if p.Author.ID > 0 {
		result["author"] = map[string]any{"id": p.Author.ID, "name": p.Author.Name}
	}
	if p.CreatedOn != "" {
		result["created_on"] = p.CreatedOn
	}
	if p.UpdatedOn != "" {
		result["updated_on"] = p.UpdatedOn
	}
	return result
}
