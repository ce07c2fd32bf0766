package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/redmine-mcp/redmine-mcp-server/internal/config"
	"github.com/redmine-mcp/redmine-mcp-server/internal/redmine"
)

// Server is the REST API server. It fronts the same client layer as
// the MCP tools for callers that speak plain HTTP.
type Server struct {
	cfg         config.Config
	port        int
	router      *chi.Mux
	rateLimiter *RateLimiter
}

// NewServer creates a new API server
func NewServer(cfg config.Config, port int) *Server {
	s := &Server{
		cfg:         cfg,
		port:        port,
		router:      chi.NewRouter(),
		rateLimiter: NewRateLimiter(100, time.Second, 200), // 100 req/sec, burst 200
	}

	s.setupRoutes()

	// Start rate limiter cleanup goroutine
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			s.rateLimiter.Cleanup(10 * time.Minute)
		}
	}()

	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.rateLimiter.Middleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// OpenAPI spec (static inline)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(openAPISpec))
	})

	// API routes with authentication middleware
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Account
		r.Get("/me", s.handleMe)

		// Projects
		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{id}", s.handleGetProject)
		r.Patch("/projects/{id}", s.handleUpdateProject)
		r.Delete("/projects/{id}", s.handleDeleteProject)

		// Issues
		r.Get("/issues", s.handleListIssues)
		r.Post("/issues", s.handleCreateIssue)
		r.Get("/issues/{id}", s.handleGetIssue)
		r.Patch("/issues/{id}", s.handleUpdateIssue)
		r.Delete("/issues/{id}", s.handleDeleteIssue)

		// Users
		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Get("/users/{id}", s.handleGetUser)
		r.Patch("/users/{id}", s.handleUpdateUser)
		r.Delete("/users/{id}", s.handleDeleteUser)

		// Versions
		r.Get("/projects/{id}/versions", s.handleListVersions)
		r.Post("/projects/{id}/versions", s.handleCreateVersion)
		r.Get("/versions/{id}", s.handleGetVersion)
		r.Patch("/versions/{id}", s.handleUpdateVersion)
		r.Delete("/versions/{id}", s.handleDeleteVersion)

		// Wiki pages
		r.Get("/projects/{id}/wiki", s.handleListWikiPages)
		r.Get("/projects/{id}/wiki/{title}", s.handleGetWikiPage)
		r.Put("/projects/{id}/wiki/{title}", s.handleWriteWikiPage)
		r.Delete("/projects/{id}/wiki/{title}", s.handleDeleteWikiPage)
	})
}

// authMiddleware extracts the Redmine API key and creates a client
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Redmine-API-Key")
		if apiKey == "" {
			http.Error(w, `{"error": "Missing X-Redmine-API-Key header"}`, http.StatusUnauthorized)
			return
		}

		cfg := s.cfg
		cfg.APIKey = apiKey
		client := redmine.NewClient(cfg)
		ctx := withClient(r.Context(), client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Run starts the API server
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.port)

	slog.Info("Starting REST API server",
		"address", addr,
		"redmine_url", s.cfg.BaseURL,
	)

	return http.ListenAndServe(addr, s.router)
}

const openAPISpec = `openapi: 3.0.3
info:
  title: Redmine MCP Server API
  description: REST API for Redmine integration with AI assistants
  version: 1.0.0
servers:
  - url: /api/v1
security:
  - ApiKeyAuth: []
components:
  securitySchemes:
    ApiKeyAuth:
      type: apiKey
      in: header
      name: X-Redmine-API-Key
  schemas:
    Error:
      type: object
      properties:
        error_code:
          type: string
        message:
          type: string
        status_code:
          type: integer
        details:
          type: array
          items:
            type: string
paths:
  /me:
    get:
      summary: Get current user information
      tags: [Account]
      responses:
        '200':
          description: Current user
  /projects:
    get:
      summary: List projects
      tags: [Projects]
      parameters:
        - name: limit
          in: query
          schema:
            type: integer
            default: 100
        - name: offset
          in: query
          schema:
            type: integer
            default: 0
      responses:
        '200':
          description: List of projects
    post:
      summary: Create a project
      tags: [Projects]
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [name, identifier]
              properties:
                name:
                  type: string
                identifier:
                  type: string
                description:
                  type: string
                parent:
                  type: string
                is_public:
                  type: boolean
      responses:
        '201':
          description: Created project
  /projects/{id}:
    get:
      summary: Get project details
      tags: [Projects]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
          description: Project ID or identifier
      responses:
        '200':
          description: Project details
    patch:
      summary: Update project settings
      tags: [Projects]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
                description:
                  type: string
      responses:
        '200':
          description: Project updated
    delete:
      summary: Delete a project
      tags: [Projects]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      responses:
        '200':
          description: Project deleted
  /issues:
    get:
      summary: List issues
      tags: [Issues]
      parameters:
        - name: project
          in: query
          schema:
            type: string
          description: Project name, identifier, or ID
        - name: status
          in: query
          schema:
            type: string
          description: "Status: open, closed, *, or a status ID"
        - name: assigned_to
          in: query
          schema:
            type: string
          description: "Assignee name or 'me'"
        - name: limit
          in: query
          schema:
            type: integer
            default: 25
        - name: offset
          in: query
          schema:
            type: integer
            default: 0
      responses:
        '200':
          description: List of issues
    post:
      summary: Create an issue
      tags: [Issues]
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [project, subject]
              properties:
                project:
                  type: string
                  description: Project name, identifier, or ID
                subject:
                  type: string
                description:
                  type: string
                tracker_id:
                  type: integer
                assigned_to:
                  type: string
                  description: Assignee name or ID
                parent_issue_id:
                  type: integer
                start_date:
                  type: string
                  format: date
                due_date:
                  type: string
                  format: date
                custom_fields:
                  type: object
                  description: Custom field values keyed by field ID
      responses:
        '201':
          description: Created issue
  /issues/{id}:
    get:
      summary: Get issue details
      tags: [Issues]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
        - name: include
          in: query
          schema:
            type: string
          description: Comma-separated related data (journals, watchers, relations)
      responses:
        '200':
          description: Issue details
    patch:
      summary: Update an issue
      tags: [Issues]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                subject:
                  type: string
                description:
                  type: string
                status_id:
                  type: integer
                assigned_to:
                  type: string
                notes:
                  type: string
                  description: Comment to add
                custom_fields:
                  type: object
      responses:
        '200':
          description: Issue updated
    delete:
      summary: Delete an issue
      tags: [Issues]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      responses:
        '200':
          description: Issue deleted
  /users:
    get:
      summary: List users (admin)
      tags: [Users]
      parameters:
        - name: name
          in: query
          schema:
            type: string
        - name: limit
          in: query
          schema:
            type: integer
            default: 25
      responses:
        '200':
          description: List of users
    post:
      summary: Create a user (admin)
      tags: [Users]
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [login, firstname, lastname, mail]
              properties:
                login:
                  type: string
                firstname:
                  type: string
                lastname:
                  type: string
                mail:
                  type: string
      responses:
        '201':
          description: Created user
  /users/{id}:
    get:
      summary: Get user details
      tags: [Users]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      responses:
        '200':
          description: User details
    patch:
      summary: Update a user (admin)
      tags: [Users]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                firstname:
                  type: string
                lastname:
                  type: string
                mail:
                  type: string
      responses:
        '200':
          description: User updated
    delete:
      summary: Delete a user (admin)
      tags: [Users]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      responses:
        '200':
          description: User deleted
  /projects/{id}/versions:
    get:
      summary: List versions of a project
      tags: [Versions]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      responses:
        '200':
          description: List of versions
    post:
      summary: Create a version in a project
      tags: [Versions]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [name]
              properties:
                name:
                  type: string
                description:
                  type: string
                status:
                  type: string
                  enum: [open, locked, closed]
                due_date:
                  type: string
                  format: date
      responses:
        '201':
          description: Created version
  /versions/{id}:
    get:
      summary: Get version details
      tags: [Versions]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      responses:
        '200':
          description: Version details
    patch:
      summary: Update a version
      tags: [Versions]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
                description:
                  type: string
                status:
                  type: string
      responses:
        '200':
          description: Version updated
    delete:
      summary: Delete a version
      tags: [Versions]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
      responses:
        '200':
          description: Version deleted
  /projects/{id}/wiki:
    get:
      summary: List wiki pages of a project
      tags: [Wiki]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      responses:
        '200':
          description: Wiki index
  /projects/{id}/wiki/{title}:
    get:
      summary: Get a wiki page
      tags: [Wiki]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
        - name: title
          in: path
          required: true
          schema:
            type: string
      responses:
        '200':
          description: Wiki page with content
    put:
      summary: Create or update a wiki page
      tags: [Wiki]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
        - name: title
          in: path
          required: true
          schema:
            type: string
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [text]
              properties:
                text:
                  type: string
                comments:
                  type: string
                parent_title:
                  type: string
      responses:
        '200':
          description: Wiki page written
    delete:
      summary: Delete a wiki page
      tags: [Wiki]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
        - name: title
          in: path
          required: true
          schema:
            type: string
      responses:
        '200':
          description: Wiki page deleted
`
