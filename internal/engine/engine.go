// Package engine holds the state machines behind the API: project
// commitment, payment settlement, fee computation and chat status sync.
// Every transition is a transactional read-check-write with an audit event
// appended in the same transaction.
package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"workbridge/internal/config"
	"workbridge/internal/domain"
	"workbridge/internal/engine/auth"
	"workbridge/internal/events"
	"workbridge/internal/gateway"
	"workbridge/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Gateway *gateway.Client
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	gw := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.ClientID, cfg.Gateway.ClientSecret,
		cfg.Gateway.ReturnURL, cfg.Gateway.NotifyURL, cfg.GatewayTimeout())
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Gateway: gw,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ProjectCreateOptions are parameters for posting a project.
type ProjectCreateOptions struct {
	ID          string
	Title       string
	Description string
	Budget      int64
	Category    string
}

// CreateProject posts a new project in the unassigned state.
func (e Engine) CreateProject(ctx context.Context, p auth.Principal, opts ProjectCreateOptions) (domain.Project, error) {
	if err := auth.RequireRole(p, domain.RoleClient); err != nil {
		return domain.Project{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Project{}, validationf("title is required")
	}
	if strings.TrimSpace(opts.Category) == "" {
		return domain.Project{}, validationf("category is required")
	}
	if opts.Budget < 0 {
		return domain.Project{}, validationf("budget must not be negative")
	}
	now := e.nowStr()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	proj := domain.Project{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.ProjectUnassigned,
		Budget:      opts.Budget,
		Category:    opts.Category,
		CreatedBy:   p.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, p.ActorID, p.Role, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProject(ctx, tx, proj); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.created", proj.ID, "project", proj.ID, p.ActorID, events.EventPayload{
		"title":  proj.Title,
		"budget": proj.Budget,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return proj, nil
}

// DeleteProject removes a project that never took money. Once a payment
// record references the project the deletion is refused.
func (e Engine) DeleteProject(ctx context.Context, p auth.Principal, projectID string) error {
	proj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := auth.RequireOwner(p, proj.CreatedBy, "project"); err != nil {
		return err
	}
	ok, err := e.Repo.DeleteProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return conflictf("project %s has a payment record and cannot be deleted", projectID)
	}
	return nil
}
