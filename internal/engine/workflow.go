package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"workbridge/internal/domain"
	"workbridge/internal/engine/auth"
	"workbridge/internal/events"
	"workbridge/internal/repo"
)

// systemAdminID is the well-known actor brought into moderated chats.
const systemAdminID = "admin"

// Apply records a freelancer's application and opens (or reuses) the
// discussion chat for the pair.
func (e Engine) Apply(ctx context.Context, p auth.Principal, projectID, proposal string, expectedPayment *int64) (domain.Application, error) {
	if err := auth.RequireRole(p, domain.RoleFreelancer); err != nil {
		return domain.Application{}, err
	}
	proj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Application{}, err
	}
	switch proj.Status {
	case domain.ProjectUnassigned, domain.ProjectPending:
	default:
		return domain.Application{}, invalidStatef("project %s is not open for applications (%s)", projectID, proj.Status)
	}
	if _, err := e.Repo.GetApplication(ctx, projectID, p.ActorID); err == nil {
		return domain.Application{}, conflictf("actor %s already applied to project %s", p.ActorID, projectID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Application{}, err
	}
	now := e.nowStr()
	app := domain.Application{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		ApplicantID:     p.ActorID,
		ProposalSummary: proposal,
		ExpectedPayment: expectedPayment,
		AppliedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, p.ActorID, p.Role, now); err != nil {
		return domain.Application{}, err
	}
	if err := e.Repo.InsertApplication(ctx, tx, app); err != nil {
		return domain.Application{}, err
	}
	if _, err := e.Repo.FindProjectChat(ctx, tx, projectID, p.ActorID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Application{}, err
		}
		chat := domain.Chat{
			ID:           uuid.New().String(),
			Type:         domain.ChatTypeProject,
			ProjectID:    &projectID,
			Status:       domain.ChatDiscussion,
			Participants: []string{proj.CreatedBy, p.ActorID},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertChat(ctx, tx, chat); err != nil {
			return domain.Application{}, err
		}
		if err := e.appendSystemMessage(ctx, tx, chat.ID, domain.EventDiscussionStarted,
			"Discussion started for project "+proj.Title); err != nil {
			return domain.Application{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "project.applied", projectID, "application", app.ID, p.ActorID, events.EventPayload{}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

// ChooseApplicant is the client's shortlist step: marks the application and
// moves the project to pending. Other applications stay untouched.
func (e Engine) ChooseApplicant(ctx context.Context, p auth.Principal, projectID, applicantID string) (domain.Application, error) {
	proj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Application{}, err
	}
	if err := auth.RequireOwner(p, proj.CreatedBy, "project"); err != nil {
		return domain.Application{}, err
	}
	app, err := e.Repo.GetApplication(ctx, projectID, applicantID)
	if err != nil {
		return domain.Application{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	now := e.nowStr()
	if _, err := e.Repo.ChooseApplication(ctx, tx, projectID, applicantID); err != nil {
		return domain.Application{}, err
	}
	ok, err := e.Repo.SetProjectStatus(ctx, tx, projectID, domain.ProjectUnassigned, domain.ProjectPending, now)
	if err != nil {
		return domain.Application{}, err
	}
	if !ok && proj.Status != domain.ProjectPending {
		return domain.Application{}, invalidStatef("project %s cannot shortlist in state %s", projectID, proj.Status)
	}
	if err := e.Events.Append(ctx, tx, "project.applicant_chosen", projectID, "application", app.ID, p.ActorID, events.EventPayload{
		"applicant_id": applicantID,
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	app.IsChosenByClient = true
	return app, nil
}

// ProceedWithFreelancer is the commitment step: the chat's freelancer is
// assigned, the final budget is fixed, the chat becomes the single committed
// chat for the project, and every sibling discussion is closed.
func (e Engine) ProceedWithFreelancer(ctx context.Context, p auth.Principal, chatID string, finalBudget int64) (domain.Project, error) {
	chat, err := e.Repo.GetChat(ctx, chatID)
	if err != nil {
		return domain.Project{}, err
	}
	if chat.ProjectID == nil {
		return domain.Project{}, validationf("chat %s is not bound to a project", chatID)
	}
	proj, err := e.Repo.GetProject(ctx, *chat.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.RequireOwner(p, proj.CreatedBy, "project"); err != nil {
		return domain.Project{}, err
	}
	if finalBudget <= 0 {
		return domain.Project{}, validationf("final budget must be positive")
	}
	freelancerID := ""
	for _, id := range chat.Participants {
		if id != proj.CreatedBy && id != systemAdminID {
			freelancerID = id
			break
		}
	}
	if freelancerID == "" {
		return domain.Project{}, validationf("chat %s has no freelancer participant", chatID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.nowStr()
	ok, err := e.Repo.SetChatStatus(ctx, tx, chat.ID, domain.ChatDiscussion, domain.ChatCommitted, now)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, conflictf("chat %s is already %s", chatID, chat.Status)
	}
	ok, err = e.Repo.CommitProject(ctx, tx, proj.ID, freelancerID, finalBudget, now)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		// re-read on the transaction's connection to report the winner's state
		cur, err := e.Repo.GetProjectTx(ctx, tx, proj.ID)
		if err != nil {
			return domain.Project{}, err
		}
		return domain.Project{}, conflictf("project %s is already %s", proj.ID, cur.Status)
	}
	if err := e.appendSystemMessage(ctx, tx, chat.ID, domain.EventFreelancerCommitted,
		"Freelancer committed to the project"); err != nil {
		return domain.Project{}, err
	}
	closed, err := e.Repo.CloseSiblingChats(ctx, tx, proj.ID, chat.ID, now)
	if err != nil {
		return domain.Project{}, err
	}
	for _, siblingID := range closed {
		if err := e.appendSystemMessage(ctx, tx, siblingID, domain.EventDiscussionClosed,
			"Discussion closed: the client proceeded with another freelancer"); err != nil {
			return domain.Project{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "project.committed", proj.ID, "project", proj.ID, p.ActorID, events.EventPayload{
		"freelancer_id": freelancerID,
		"final_budget":  finalBudget,
		"chats_closed":  len(closed),
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, proj.ID)
}

// RequestAdminManagement flips the project to admin-managed: allowed once,
// only in progress, and only within the configured window after creation.
// The management fee payment is opened, the committed chat is locked and the
// admin joins it.
func (e Engine) RequestAdminManagement(ctx context.Context, p auth.Principal, projectID string) (domain.Payment, error) {
	proj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := auth.RequireActor(p, proj.CreatedBy, "project client"); err != nil {
		return domain.Payment{}, err
	}
	if proj.Status != domain.ProjectInProgress {
		return domain.Payment{}, invalidStatef("admin management requires an in-progress project (%s)", proj.Status)
	}
	if proj.HasRequestedAdminManagement {
		return domain.Payment{}, conflictf("admin management was already requested for project %s", projectID)
	}
	createdAt, err := time.Parse(time.RFC3339, proj.CreatedAt)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("parse project created_at: %w", err)
	}
	if e.now().UTC().Sub(createdAt) > e.Config.AdminWindow() {
		return domain.Payment{}, validationf("admin management window of %d hours has passed", e.Config.AdminManagement.WindowHours)
	}
	amount := proj.Budget
	if proj.FinalBudget != nil {
		amount = *proj.FinalBudget
	}
	feeAmount := roundPercent(amount, e.Config.Fees.ServiceChargePercent)
	if feeAmount <= 0 {
		return domain.Payment{}, validationf("management fee computes to zero for project %s", projectID)
	}
	now := e.nowStr()
	moderationID := newModerationID()
	fee := domain.Payment{
		ID:                   uuid.New().String(),
		ProjectID:            proj.ID,
		ClientID:             proj.CreatedBy,
		TotalAmount:          feeAmount,
		Currency:             e.Config.Currency,
		Total:                domain.PaymentStage{Amount: feeAmount, Status: domain.StagePending},
		OverallStatus:        domain.OverallPending,
		ReleaseStatus:        domain.ReleaseNone,
		IsAdminManagementFee: true,
		ModerationID:         &moderationID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.MarkAdminManagementRequested(ctx, tx, proj.ID, now)
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, conflictf("admin management was already requested for project %s", projectID)
	}
	if err := e.Repo.InsertPayment(ctx, tx, fee); err != nil {
		return domain.Payment{}, err
	}
	if err := e.Repo.EnsureActor(ctx, tx, systemAdminID, domain.RoleAdmin, now); err != nil {
		return domain.Payment{}, err
	}
	if proj.AssignedTo != nil {
		chat, err := e.Repo.FindProjectChat(ctx, tx, proj.ID, *proj.AssignedTo)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.Payment{}, err
		}
		if err == nil {
			if err := e.lockChatForModeration(ctx, tx, chat.ID, now); err != nil {
				return domain.Payment{}, err
			}
		}
	}
	if err := e.Events.Append(ctx, tx, "project.admin_management_requested", proj.ID, "payment", fee.ID, p.ActorID, events.EventPayload{
		"moderation_id": moderationID,
		"fee_amount":    feeAmount,
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}

	// refresh the main payment's fees while still collectible
	if main, err := e.Repo.GetMainPayment(ctx, proj.ID); err == nil && main.Total.Status != domain.StagePaid {
		if _, err := e.RecomputeFees(ctx, main.ID, true); err != nil {
			var ise InvalidStateError
			if !errors.As(err, &ise) {
				return domain.Payment{}, err
			}
		}
	}
	return e.Repo.GetPayment(ctx, fee.ID)
}

func newModerationID() string {
	return fmt.Sprintf("MOD-%05d", rand.IntN(100000))
}

// CompleteProject marks the work done. Settlement stays a separate, explicit
// admin decision.
func (e Engine) CompleteProject(ctx context.Context, p auth.Principal, projectID string) (domain.Project, error) {
	proj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.RequireOwner(p, proj.CreatedBy, "project"); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.SetProjectStatus(ctx, tx, projectID, domain.ProjectInProgress, domain.ProjectCompleted, e.nowStr())
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, invalidStatef("project %s cannot complete from state %s", projectID, proj.Status)
	}
	if err := e.Events.Append(ctx, tx, "project.completed", projectID, "project", projectID, p.ActorID, events.EventPayload{}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

// CancelProject abandons a project that is not yet completed.
func (e Engine) CancelProject(ctx context.Context, p auth.Principal, projectID string) (domain.Project, error) {
	proj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := auth.RequireOwner(p, proj.CreatedBy, "project"); err != nil {
		return domain.Project{}, err
	}
	switch proj.Status {
	case domain.ProjectCompleted, domain.ProjectCancelled:
		return domain.Project{}, invalidStatef("project %s cannot cancel from state %s", projectID, proj.Status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.SetProjectStatus(ctx, tx, projectID, proj.Status, domain.ProjectCancelled, e.nowStr())
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, conflictf("project %s changed state concurrently", projectID)
	}
	if err := e.Events.Append(ctx, tx, "project.cancelled", projectID, "project", projectID, p.ActorID, events.EventPayload{
		"from": proj.Status,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}
