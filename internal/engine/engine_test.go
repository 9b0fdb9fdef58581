package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"workbridge/internal/config"
	"workbridge/internal/db"
	"workbridge/internal/domain"
	"workbridge/internal/engine"
	"workbridge/internal/engine/auth"
	"workbridge/internal/gateway"
	"workbridge/internal/migrate"
	"workbridge/internal/repo"
)

var (
	client     = auth.Principal{ActorID: "client-1", Role: domain.RoleClient}
	freelancer = auth.Principal{ActorID: "dev-1", Role: domain.RoleFreelancer}
	otherDev   = auth.Principal{ActorID: "dev-2", Role: domain.RoleFreelancer}
	admin      = auth.Principal{ActorID: "ops-1", Role: domain.RoleAdmin}
)

type fakeGateway struct {
	mu       sync.Mutex
	attempts []gateway.PaymentAttempt
	srv      *httptest.Server
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	fg := &fakeGateway{}
	fg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			var req struct {
				OrderID string `json:"order_id"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"order_id":           req.OrderID,
				"payment_session_id": "session_test",
				"order_status":       "ACTIVE",
			})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/payments"):
			fg.mu.Lock()
			defer fg.mu.Unlock()
			_ = json.NewEncoder(w).Encode(fg.attempts)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fg.srv.Close)
	return fg
}

func (fg *fakeGateway) setAttempts(attempts ...gateway.PaymentAttempt) {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.attempts = attempts
}

type testEnv struct {
	Engine  engine.Engine
	Gateway *fakeGateway
	Ctx     context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fg := newFakeGateway(t)
	cfg := config.Default()
	cfg.Gateway.BaseURL = fg.srv.URL
	cfg.Gateway.WebhookSecret = "whsec_test"
	cfg.AdminManagement.UPIID = "ops@bank"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return &testEnv{Engine: eng, Gateway: fg, Ctx: context.Background()}
}

// committedProject walks a project through apply, choose and proceed so it is
// in progress with dev-1 assigned at a final budget of 1200.
func committedProject(t *testing.T, env *testEnv) (domain.Project, string) {
	t.Helper()
	proj, err := env.Engine.CreateProject(env.Ctx, client, engine.ProjectCreateOptions{
		Title: "Build the thing", Category: "development", Budget: 1000,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := env.Engine.Apply(env.Ctx, freelancer, proj.ID, "I can do it", nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.Engine.ChooseApplicant(env.Ctx, client, proj.ID, freelancer.ActorID); err != nil {
		t.Fatalf("choose: %v", err)
	}
	chats, err := env.Engine.ListChats(env.Ctx, freelancer)
	if err != nil || len(chats) == 0 {
		t.Fatalf("list chats: %v (%d)", err, len(chats))
	}
	proj, err = env.Engine.ProceedWithFreelancer(env.Ctx, client, chats[0].ID, 1200)
	if err != nil {
		t.Fatalf("proceed: %v", err)
	}
	if proj.Status != domain.ProjectInProgress {
		t.Fatalf("expected in-progress, got %s", proj.Status)
	}
	if proj.AssignedTo == nil || *proj.AssignedTo != freelancer.ActorID {
		t.Fatalf("expected assignment to %s", freelancer.ActorID)
	}
	return proj, chats[0].ID
}

// collectedPayment creates the payment, opens an order and settles it via the
// gateway so release and refund can be exercised.
func collectedPayment(t *testing.T, env *testEnv, projectID string) domain.Payment {
	t.Helper()
	pay, err := env.Engine.CreatePayment(env.Ctx, client, projectID)
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if _, err := env.Engine.CreateOrder(env.Ctx, client, pay.ID); err != nil {
		t.Fatalf("create order: %v", err)
	}
	env.Gateway.setAttempts(gateway.PaymentAttempt{PaymentID: "cf_1", Status: "SUCCESS", Method: "upi"})
	verify, err := env.Engine.Verify(env.Ctx, client, pay.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Paid {
		t.Fatalf("expected paid after success attempt")
	}
	return verify.Payment
}

func TestComputeFees(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		amount       int64
		adminManaged bool
		want         engine.Fees
	}{
		{1000, false, engine.Fees{ServiceCharge: 0, CommissionFee: 100, GrandTotal: 1000}},
		{1000, true, engine.Fees{ServiceCharge: 50, CommissionFee: 100, GrandTotal: 1050}},
		{1200, true, engine.Fees{ServiceCharge: 60, CommissionFee: 120, GrandTotal: 1260}},
		{999, true, engine.Fees{ServiceCharge: 50, CommissionFee: 100, GrandTotal: 1049}},
	}
	for _, tc := range cases {
		got, err := env.Engine.ComputeFees(tc.amount, tc.adminManaged)
		if err != nil {
			t.Fatalf("fees(%d,%v): %v", tc.amount, tc.adminManaged, err)
		}
		if got != tc.want {
			t.Fatalf("fees(%d,%v) = %+v, want %+v", tc.amount, tc.adminManaged, got, tc.want)
		}
	}
	if _, err := env.Engine.ComputeFees(0, false); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestCommitClosesSiblingChats(t *testing.T) {
	env := newTestEnv(t)
	proj, err := env.Engine.CreateProject(env.Ctx, client, engine.ProjectCreateOptions{
		Title: "Two applicants", Category: "design", Budget: 500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Apply(env.Ctx, freelancer, proj.ID, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Apply(env.Ctx, otherDev, proj.ID, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ChooseApplicant(env.Ctx, client, proj.ID, freelancer.ActorID); err != nil {
		t.Fatal(err)
	}
	chats, err := env.Engine.ListChats(env.Ctx, freelancer)
	if err != nil || len(chats) != 1 {
		t.Fatalf("freelancer chats: %v (%d)", err, len(chats))
	}
	if _, err := env.Engine.ProceedWithFreelancer(env.Ctx, client, chats[0].ID, 600); err != nil {
		t.Fatalf("proceed: %v", err)
	}

	winner, msgs, err := env.Engine.GetChatWithMessages(env.Ctx, freelancer, chats[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if winner.Status != domain.ChatCommitted {
		t.Fatalf("winner chat status = %s", winner.Status)
	}
	found := false
	for _, m := range msgs {
		if m.EventTag != nil && *m.EventTag == domain.EventFreelancerCommitted {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing freelancer_committed system message")
	}

	otherChats, err := env.Engine.ListChats(env.Ctx, otherDev)
	if err != nil || len(otherChats) != 1 {
		t.Fatalf("other chats: %v (%d)", err, len(otherChats))
	}
	loser, msgs, err := env.Engine.GetChatWithMessages(env.Ctx, otherDev, otherChats[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if loser.Status != domain.ChatClosed {
		t.Fatalf("sibling chat status = %s, want closed", loser.Status)
	}
	closedTag := false
	for _, m := range msgs {
		if m.EventTag != nil && *m.EventTag == domain.EventDiscussionClosed {
			closedTag = true
		}
	}
	if !closedTag {
		t.Fatalf("missing discussion_closed system message")
	}

	// committing a closed chat must not succeed
	if _, err := env.Engine.ProceedWithFreelancer(env.Ctx, client, otherChats[0].ID, 600); err == nil {
		t.Fatalf("expected conflict on closed chat")
	}
}

func TestPaymentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)

	pay, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if pay.TotalAmount != 1200 || pay.ServiceCharge != 0 || pay.Total.Amount != 1200 {
		t.Fatalf("unexpected amounts: %+v", pay)
	}
	if pay.CommissionFee != 120 {
		t.Fatalf("commission = %d, want 120", pay.CommissionFee)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on duplicate payment, got %v", err)
	}

	res, err := env.Engine.CreateOrder(env.Ctx, client, pay.ID)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if res.Payment.Total.Status != domain.StageCreated || res.SessionToken != "session_test" {
		t.Fatalf("unexpected order result: %+v", res)
	}

	env.Gateway.setAttempts(
		gateway.PaymentAttempt{PaymentID: "cf_bad", Status: "FAILED", ErrorCode: "DECLINED"},
		gateway.PaymentAttempt{PaymentID: "cf_ok", Status: "SUCCESS", Method: "upi"},
	)
	verify, err := env.Engine.Verify(env.Ctx, client, pay.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verify.Paid || verify.Payment.OverallStatus != domain.OverallFinalPaid {
		t.Fatalf("expected paid final_paid, got %+v", verify.Payment)
	}

	// verify is idempotent once paid
	again, err := env.Engine.Verify(env.Ctx, client, pay.ID)
	if err != nil || !again.Paid {
		t.Fatalf("second verify: %v paid=%v", err, again.Paid)
	}

	released, err := env.Engine.Release(env.Ctx, admin, pay.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.ReleaseAmount != 1080 {
		t.Fatalf("release amount = %d, want 1080", released.ReleaseAmount)
	}
	if released.OverallStatus != domain.OverallReleased || released.ReleaseStatus != domain.ReleaseReleased {
		t.Fatalf("unexpected release state: %+v", released)
	}
	if _, err := env.Engine.Refund(env.Ctx, admin, pay.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict refunding a released payment, got %v", err)
	}
}

func TestWebhookVerifyCommutative(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	pay, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateOrder(env.Ctx, client, pay.ID)
	if err != nil {
		t.Fatal(err)
	}

	// webhook first
	evt := engine.WebhookEvent{Type: "PAYMENT_SUCCESS_WEBHOOK"}
	evt.Data.Order.OrderID = res.OrderID
	evt.Data.Payment.PaymentID = "cf_hook"
	evt.Data.Payment.Status = "SUCCESS"
	evt.Data.Payment.Method = "netbanking"
	out, err := env.Engine.ApplyWebhookEvent(env.Ctx, evt)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if out.Status != "processed" || out.Payment.Total.Status != domain.StagePaid {
		t.Fatalf("unexpected webhook result: %+v", out)
	}

	// verify afterwards agrees without touching the record
	env.Gateway.setAttempts(gateway.PaymentAttempt{PaymentID: "cf_hook", Status: "SUCCESS"})
	verify, err := env.Engine.Verify(env.Ctx, client, pay.ID)
	if err != nil || !verify.Paid {
		t.Fatalf("verify after webhook: %v paid=%v", err, verify.Paid)
	}

	// redelivery is a recognized duplicate
	out, err = env.Engine.ApplyWebhookEvent(env.Ctx, evt)
	if err != nil || out.Status != "duplicate" {
		t.Fatalf("redelivery: %v status=%s", err, out.Status)
	}
}

func TestStaleFailureNeverDowngradesPaid(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	pay, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateOrder(env.Ctx, client, pay.ID)
	if err != nil {
		t.Fatal(err)
	}
	success := engine.WebhookEvent{Type: "PAYMENT_SUCCESS_WEBHOOK"}
	success.Data.Order.OrderID = res.OrderID
	success.Data.Payment.Status = "SUCCESS"
	if _, err := env.Engine.ApplyWebhookEvent(env.Ctx, success); err != nil {
		t.Fatal(err)
	}

	failure := engine.WebhookEvent{Type: "PAYMENT_FAILED_WEBHOOK"}
	failure.Data.Order.OrderID = res.OrderID
	failure.Data.Payment.ErrorCode = "TIMEOUT"
	out, err := env.Engine.ApplyWebhookEvent(env.Ctx, failure)
	if err != nil {
		t.Fatalf("stale failure: %v", err)
	}
	if out.Status != "duplicate" {
		t.Fatalf("stale failure status = %s, want duplicate", out.Status)
	}
	cur, err := env.Engine.Repo.GetPayment(env.Ctx, pay.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Total.Status != domain.StagePaid || cur.OverallStatus != domain.OverallFinalPaid {
		t.Fatalf("paid record downgraded: %+v", cur)
	}
}

func TestReleaseRequiresCollectedFunds(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	pay, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	var invalid engine.InvalidStateError
	if _, err := env.Engine.Release(env.Ctx, admin, pay.ID); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid state releasing pending payment, got %v", err)
	}
	if _, err := env.Engine.Release(env.Ctx, client, pay.ID); err == nil {
		t.Fatalf("expected forbidden for non-admin release")
	}
}

func TestRefundExcludesRelease(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	pay := collectedPayment(t, env, proj.ID)

	refunded, err := env.Engine.Refund(env.Ctx, admin, pay.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.OverallStatus != domain.OverallRefunded || refunded.ReleaseStatus != domain.ReleaseRefunded {
		t.Fatalf("unexpected refund state: %+v", refunded)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.Release(env.Ctx, admin, pay.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict releasing a refunded payment, got %v", err)
	}
}

func TestRefundPendingPayment(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	pay, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}

	// nothing was ever collected; the client abandons and gets refunded
	refunded, err := env.Engine.Refund(env.Ctx, admin, pay.ID)
	if err != nil {
		t.Fatalf("refund pending payment: %v", err)
	}
	if refunded.OverallStatus != domain.OverallRefunded || refunded.ReleaseStatus != domain.ReleaseRefunded {
		t.Fatalf("unexpected refund state: %+v", refunded)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.Refund(env.Ctx, admin, pay.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on second refund, got %v", err)
	}
	if _, err := env.Engine.Release(env.Ctx, admin, pay.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict releasing a refunded payment, got %v", err)
	}
}

func TestSuccessWebhookAfterFailureIsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	pay, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.CreateOrder(env.Ctx, client, pay.ID)
	if err != nil {
		t.Fatal(err)
	}

	failure := engine.WebhookEvent{Type: "PAYMENT_FAILED_WEBHOOK"}
	failure.Data.Order.OrderID = res.OrderID
	failure.Data.Payment.ErrorCode = "DECLINED"
	out, err := env.Engine.ApplyWebhookEvent(env.Ctx, failure)
	if err != nil || out.Status != "processed" {
		t.Fatalf("failure webhook: %v status=%s", err, out.Status)
	}

	// the failed record is terminal for this order; a late success delivery
	// changes nothing and must not be reported as processed
	success := engine.WebhookEvent{Type: "PAYMENT_SUCCESS_WEBHOOK"}
	success.Data.Order.OrderID = res.OrderID
	success.Data.Payment.PaymentID = "cf_late"
	success.Data.Payment.Status = "SUCCESS"
	out, err = env.Engine.ApplyWebhookEvent(env.Ctx, success)
	if err != nil {
		t.Fatalf("late success webhook: %v", err)
	}
	if out.Status != "duplicate" {
		t.Fatalf("late success status = %s, want duplicate", out.Status)
	}
	if out.Payment.Total.Status != domain.StageFailed || out.Payment.OverallStatus != domain.OverallFailed {
		t.Fatalf("failed record changed: %+v", out.Payment)
	}
}

func TestChatParticipantManagement(t *testing.T) {
	env := newTestEnv(t)
	_, chatID := committedProject(t, env)

	var forbidden auth.ForbiddenError
	if _, err := env.Engine.AddChatParticipant(env.Ctx, client, chatID, otherDev.ActorID); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for non-admin add, got %v", err)
	}

	chat, err := env.Engine.AddChatParticipant(env.Ctx, admin, chatID, otherDev.ActorID)
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}
	member := false
	for _, id := range chat.Participants {
		if id == otherDev.ActorID {
			member = true
		}
	}
	if !member {
		t.Fatalf("dev-2 not in participants: %v", chat.Participants)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.AddChatParticipant(env.Ctx, admin, chatID, otherDev.ActorID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict adding twice, got %v", err)
	}

	chat, err = env.Engine.RemoveChatParticipant(env.Ctx, admin, chatID, otherDev.ActorID)
	if err != nil {
		t.Fatalf("remove participant: %v", err)
	}
	for _, id := range chat.Participants {
		if id == otherDev.ActorID {
			t.Fatalf("dev-2 still in participants: %v", chat.Participants)
		}
	}
	var validation engine.ValidationError
	if _, err := env.Engine.RemoveChatParticipant(env.Ctx, admin, chatID, otherDev.ActorID); !errors.As(err, &validation) {
		t.Fatalf("expected validation removing absent participant, got %v", err)
	}

	_, msgs, err := env.Engine.GetChatWithMessages(env.Ctx, admin, chatID)
	if err != nil {
		t.Fatal(err)
	}
	added, removed := false, false
	for _, m := range msgs {
		if m.EventTag == nil {
			continue
		}
		switch *m.EventTag {
		case domain.EventUserAdded:
			added = true
		case domain.EventUserRemoved:
			removed = true
		}
	}
	if !added || !removed {
		t.Fatalf("missing participant system messages (added=%v removed=%v)", added, removed)
	}
}

func TestAdminManagementRequest(t *testing.T) {
	env := newTestEnv(t)
	proj, chatID := committedProject(t, env)
	main, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}

	fee, err := env.Engine.RequestAdminManagement(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatalf("request admin management: %v", err)
	}
	if !fee.IsAdminManagementFee || fee.TotalAmount != 60 {
		t.Fatalf("unexpected fee: %+v", fee)
	}
	if fee.ModerationID == nil || !regexp.MustCompile(`^MOD-\d{5}$`).MatchString(*fee.ModerationID) {
		t.Fatalf("bad moderation id: %v", fee.ModerationID)
	}

	proj, err = env.Engine.Repo.GetProject(env.Ctx, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !proj.HasRequestedAdminManagement {
		t.Fatalf("project flag not set")
	}

	chat, msgs, err := env.Engine.GetChatWithMessages(env.Ctx, admin, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if !chat.IsLocked || !chat.AdminAdded {
		t.Fatalf("committed chat not locked: %+v", chat)
	}
	enabled := false
	for _, m := range msgs {
		if m.EventTag != nil && *m.EventTag == domain.EventAdminManagementEnabled {
			enabled = true
		}
	}
	if !enabled {
		t.Fatalf("missing admin_management_enabled system message")
	}

	// main payment picks up the service charge while still collectible
	main, err = env.Engine.Repo.GetPayment(env.Ctx, main.ID)
	if err != nil {
		t.Fatal(err)
	}
	if main.ServiceCharge != 60 || main.Total.Amount != 1260 {
		t.Fatalf("main fees not refreshed: %+v", main)
	}

	var conflict engine.ConflictError
	if _, err := env.Engine.RequestAdminManagement(env.Ctx, client, proj.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on second request, got %v", err)
	}
}

func TestReleaseAfterAdminManagement(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	main, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestAdminManagement(env.Ctx, client, proj.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateOrder(env.Ctx, client, main.ID); err != nil {
		t.Fatal(err)
	}
	env.Gateway.setAttempts(gateway.PaymentAttempt{PaymentID: "cf_2", Status: "SUCCESS"})
	if _, err := env.Engine.Verify(env.Ctx, client, main.ID); err != nil {
		t.Fatal(err)
	}
	released, err := env.Engine.Release(env.Ctx, admin, main.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	// 1200 collected base, minus 60 service charge and 120 commission
	if released.ReleaseAmount != 1020 {
		t.Fatalf("release amount = %d, want 1020", released.ReleaseAmount)
	}
}

func TestAdminManagementWindowExpired(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC) } // 49h later
	var validation engine.ValidationError
	if _, err := env.Engine.RequestAdminManagement(env.Ctx, client, proj.ID); !errors.As(err, &validation) {
		t.Fatalf("expected window validation error, got %v", err)
	}
}

func TestLockedChatAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	proj, chatID := committedProject(t, env)
	if _, err := env.Engine.RequestAdminManagement(env.Ctx, client, proj.ID); err != nil {
		t.Fatal(err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.SendMessage(env.Ctx, freelancer, chatID, "hello?"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for freelancer in locked chat, got %v", err)
	}
	if _, err := env.Engine.SendMessage(env.Ctx, admin, chatID, "admin here"); err != nil {
		t.Fatalf("admin send in locked chat: %v", err)
	}
}

func TestManualClaimAndConfirm(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	fee, err := env.Engine.RequestAdminManagement(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}

	var validation engine.ValidationError
	if _, err := env.Engine.MarkReceived(env.Ctx, admin, fee.ID); !errors.As(err, &validation) {
		t.Fatalf("expected validation before claim, got %v", err)
	}

	claimed, err := env.Engine.MarkClaimedPaid(env.Ctx, client, fee.ID, "")
	if err != nil {
		t.Fatalf("claim paid: %v", err)
	}
	if !claimed.Total.ClaimedPaid || claimed.Total.Status == domain.StagePaid {
		t.Fatalf("claim must not move money state: %+v", claimed)
	}

	// only an admin confirms a management fee
	if _, err := env.Engine.MarkReceived(env.Ctx, freelancer, fee.ID); err == nil {
		t.Fatalf("expected forbidden for freelancer confirming fee")
	}
	received, err := env.Engine.MarkReceived(env.Ctx, admin, fee.ID)
	if err != nil {
		t.Fatalf("mark received: %v", err)
	}
	if received.Total.Status != domain.StagePaid {
		t.Fatalf("fee not collected: %+v", received)
	}
	// confirming again is a no-op
	if _, err := env.Engine.MarkReceived(env.Ctx, admin, fee.ID); err != nil {
		t.Fatalf("second confirm: %v", err)
	}
}

func TestUPIDeeplink(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	fee, err := env.Engine.RequestAdminManagement(env.Ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	link, err := env.Engine.UPIDeeplink(env.Ctx, client, fee.ID)
	if err != nil {
		t.Fatalf("deeplink: %v", err)
	}
	if !strings.HasPrefix(link, "upi://pay?") {
		t.Fatalf("bad link: %s", link)
	}
	if !strings.Contains(link, "pa=ops%40bank") || !strings.Contains(link, *fee.ModerationID) {
		t.Fatalf("link missing payee or note: %s", link)
	}
}

func TestWebhookUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	evt := engine.WebhookEvent{Type: "PAYMENT_SUCCESS_WEBHOOK"}
	evt.Data.Order.OrderID = "order_nope"
	if _, err := env.Engine.ApplyWebhookEvent(env.Ctx, evt); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoleChecks(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, freelancer, engine.ProjectCreateOptions{
		Title: "nope", Category: "x", Budget: 10,
	}); err == nil {
		t.Fatalf("expected forbidden for freelancer posting a project")
	}
	proj, _ := committedProject(t, env)
	if _, err := env.Engine.Apply(env.Ctx, client, proj.ID, "", nil); err == nil {
		t.Fatalf("expected forbidden for client applying")
	}
	// non-owner cannot open the payment
	if _, err := env.Engine.CreatePayment(env.Ctx, otherDev, proj.ID); err == nil {
		t.Fatalf("expected forbidden for non-owner payment")
	}
}

func TestDeleteProjectBlockedByPayment(t *testing.T) {
	env := newTestEnv(t)
	proj, _ := committedProject(t, env)
	if _, err := env.Engine.CreatePayment(env.Ctx, client, proj.ID); err != nil {
		t.Fatal(err)
	}
	var conflict engine.ConflictError
	if err := env.Engine.DeleteProject(env.Ctx, client, proj.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict deleting paid project, got %v", err)
	}

	fresh, err := env.Engine.CreateProject(env.Ctx, client, engine.ProjectCreateOptions{
		Title: "scratch", Category: "misc", Budget: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, client, fresh.ID); err != nil {
		t.Fatalf("delete unpaid project: %v", err)
	}
}
