package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"workbridge/internal/domain"
	"workbridge/internal/engine/auth"
	"workbridge/internal/events"
	"workbridge/internal/repo"
)

// CreatePayment opens the escrow record for an assigned project. One non-fee
// record per project; the collected amount is the final budget plus the
// service charge when the project is admin managed.
func (e Engine) CreatePayment(ctx context.Context, p auth.Principal, projectID string) (domain.Payment, error) {
	proj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := auth.RequireOwner(p, proj.CreatedBy, "project"); err != nil {
		return domain.Payment{}, err
	}
	if proj.AssignedTo == nil {
		return domain.Payment{}, validationf("project %s has no assigned freelancer", projectID)
	}
	if _, err := e.Repo.GetMainPayment(ctx, projectID); err == nil {
		return domain.Payment{}, conflictf("payment record already exists for project %s", projectID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Payment{}, err
	}
	amount := proj.Budget
	if proj.FinalBudget != nil {
		amount = *proj.FinalBudget
	}
	fees, err := e.ComputeFees(amount, proj.HasRequestedAdminManagement)
	if err != nil {
		return domain.Payment{}, err
	}
	now := e.nowStr()
	pay := domain.Payment{
		ID:            uuid.New().String(),
		ProjectID:     proj.ID,
		ClientID:      proj.CreatedBy,
		FreelancerID:  proj.AssignedTo,
		TotalAmount:   amount,
		Currency:      e.Config.Currency,
		ServiceCharge: fees.ServiceCharge,
		CommissionFee: fees.CommissionFee,
		Total: domain.PaymentStage{
			Amount: fees.GrandTotal,
			Status: domain.StagePending,
		},
		OverallStatus: domain.OverallPending,
		ReleaseStatus: domain.ReleaseNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertPayment(ctx, tx, pay); err != nil {
		return domain.Payment{}, err
	}
	if err := e.Repo.SetProjectPayment(ctx, tx, proj.ID, pay.ID, now); err != nil {
		return domain.Payment{}, err
	}
	if err := e.Events.Append(ctx, tx, "payment.created", proj.ID, "payment", pay.ID, p.ActorID, events.EventPayload{
		"amount":         pay.TotalAmount,
		"service_charge": pay.ServiceCharge,
		"grand_total":    pay.Total.Amount,
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return pay, nil
}

// OrderResult is what the client needs to open the hosted checkout.
type OrderResult struct {
	Payment      domain.Payment `json:"payment"`
	OrderID      string         `json:"order_id"`
	SessionToken string         `json:"session_token"`
}

// CreateOrder mints a gateway order for the collected stage. Repeatable while
// unpaid; the latest order wins. A gateway timeout leaves the record as it
// was.
func (e Engine) CreateOrder(ctx context.Context, p auth.Principal, paymentID string) (OrderResult, error) {
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return OrderResult{}, err
	}
	if err := auth.RequireOwner(p, pay.ClientID, "payment"); err != nil {
		return OrderResult{}, err
	}
	if pay.Total.Status == domain.StagePaid {
		return OrderResult{}, validationf("payment %s is already collected", paymentID)
	}
	orderID := "order_" + uuid.New().String()
	order, err := e.Gateway.CreateOrder(ctx, orderID, pay.Total.Amount, pay.Currency, pay.ClientID)
	if err != nil {
		return OrderResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OrderResult{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.AttachOrder(ctx, tx, pay.ID, order.OrderID, e.nowStr())
	if err != nil {
		return OrderResult{}, err
	}
	if !ok {
		// collected while we were talking to the gateway
		return OrderResult{}, conflictf("payment %s is already collected", paymentID)
	}
	if err := e.Events.Append(ctx, tx, "payment.order_created", pay.ProjectID, "payment", pay.ID, p.ActorID, events.EventPayload{
		"order_id": order.OrderID,
	}); err != nil {
		return OrderResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return OrderResult{}, err
	}
	pay, err = e.Repo.GetPayment(ctx, pay.ID)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{Payment: pay, OrderID: order.OrderID, SessionToken: order.SessionToken}, nil
}

// VerifyResult reports the settled truth after consulting the gateway.
type VerifyResult struct {
	Paid         bool           `json:"paid"`
	Payment      domain.Payment `json:"payment"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Verify asks the gateway what actually happened to the order and settles the
// record accordingly. The caller's claims are never trusted. Idempotent: a
// record already paid is returned as is, and a stale failure report can never
// downgrade a paid record.
func (e Engine) Verify(ctx context.Context, p auth.Principal, paymentID string) (VerifyResult, error) {
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return VerifyResult{}, err
	}
	if err := auth.RequireOwner(p, pay.ClientID, "payment"); err != nil {
		return VerifyResult{}, err
	}
	if pay.Total.Status == domain.StagePaid {
		return VerifyResult{Paid: true, Payment: pay}, nil
	}
	if pay.Total.GatewayOrderID == nil {
		return VerifyResult{}, validationf("payment %s has no gateway order", paymentID)
	}
	attempts, err := e.Gateway.FetchPayments(ctx, *pay.Total.GatewayOrderID)
	if err != nil {
		return VerifyResult{}, err
	}
	for _, a := range attempts {
		if a.Succeeded() {
			pay, _, err = e.settlePaid(ctx, pay.ID, pay.ProjectID, p.ActorID, a.PaymentID, "", a.Method, a.CompletedAt)
			if err != nil {
				return VerifyResult{}, err
			}
			return VerifyResult{Paid: pay.Total.Status == domain.StagePaid, Payment: pay}, nil
		}
	}
	for _, a := range attempts {
		if a.Failed() {
			pay, _, err = e.settleFailed(ctx, pay.ID, pay.ProjectID, p.ActorID, a.ErrorCode, a.ErrorMessage)
			if err != nil {
				return VerifyResult{}, err
			}
			return VerifyResult{Paid: false, Payment: pay, ErrorCode: a.ErrorCode, ErrorMessage: a.ErrorMessage}, nil
		}
	}
	return VerifyResult{Paid: false, Payment: pay}, nil
}

// settlePaid promotes the record to collected. Lost races resolve by re-read:
// if someone else already settled it this is a no-op and applied is false.
// The no-op re-read stays on the open transaction; a pool read here would
// block on the connection still holding the write.
func (e Engine) settlePaid(ctx context.Context, paymentID, projectID, actorID, gatewayPaymentID, signature, method, completedAt string) (domain.Payment, bool, error) {
	if completedAt == "" {
		completedAt = e.nowStr()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, false, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.MarkPaid(ctx, tx, paymentID, gatewayPaymentID, signature, method, completedAt, e.nowStr())
	if err != nil {
		return domain.Payment{}, false, err
	}
	if !ok {
		pay, err := e.Repo.GetPaymentTx(ctx, tx, paymentID)
		return pay, false, err
	}
	if err := e.Events.Append(ctx, tx, "payment.paid", projectID, "payment", paymentID, actorID, events.EventPayload{
		"gateway_payment_id": gatewayPaymentID,
		"method":             method,
	}); err != nil {
		return domain.Payment{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, false, err
	}
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	return pay, true, err
}

func (e Engine) settleFailed(ctx context.Context, paymentID, projectID, actorID, errCode, errMsg string) (domain.Payment, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, false, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.MarkFailed(ctx, tx, paymentID, errCode, errMsg, e.nowStr())
	if err != nil {
		return domain.Payment{}, false, err
	}
	if !ok {
		pay, err := e.Repo.GetPaymentTx(ctx, tx, paymentID)
		return pay, false, err
	}
	if err := e.Events.Append(ctx, tx, "payment.failed", projectID, "payment", paymentID, actorID, events.EventPayload{
		"error_code":    errCode,
		"error_message": errMsg,
	}); err != nil {
		return domain.Payment{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, false, err
	}
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	return pay, true, err
}

// WebhookEvent is the provider's asynchronous notification, decoded after the
// signature over the raw bytes has been verified.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment struct {
			PaymentID    string `json:"cf_payment_id"`
			Status       string `json:"payment_status"`
			Method       string `json:"payment_group"`
			Time         string `json:"payment_time"`
			ErrorCode    string `json:"error_code"`
			ErrorMessage string `json:"error_description"`
		} `json:"payment"`
	} `json:"data"`
}

// ParseWebhookEvent decodes a verified webhook body.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, validationf("malformed webhook payload: %v", err)
	}
	if evt.Data.Order.OrderID == "" {
		return evt, validationf("webhook payload has no order id")
	}
	return evt, nil
}

// WebhookResult says what the delivery did.
type WebhookResult struct {
	Status  string         `json:"status" enum:"processed,duplicate,ignored"`
	Payment domain.Payment `json:"payment"`
}

// ApplyWebhookEvent settles the record the webhook points at. Deliveries are
// retried by the provider, so a duplicate is a recognized no-op, and webhook
// and synchronous verification may arrive in either order and must agree.
func (e Engine) ApplyWebhookEvent(ctx context.Context, evt WebhookEvent) (WebhookResult, error) {
	pay, err := e.Repo.FindPaymentByOrderID(ctx, nil, evt.Data.Order.OrderID)
	if err != nil {
		return WebhookResult{}, err
	}
	switch evt.Type {
	case "PAYMENT_SUCCESS_WEBHOOK":
		if pay.Total.Status == domain.StagePaid {
			return WebhookResult{Status: "duplicate", Payment: pay}, nil
		}
		pay, applied, err := e.settlePaid(ctx, pay.ID, pay.ProjectID, "gateway", evt.Data.Payment.PaymentID, "", evt.Data.Payment.Method, evt.Data.Payment.Time)
		if err != nil {
			return WebhookResult{}, err
		}
		if !applied {
			// the record settled some other way between our read and the update
			return WebhookResult{Status: "duplicate", Payment: pay}, nil
		}
		return WebhookResult{Status: "processed", Payment: pay}, nil
	case "PAYMENT_FAILED_WEBHOOK":
		if pay.Total.Status == domain.StagePaid || pay.Total.Status == domain.StageFailed {
			return WebhookResult{Status: "duplicate", Payment: pay}, nil
		}
		pay, applied, err := e.settleFailed(ctx, pay.ID, pay.ProjectID, "gateway", evt.Data.Payment.ErrorCode, evt.Data.Payment.ErrorMessage)
		if err != nil {
			return WebhookResult{}, err
		}
		if !applied {
			return WebhookResult{Status: "duplicate", Payment: pay}, nil
		}
		return WebhookResult{Status: "processed", Payment: pay}, nil
	default:
		return WebhookResult{Status: "ignored", Payment: pay}, nil
	}
}

// Release settles collected funds toward the freelancer, minus the service
// charge and the commission. Terminal and exclusive with Refund.
func (e Engine) Release(ctx context.Context, p auth.Principal, paymentID string) (domain.Payment, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return domain.Payment{}, err
	}
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	amount := pay.TotalAmount - pay.ServiceCharge - pay.CommissionFee
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.Release(ctx, tx, pay.ID, amount, e.nowStr())
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		// re-read on the transaction's own connection; a pool read here
		// would block behind the failed conditional update
		cur, err := e.Repo.GetPaymentTx(ctx, tx, pay.ID)
		if err != nil {
			return domain.Payment{}, err
		}
		if cur.ReleaseStatus != domain.ReleaseNone {
			return domain.Payment{}, conflictf("payment %s is already %s", paymentID, cur.ReleaseStatus)
		}
		return domain.Payment{}, invalidStatef("payment %s is not collected yet (%s)", paymentID, cur.OverallStatus)
	}
	if err := e.Events.Append(ctx, tx, "payment.released", pay.ProjectID, "payment", pay.ID, p.ActorID, events.EventPayload{
		"release_amount": amount,
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return e.Repo.GetPayment(ctx, pay.ID)
}

// Refund returns the payment to the client. Terminal and exclusive with
// Release, but unlike Release it does not require collected funds: an
// abandoned payment can be refunded from any state before settlement.
func (e Engine) Refund(ctx context.Context, p auth.Principal, paymentID string) (domain.Payment, error) {
	if err := auth.RequireAdmin(p); err != nil {
		return domain.Payment{}, err
	}
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.Refund(ctx, tx, pay.ID, e.nowStr())
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		// the only precondition is release_status, so a failed update means
		// the payment is already terminal
		cur, err := e.Repo.GetPaymentTx(ctx, tx, pay.ID)
		if err != nil {
			return domain.Payment{}, err
		}
		return domain.Payment{}, conflictf("payment %s is already %s", paymentID, cur.ReleaseStatus)
	}
	if err := e.Events.Append(ctx, tx, "payment.refunded", pay.ProjectID, "payment", pay.ID, p.ActorID, events.EventPayload{}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return e.Repo.GetPayment(ctx, pay.ID)
}

// MarkClaimedPaid records the client's assertion that an out-of-band payment
// was made. It flips a flag only; the counterparty's confirmation moves money
// state.
func (e Engine) MarkClaimedPaid(ctx context.Context, p auth.Principal, paymentID, method string) (domain.Payment, error) {
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := auth.RequireActor(p, pay.ClientID, "paying client"); err != nil {
		return domain.Payment{}, err
	}
	if method == "" {
		method = "upi"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.ClaimPaid(ctx, tx, pay.ID, method, e.nowStr())
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, conflictf("payment %s is already settled", paymentID)
	}
	if err := e.Events.Append(ctx, tx, "payment.claimed_paid", pay.ProjectID, "payment", pay.ID, p.ActorID, events.EventPayload{
		"method": method,
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return e.Repo.GetPayment(ctx, pay.ID)
}

// MarkReceived is the counterparty's confirmation of a claimed manual
// payment: the freelancer for regular payments, an admin for management
// fees. Confirming an already collected payment is a no-op.
func (e Engine) MarkReceived(ctx context.Context, p auth.Principal, paymentID string) (domain.Payment, error) {
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if pay.IsAdminManagementFee {
		if err := auth.RequireAdmin(p); err != nil {
			return domain.Payment{}, err
		}
	} else {
		if pay.FreelancerID == nil {
			return domain.Payment{}, validationf("payment %s has no freelancer to confirm it", paymentID)
		}
		if err := auth.RequireActor(p, *pay.FreelancerID, "receiving freelancer"); err != nil {
			return domain.Payment{}, err
		}
	}
	if pay.Total.Status == domain.StagePaid {
		return pay, nil
	}
	if !pay.Total.ClaimedPaid {
		return domain.Payment{}, validationf("payment %s was not claimed paid by the client", paymentID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.ConfirmReceived(ctx, tx, pay.ID, e.nowStr())
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		// settled between our read and the update; report what is there now
		return e.Repo.GetPaymentTx(ctx, tx, pay.ID)
	}
	if err := e.Events.Append(ctx, tx, "payment.received", pay.ProjectID, "payment", pay.ID, p.ActorID, events.EventPayload{}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return e.Repo.GetPayment(ctx, pay.ID)
}

// UPIDeeplink builds the manual-payment deeplink for a payment, used for
// admin management fees paid over UPI.
func (e Engine) UPIDeeplink(ctx context.Context, p auth.Principal, paymentID string) (string, error) {
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if err := auth.RequireOwner(p, pay.ClientID, "payment"); err != nil {
		return "", err
	}
	payee := e.Config.AdminManagement.UPIID
	if payee == "" {
		return "", validationf("no UPI payee configured")
	}
	note := "payment " + pay.ID
	if pay.ModerationID != nil {
		note = *pay.ModerationID
	}
	q := url.Values{}
	q.Set("pa", payee)
	q.Set("am", fmt.Sprintf("%d", pay.TotalAmount))
	q.Set("cu", pay.Currency)
	q.Set("tn", note)
	return "upi://pay?" + q.Encode(), nil
}
