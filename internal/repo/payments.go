package repo

import (
	"context"
	"database/sql"

	"workbridge/internal/domain"
)

const paymentCols = `id,project_id,client_id,freelancer_id,total_amount,currency,service_charge,commission_fee,
total_stage_amount,total_stage_status,gateway_order_id,gateway_payment_id,gateway_signature,payment_method,
claimed_paid,claimed_paid_at,error_code,error_message,completed_at,
overall_status,release_amount,release_status,is_admin_management_fee,moderation_id,created_at,updated_at`

func scanPayment(scan func(dest ...any) error) (domain.Payment, error) {
	var p domain.Payment
	var freelancerID, orderID, paymentID, signature, method sql.NullString
	var claimedAt, errCode, errMsg, completedAt, moderationID sql.NullString
	var claimedPaid, adminFee int
	err := scan(&p.ID, &p.ProjectID, &p.ClientID, &freelancerID, &p.TotalAmount, &p.Currency,
		&p.ServiceCharge, &p.CommissionFee,
		&p.Total.Amount, &p.Total.Status, &orderID, &paymentID, &signature, &method,
		&claimedPaid, &claimedAt, &errCode, &errMsg, &completedAt,
		&p.OverallStatus, &p.ReleaseAmount, &p.ReleaseStatus, &adminFee, &moderationID,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.FreelancerID = strPtr(freelancerID)
	p.Total.GatewayOrderID = strPtr(orderID)
	p.Total.GatewayPaymentID = strPtr(paymentID)
	p.Total.GatewaySignature = strPtr(signature)
	p.Total.PaymentMethod = strPtr(method)
	p.Total.ClaimedPaid = claimedPaid != 0
	p.Total.ClaimedPaidAt = strPtr(claimedAt)
	p.Total.ErrorCode = strPtr(errCode)
	p.Total.ErrorMessage = strPtr(errMsg)
	p.Total.CompletedAt = strPtr(completedAt)
	p.IsAdminManagementFee = adminFee != 0
	p.ModerationID = strPtr(moderationID)
	return p, nil
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	exec := execer(r.DB, tx)
	_, err := exec(ctx, `INSERT INTO payments(id,project_id,client_id,freelancer_id,total_amount,currency,service_charge,commission_fee,
total_stage_amount,total_stage_status,overall_status,release_amount,release_status,is_admin_management_fee,moderation_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.ClientID, nullableStringPtr(p.FreelancerID), p.TotalAmount, p.Currency,
		p.ServiceCharge, p.CommissionFee,
		p.Total.Amount, p.Total.Status, p.OverallStatus, p.ReleaseAmount, p.ReleaseStatus,
		boolInt(p.IsAdminManagementFee), nullableStringPtr(p.ModerationID), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE id=?`, id)
	return scanPayment(row.Scan)
}

func (r Repo) GetPaymentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Payment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE id=?`, id)
	return scanPayment(row.Scan)
}

// GetMainPayment returns the project's single non-fee payment.
func (r Repo) GetMainPayment(ctx context.Context, projectID string) (domain.Payment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE project_id=? AND is_admin_management_fee=0`, projectID)
	return scanPayment(row.Scan)
}

func (r Repo) FindPaymentByOrderID(ctx context.Context, tx *sql.Tx, orderID string) (domain.Payment, error) {
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE gateway_order_id=?`, orderID)
	} else {
		row = r.DB.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE gateway_order_id=?`, orderID)
	}
	return scanPayment(row.Scan)
}

// ListPaymentsFor returns payments visible to the actor. Admins see all.
func (r Repo) ListPaymentsFor(ctx context.Context, actorID string, admin bool) ([]domain.Payment, error) {
	query := `SELECT ` + paymentCols + ` FROM payments WHERE client_id=? OR freelancer_id=? ORDER BY created_at DESC, id DESC`
	args := []any{actorID, actorID}
	if admin {
		query = `SELECT ` + paymentCols + ` FROM payments ORDER BY created_at DESC, id DESC`
		args = nil
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// AttachOrder records the gateway order against the collected stage. A paid
// stage is never downgraded, so the precondition excludes it.
func (r Repo) AttachOrder(ctx context.Context, tx *sql.Tx, paymentID, orderID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET gateway_order_id=?, total_stage_status=?, updated_at=?
WHERE id=? AND total_stage_status IN (?,?)`,
		orderID, domain.StageCreated, now,
		paymentID, domain.StagePending, domain.StageCreated)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkPaid promotes the collected stage to paid and the payment to final_paid.
// Idempotent callers decide what RowsAffected==0 means by re-reading the row.
func (r Repo) MarkPaid(ctx context.Context, tx *sql.Tx, paymentID string, gatewayPaymentID, signature, method, completedAt, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET total_stage_status=?, overall_status=?,
gateway_payment_id=?, gateway_signature=COALESCE(?,gateway_signature), payment_method=COALESCE(?,payment_method),
completed_at=?, error_code=NULL, error_message=NULL, updated_at=?
WHERE id=? AND total_stage_status IN (?,?)`,
		domain.StagePaid, domain.OverallFinalPaid,
		gatewayPaymentID, nullable(signature), nullable(method),
		completedAt, now,
		paymentID, domain.StagePending, domain.StageCreated)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed records a gateway failure. Paid stages are left alone.
func (r Repo) MarkFailed(ctx context.Context, tx *sql.Tx, paymentID, errCode, errMsg, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET total_stage_status=?, overall_status=?,
error_code=?, error_message=?, updated_at=?
WHERE id=? AND total_stage_status IN (?,?)`,
		domain.StageFailed, domain.OverallFailed,
		nullable(errCode), nullable(errMsg), now,
		paymentID, domain.StagePending, domain.StageCreated)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Release settles the payment toward the freelancer. Exclusive with Refund
// by the release_status precondition; requires funds to be collected first.
func (r Repo) Release(ctx context.Context, tx *sql.Tx, paymentID string, amount int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET release_status=?, overall_status=?, release_amount=?, updated_at=?
WHERE id=? AND release_status=? AND overall_status=?`,
		domain.ReleaseReleased, domain.OverallReleased, amount, now,
		paymentID, domain.ReleaseNone, domain.OverallFinalPaid)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Refund returns the payment to the client. Exclusive with Release; unlike
// Release it does not require collected funds, so a payment can be refunded
// (abandoned) from any state before settlement.
func (r Repo) Refund(ctx context.Context, tx *sql.Tx, paymentID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET release_status=?, overall_status=?, updated_at=?
WHERE id=? AND release_status=?`,
		domain.ReleaseRefunded, domain.OverallRefunded, now,
		paymentID, domain.ReleaseNone)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClaimPaid records the client's out-of-band "I have paid" assertion. It does
// not move the stage status; only counterparty confirmation does.
func (r Repo) ClaimPaid(ctx context.Context, tx *sql.Tx, paymentID, method, at string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET claimed_paid=1, claimed_paid_at=?, payment_method=?, updated_at=?
WHERE id=? AND total_stage_status IN (?,?)`,
		at, method, at,
		paymentID, domain.StagePending, domain.StageCreated)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ConfirmReceived promotes a claimed manual payment to paid.
func (r Repo) ConfirmReceived(ctx context.Context, tx *sql.Tx, paymentID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET total_stage_status=?, overall_status=?, completed_at=?, updated_at=?
WHERE id=? AND claimed_paid=1 AND total_stage_status IN (?,?)`,
		domain.StagePaid, domain.OverallFinalPaid, now, now,
		paymentID, domain.StagePending, domain.StageCreated)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateFees rewrites the fee columns while the collected stage is still
// unpaid. Fees are frozen once money has moved.
func (r Repo) UpdateFees(ctx context.Context, tx *sql.Tx, paymentID string, serviceCharge, commission, stageAmount int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payments SET service_charge=?, commission_fee=?, total_stage_amount=?, updated_at=?
WHERE id=? AND total_stage_status IN (?,?)`,
		serviceCharge, commission, stageAmount, now,
		paymentID, domain.StagePending, domain.StageCreated)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
