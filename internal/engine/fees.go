package engine

import (
	"context"
	"math"

	"workbridge/internal/domain"
)

// Fees is the breakdown computed for one payment record. Amounts are in the
// smallest practical unit of the configured currency, as int64.
type Fees struct {
	ServiceCharge int64 `json:"service_charge"`
	CommissionFee int64 `json:"commission_fee"`
	GrandTotal    int64 `json:"grand_total"`
}

// ComputeFees derives the fee breakdown for a base amount. The service charge
// applies only to admin-managed projects and is owed by the client on top of
// the base amount; the commission is informational at collection time and is
// deducted from the freelancer's side at release.
func (e Engine) ComputeFees(totalAmount int64, adminManaged bool) (Fees, error) {
	if totalAmount <= 0 {
		return Fees{}, validationf("amount must be positive")
	}
	var f Fees
	if adminManaged {
		f.ServiceCharge = roundPercent(totalAmount, e.Config.Fees.ServiceChargePercent)
	}
	f.CommissionFee = roundPercent(totalAmount, e.Config.Fees.CommissionPercent)
	f.GrandTotal = totalAmount + f.ServiceCharge
	return f, nil
}

func roundPercent(amount int64, percent int) int64 {
	return int64(math.Round(float64(amount) * float64(percent) / 100))
}

// RecomputeFees rewrites a payment's fee columns, e.g. after the project
// flips to admin management before any money moved. Frozen once paid.
func (e Engine) RecomputeFees(ctx context.Context, paymentID string, adminManaged bool) (domain.Payment, error) {
	pay, err := e.Repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if pay.Total.Status == domain.StagePaid {
		return domain.Payment{}, invalidStatef("fees are frozen once the payment is collected")
	}
	f, err := e.ComputeFees(pay.TotalAmount, adminManaged)
	if err != nil {
		return domain.Payment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateFees(ctx, tx, pay.ID, f.ServiceCharge, f.CommissionFee, f.GrandTotal, e.nowStr())
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, invalidStatef("fees are frozen once the payment is collected")
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return e.Repo.GetPayment(ctx, pay.ID)
}
