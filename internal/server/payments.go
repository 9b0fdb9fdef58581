package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workbridge/internal/domain"
	"workbridge/internal/engine"
)

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-payment",
		Method:        http.MethodPost,
		Path:          "/payments",
		Summary:       "Create payment record",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePaymentRequest `json:"body"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.CreatePayment(ctx, p, input.Body.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: pay}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/payments",
		Summary:     "List payments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPaymentsFor(ctx, p.ActorID, p.IsAdmin())
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Payment{}
		}
		return &struct {
			Body []domain.Payment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/payments/{payment_id}",
		Summary:     "Get payment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.Repo.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.IsAdmin() && p.ActorID != pay.ClientID && (pay.FreelancerID == nil || p.ActorID != *pay.FreelancerID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "payment visibility required", nil)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: pay}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-payment",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/payment",
		Summary:     "Get project payment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.Repo.GetMainPayment(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.IsAdmin() && p.ActorID != pay.ClientID && (pay.FreelancerID == nil || p.ActorID != *pay.FreelancerID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "payment visibility required", nil)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: pay}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/payments/{payment_id}/order",
		Summary:       "Create gateway order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body engine.OrderResult `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CreateOrder(ctx, p, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.OrderResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/verify",
		Summary:     "Verify payment against gateway",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body engine.VerifyResult `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Verify(ctx, p, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.VerifyResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/release",
		Summary:     "Release payment to freelancer",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.Release(ctx, p, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: pay}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refund-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/refund",
		Summary:     "Refund payment to client",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.Refund(ctx, p, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: pay}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-paid",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/claim-paid",
		Summary:     "Claim manual payment made",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string          `path:"payment_id"`
		Body      ClaimPaidRequest `json:"body"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.MarkClaimedPaid(ctx, p, input.PaymentID, input.Body.PaymentMethod)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: pay}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-received",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/received",
		Summary:     "Confirm manual payment received",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body domain.Payment `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.MarkReceived(ctx, p, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Payment `json:"body"`
		}{Body: pay}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upi-link",
		Method:      http.MethodGet,
		Path:        "/payments/{payment_id}/upi-link",
		Summary:     "UPI deeplink for manual payment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		PaymentID string `path:"payment_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		link, err := e.UPIDeeplink(ctx, p, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"link": link}}, nil
	})
}
