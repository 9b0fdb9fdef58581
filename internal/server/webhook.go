package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workbridge/internal/engine"
	"workbridge/internal/gateway"
)

// registerWebhook handles the gateway's asynchronous delivery. The route is
// auth-exempt; the signature over the raw body bytes is the authentication.
func registerWebhook(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "payment-webhook",
		Method:      http.MethodPost,
		Path:        "/payments/webhook",
		Summary:     "Payment gateway webhook",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Signature string `header:"x-webhook-signature"`
		Timestamp string `header:"x-webhook-timestamp"`
	}) (*struct {
		Body engine.WebhookResult `json:"body"`
	}, error) {
		raw := bodyBytes(ctx)
		secret := e.Config.Gateway.WebhookSecret
		if err := gateway.VerifyWebhookSignature(secret, input.Signature, input.Timestamp, raw); err != nil {
			return nil, handleError(err)
		}
		evt, err := engine.ParseWebhookEvent(raw)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ApplyWebhookEvent(ctx, evt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WebhookResult `json:"body"`
		}{Body: res}, nil
	})
}
