package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workbridge/internal/domain"
	"workbridge/internal/engine"
)

func registerChats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-chats",
		Method:      http.MethodGet,
		Path:        "/chats",
		Summary:     "List my chats",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Chat `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListChats(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Chat{}
		}
		return &struct {
			Body []domain.Chat `json:"body"`
		}{Body: items}, nil
	})

	type chatWithMessages struct {
		Chat     domain.Chat      `json:"chat"`
		Messages []domain.Message `json:"messages"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-chat",
		Method:      http.MethodGet,
		Path:        "/chats/{chat_id}",
		Summary:     "Get chat with messages",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ChatID string `path:"chat_id"`
	}) (*struct {
		Body chatWithMessages `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		chat, msgs, err := e.GetChatWithMessages(ctx, p, input.ChatID)
		if err != nil {
			return nil, handleError(err)
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return &struct {
			Body chatWithMessages `json:"body"`
		}{Body: chatWithMessages{Chat: chat, Messages: msgs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/chats/{chat_id}/messages",
		Summary:       "Send message",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ChatID string             `path:"chat_id"`
		Body   SendMessageRequest `json:"body"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msg, err := e.SendMessage(ctx, p, input.ChatID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: msg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-chat-participant",
		Method:      http.MethodPost,
		Path:        "/chats/{chat_id}/participants",
		Summary:     "Add chat participant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ChatID string                `path:"chat_id"`
		Body   AddParticipantRequest `json:"body"`
	}) (*struct {
		Body domain.Chat `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		chat, err := e.AddChatParticipant(ctx, p, input.ChatID, input.Body.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Chat `json:"body"`
		}{Body: chat}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-chat-participant",
		Method:      http.MethodDelete,
		Path:        "/chats/{chat_id}/participants/{actor_id}",
		Summary:     "Remove chat participant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ChatID  string `path:"chat_id"`
		ActorID string `path:"actor_id"`
	}) (*struct {
		Body domain.Chat `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		chat, err := e.RemoveChatParticipant(ctx, p, input.ChatID, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Chat `json:"body"`
		}{Body: chat}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-chat-read",
		Method:      http.MethodPost,
		Path:        "/chats/{chat_id}/read",
		Summary:     "Mark chat read",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ChatID string `path:"chat_id"`
	}) (*struct{}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkChatRead(ctx, p, input.ChatID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
