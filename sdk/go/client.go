package workbridgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal WorkBridge HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Budget      int64  `json:"budget"`
	FinalBudget *int64 `json:"final_budget,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	CreatedBy   string `json:"created_by"`
	PaymentID   *string `json:"payment_id,omitempty"`
}

// Application represents a freelancer's application.
type Application struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	ApplicantID string `json:"applicant_id"`
	Status      string `json:"status"`
}

// PaymentStage holds a single collection stage.
type PaymentStage struct {
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// Payment represents the API payment model (partial).
type Payment struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	TotalAmount   int64        `json:"total_amount"`
	ServiceCharge int64        `json:"service_charge"`
	CommissionFee int64        `json:"commission_fee"`
	Total         PaymentStage `json:"total"`
	OverallStatus string       `json:"overall_status"`
	ReleaseStatus string       `json:"release_status"`
	ReleaseAmount int64        `json:"release_amount"`
	ModerationID  *string      `json:"moderation_id,omitempty"`
}

// OrderResult is returned when a gateway order is created.
type OrderResult struct {
	Payment      Payment `json:"payment"`
	OrderID      string  `json:"order_id"`
	SessionToken string  `json:"session_token"`
}

// VerifyResult is returned by payment verification.
type VerifyResult struct {
	Paid         bool    `json:"paid"`
	Payment      Payment `json:"payment"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Chat represents a conversation bound to a project.
type Chat struct {
	ID           string   `json:"id"`
	ProjectID    *string  `json:"project_id,omitempty"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Participants []string `json:"participants"`
	IsLocked     bool     `json:"is_locked"`
}

// Message represents a chat message.
type Message struct {
	ID       int64   `json:"id"`
	ChatID   string  `json:"chat_id"`
	SenderID *string `json:"sender_id,omitempty"`
	Content  string  `json:"content"`
	EventTag *string `json:"event_tag,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, title, description, category string, budget int64) (Project, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"category":    category,
		"budget":      budget,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListProjects returns projects, optionally filtered by status.
func (c *Client) ListProjects(ctx context.Context, status string) ([]Project, error) {
	endpoint := "projects"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Apply submits an application to a project.
func (c *Client) Apply(ctx context.Context, projectID, proposal string, expectedPayment *int64) (Application, error) {
	body := map[string]any{"proposal_summary": proposal}
	if expectedPayment != nil {
		body["expected_payment"] = *expectedPayment
	}
	var resp Application
	endpoint := fmt.Sprintf("projects/%s/applications", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ChooseApplicant shortlists an applicant for interviews.
func (c *Client) ChooseApplicant(ctx context.Context, projectID, applicantID string) (Application, error) {
	body := map[string]any{"applicant_id": applicantID}
	var resp Application
	endpoint := fmt.Sprintf("projects/%s/choose", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Proceed commits the project to the freelancer in the given chat.
func (c *Client) Proceed(ctx context.Context, projectID, chatID string, finalBudget int64) (Project, error) {
	body := map[string]any{"chat_id": chatID, "final_budget": finalBudget}
	var resp Project
	endpoint := fmt.Sprintf("projects/%s/proceed", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RequestAdminManagement opts the project into admin management and
// returns the moderation fee payment.
func (c *Client) RequestAdminManagement(ctx context.Context, projectID string) (Payment, error) {
	var resp Payment
	endpoint := fmt.Sprintf("projects/%s/admin-management", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CompleteProject marks a project completed.
func (c *Client) CompleteProject(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("projects/%s/complete", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CancelProject cancels a project.
func (c *Client) CancelProject(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("projects/%s/cancel", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreatePayment creates the escrow payment for a committed project.
func (c *Client) CreatePayment(ctx context.Context, projectID string) (Payment, error) {
	body := map[string]any{"project_id": projectID}
	var resp Payment
	err := c.do(ctx, http.MethodPost, "payments", body, &resp)
	return resp, err
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, id string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodGet, "payments/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateOrder opens a gateway order for a payment.
func (c *Client) CreateOrder(ctx context.Context, paymentID string) (OrderResult, error) {
	var resp OrderResult
	endpoint := fmt.Sprintf("payments/%s/order", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// VerifyPayment polls the gateway and settles the payment accordingly.
func (c *Client) VerifyPayment(ctx context.Context, paymentID string) (VerifyResult, error) {
	var resp VerifyResult
	endpoint := fmt.Sprintf("payments/%s/verify", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Release pays the freelancer out of a collected payment.
func (c *Client) Release(ctx context.Context, paymentID string) (Payment, error) {
	var resp Payment
	endpoint := fmt.Sprintf("payments/%s/release", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Refund returns a collected payment to the client.
func (c *Client) Refund(ctx context.Context, paymentID string) (Payment, error) {
	var resp Payment
	endpoint := fmt.Sprintf("payments/%s/refund", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ClaimPaid records that the client paid manually (e.g. UPI).
func (c *Client) ClaimPaid(ctx context.Context, paymentID, method string) (Payment, error) {
	body := map[string]any{"payment_method": method}
	var resp Payment
	endpoint := fmt.Sprintf("payments/%s/claim-paid", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ConfirmReceived settles a claimed manual payment.
func (c *Client) ConfirmReceived(ctx context.Context, paymentID string) (Payment, error) {
	var resp Payment
	endpoint := fmt.Sprintf("payments/%s/received", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// UPILink returns the UPI deeplink for manual collection.
func (c *Client) UPILink(ctx context.Context, paymentID string) (string, error) {
	var resp struct {
		Link string `json:"link"`
	}
	endpoint := fmt.Sprintf("payments/%s/upi-link", url.PathEscape(paymentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Link, err
}

// ListChats returns the caller's chats.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var resp []Chat
	err := c.do(ctx, http.MethodGet, "chats", nil, &resp)
	return resp, err
}

// GetChat fetches a chat and its messages.
func (c *Client) GetChat(ctx context.Context, chatID string) (Chat, []Message, error) {
	var resp struct {
		Chat     Chat      `json:"chat"`
		Messages []Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "chats/"+url.PathEscape(chatID), nil, &resp)
	return resp.Chat, resp.Messages, err
}

// SendMessage posts a message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID, content string) (Message, error) {
	body := map[string]any{"content": content}
	var resp Message
	endpoint := fmt.Sprintf("chats/%s/messages", url.PathEscape(chatID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// MarkChatRead marks all messages in a chat as read.
func (c *Client) MarkChatRead(ctx context.Context, chatID string) error {
	endpoint := fmt.Sprintf("chats/%s/read", url.PathEscape(chatID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// AddChatParticipant adds an actor to a chat. Admin only.
func (c *Client) AddChatParticipant(ctx context.Context, chatID, actorID string) (Chat, error) {
	body := map[string]any{"actor_id": actorID}
	var resp Chat
	endpoint := fmt.Sprintf("chats/%s/participants", url.PathEscape(chatID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RemoveChatParticipant removes an actor from a chat. Admin only.
func (c *Client) RemoveChatParticipant(ctx context.Context, chatID, actorID string) (Chat, error) {
	var resp Chat
	endpoint := fmt.Sprintf("chats/%s/participants/%s", url.PathEscape(chatID), url.PathEscape(actorID))
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
