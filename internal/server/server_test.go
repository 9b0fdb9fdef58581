package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"workbridge/internal/config"
	"workbridge/internal/db"
	"workbridge/internal/domain"
	"workbridge/internal/engine"
	"workbridge/internal/engine/auth"
	"workbridge/internal/gateway"
	"workbridge/internal/migrate"
)

const testSecret = "test-jwt-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/orders" {
			var req struct {
				OrderID string `json:"order_id"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"order_id":           req.OrderID,
				"payment_session_id": "session_test",
				"order_status":       "ACTIVE",
			})
			return
		}
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Gateway.BaseURL = gw.URL
	cfg.Gateway.WebhookSecret = "whsec_test"
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			gw.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func bearer(t *testing.T, actorID string, role domain.Role) map[string]string {
	t.Helper()
	tok, err := IssueToken(testSecret, actorID, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// orderedPayment drives a project to the point where a gateway order exists,
// all through the engine, and returns the payment with its order id.
func orderedPayment(t *testing.T, srv *testServer) domain.Payment {
	t.Helper()
	ctx := context.Background()
	client := auth.Principal{ActorID: "client-1", Role: domain.RoleClient}
	dev := auth.Principal{ActorID: "dev-1", Role: domain.RoleFreelancer}
	proj, err := srv.Engine.CreateProject(ctx, client, engine.ProjectCreateOptions{
		Title: "Webhook target", Category: "dev", Budget: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Engine.Apply(ctx, dev, proj.ID, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Engine.ChooseApplicant(ctx, client, proj.ID, dev.ActorID); err != nil {
		t.Fatal(err)
	}
	chats, err := srv.Engine.ListChats(ctx, dev)
	if err != nil || len(chats) != 1 {
		t.Fatalf("chats: %v (%d)", err, len(chats))
	}
	if _, err := srv.Engine.ProceedWithFreelancer(ctx, client, chats[0].ID, 1000); err != nil {
		t.Fatal(err)
	}
	pay, err := srv.Engine.CreatePayment(ctx, client, proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	res, err := srv.Engine.CreateOrder(ctx, client, pay.ID)
	if err != nil {
		t.Fatal(err)
	}
	return res.Payment
}

func signedWebhook(t *testing.T, srv *testServer, body []byte, tamper bool) (*http.Response, []byte) {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := gateway.Sign("whsec_test", ts, body)
	if tamper {
		body = append(body, ' ')
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/payments/webhook", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-webhook-signature", sig)
	req.Header.Set("x-webhook-timestamp", ts)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	return res, data
}

func webhookBody(orderID, eventType string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type": eventType,
		"data": map[string]any{
			"order":   map[string]any{"order_id": orderID},
			"payment": map[string]any{"cf_payment_id": "cf_9", "payment_status": "SUCCESS", "payment_group": "upi"},
		},
	})
	return b
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, data)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		t.Fatalf("expected error envelope, got %s", data)
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestProjectEndpoints(t *testing.T) {
	srv := newTestServer(t)
	clientHdr := bearer(t, "client-1", domain.RoleClient)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title":    "API project",
		"category": "dev",
		"budget":   750,
	}, clientHdr)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var proj domain.Project
	if err := json.Unmarshal(data, &proj); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if proj.Status != domain.ProjectUnassigned || proj.CreatedBy != "client-1" {
		t.Fatalf("unexpected project: %+v", proj)
	}

	// freelancers may not post projects
	devHdr := bearer(t, "dev-1", domain.RoleFreelancer)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title": "nope", "category": "dev", "budget": 1,
	}, devHdr)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+proj.ID, nil, devHdr)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/missing", nil, devHdr)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}
}

func TestWebhookSettlesPayment(t *testing.T) {
	srv := newTestServer(t)
	pay := orderedPayment(t, srv)

	res, data := signedWebhook(t, srv, webhookBody(*pay.Total.GatewayOrderID, "PAYMENT_SUCCESS_WEBHOOK"), false)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("webhook status %d: %s", res.StatusCode, data)
	}
	var out engine.WebhookResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Status != "processed" || out.Payment.Total.Status != domain.StagePaid {
		t.Fatalf("unexpected webhook result: %+v", out)
	}

	// redelivery is reported as a duplicate, still 200
	res, data = signedWebhook(t, srv, webhookBody(*pay.Total.GatewayOrderID, "PAYMENT_SUCCESS_WEBHOOK"), false)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("redelivery status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Status != "duplicate" {
		t.Fatalf("expected duplicate, got %s", data)
	}
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	srv := newTestServer(t)
	pay := orderedPayment(t, srv)

	res, data := signedWebhook(t, srv, webhookBody(*pay.Total.GatewayOrderID, "PAYMENT_SUCCESS_WEBHOOK"), true)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for tampered body, got %d: %s", res.StatusCode, data)
	}

	cur, err := srv.Engine.Repo.GetPayment(context.Background(), pay.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Total.Status != domain.StageCreated {
		t.Fatalf("record touched by rejected webhook: %+v", cur.Total)
	}
}

func TestWebhookUnknownOrderIs404(t *testing.T) {
	srv := newTestServer(t)
	res, data := signedWebhook(t, srv, webhookBody("order_unknown", "PAYMENT_SUCCESS_WEBHOOK"), false)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d: %s", res.StatusCode, data)
	}
}
