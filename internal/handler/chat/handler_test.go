package chat

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/daadii/onechat/backend/internal/middleware"
	"github.com/daadii/onechat/backend/internal/service/auth"
	chatservice "github.com/daadii/onechat/backend/internal/service/chat"
	"github.com/daadii/onechat/backend/internal/service/endpoint"
	"github.com/daadii/onechat/backend/internal/service/persistence"
	"github.com/daadii/onechat/backend/internal/store"
)

const doneFrame = "data: [DONE]\n\n"

func deltaFrame(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": content}}},
	})
	return "data: " + string(payload) + "\n\n"
}

type fixture struct {
	router *chi.Mux
	token  string
}

func setupRouter(t *testing.T, model http.HandlerFunc) fixture {
	t.Helper()
	modelSrv := httptest.NewServer(model)
	t.Cleanup(modelSrv.Close)

	identity := auth.ContextIdentity{}
	adapter := persistence.New(store.NewMemoryStore(), identity, 0)
	registry := chatservice.NewRegistry(adapter, endpoint.New(modelSrv.URL, nil), identity)

	verifier := auth.NewJWTVerifier([]byte("secret"))
	token, err := verifier.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.NewAuthenticator(verifier, nil).Handler)
	New(registry).RegisterRoutes(r)
	return fixture{router: r, token: token}
}

func (f fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f fixture) transcript(t *testing.T) TranscriptView {
	t.Helper()
	resp := f.do(http.MethodGet, "/chat/transcript", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view TranscriptView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	return view
}

func replyWith(deltas ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			io.WriteString(w, deltaFrame(d))
		}
		io.WriteString(w, doneFrame)
	}
}

func TestSendRelaysTranscriptEvents(t *testing.T) {
	f := setupRouter(t, replyWith("Hel", "lo"))

	resp := f.do(http.MethodPost, "/chat/messages", map[string]string{"text": "hi"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	body := resp.Body.String()
	for _, want := range []string{
		"event: transcript\ndata: {\"kind\":\"append\"",
		"\"content\":\"Hello\"",
		"event: state\ndata: {\"state\":\"streaming\"}",
		"event: settled",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body:\n%s", want, body)
		}
	}
	if !strings.HasPrefix(body[strings.LastIndex(body, "event: "):], "event: settled") {
		t.Fatalf("expected settled to be the last event:\n%s", body)
	}

	view := f.transcript(t)
	if len(view.Messages) != 2 || view.Messages[1].Content != "Hello" {
		t.Fatalf("unexpected transcript %+v", view.Messages)
	}
	if view.ConversationID == "" {
		t.Fatal("expected conversation id after send")
	}
}

func TestSendRateLimitedEndsWithNotice(t *testing.T) {
	f := setupRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	body := f.do(http.MethodPost, "/chat/messages", map[string]string{"text": "hi"}).Body.String()
	if !strings.Contains(body, "event: notice") || !strings.Contains(body, "Rate Limit Exceeded") {
		t.Fatalf("expected rate limit notice:\n%s", body)
	}
	if strings.Contains(body, "event: settled") {
		t.Fatalf("did not expect settled:\n%s", body)
	}
	if n := len(f.transcript(t).Messages); n != 0 {
		t.Fatalf("expected rollback to empty transcript, got %d messages", n)
	}
}

func TestSendRejectsEmptyText(t *testing.T) {
	f := setupRouter(t, replyWith("x"))

	resp := f.do(http.MethodPost, "/chat/messages", map[string]string{"text": "  "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendWhileBusyConflicts(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := setupRouter(t, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		replyWith("late")(w, r)
	})

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- f.do(http.MethodPost, "/chat/messages", map[string]string{"text": "one"}) }()
	<-entered

	if resp := f.do(http.MethodPost, "/chat/messages", map[string]string{"text": "two"}); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if resp := f.do(http.MethodPost, "/chat/new", nil); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for new conversation, got %d", resp.Code)
	}

	close(release)
	if resp := <-first; !strings.Contains(resp.Body.String(), "event: settled") {
		t.Fatalf("first send did not settle:\n%s", resp.Body.String())
	}
}

func TestNewConversationClearsTranscript(t *testing.T) {
	f := setupRouter(t, replyWith("ok"))
	f.do(http.MethodPost, "/chat/messages", map[string]string{"text": "hi"})

	resp := f.do(http.MethodPost, "/chat/new", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	view := f.transcript(t)
	if len(view.Messages) != 0 || view.ConversationID != "" {
		t.Fatalf("expected cleared session, got %+v", view)
	}
}

func TestComingSoonStubs(t *testing.T) {
	f := setupRouter(t, replyWith("x"))

	for _, path := range []string{"/attachments", "/voice"} {
		resp := f.do(http.MethodPost, path, nil)
		if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Coming soon") {
			t.Fatalf("%s: unexpected response %d %s", path, resp.Code, resp.Body.String())
		}
	}
}

func TestRequiresAuthentication(t *testing.T) {
	f := setupRouter(t, replyWith("x"))

	req := httptest.NewRequest(http.MethodGet, "/chat/transcript", nil)
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
