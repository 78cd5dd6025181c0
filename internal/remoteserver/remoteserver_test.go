package remoteserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/etjones22/workshop/internal/agentloop"
	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/sandbox"
)

// fakeChatServer serves a one-chunk SSE stream, since remoteserver always
// registers an OnToken observer and therefore always drives agentloop's
// streaming path (chatStream), never the unary Chat call.
func fakeChatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", reply)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func noTools(sandbox.Root) []agentloop.Tool { return nil }

func newTestServer(t *testing.T, chatURL, token string) *Server {
	t.Helper()
	client := chatprovider.New(chatURL, "test-key", 0)
	return New(Config{
		Client:      client,
		Model:       "test-model",
		BaseDir:     t.TempDir(),
		Token:       token,
		AutoApprove: true,
		Tools:       noTools,
		Now:         func() time.Time { return time.Unix(0, 0).UTC() },
	})
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "secret")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "secret")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/session", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateSessionWithValidToken(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "secret")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, _ := http.NewRequest("POST", ts.URL+"/session", strings.NewReader(`{"userId":"al ice!"}`))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SessionID == "" {
		t.Error("expected a non-empty sessionId")
	}
}

func TestResetUnknownSessionReturns404(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/reset", "application/json", strings.NewReader(`{"sessionId":"nope"}`))
	if err != nil {
		t.Fatalf("POST /reset: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatStreamsSessionTokenAndDoneEvents(t *testing.T) {
	chatSrv := fakeChatServer(t, "Hello there.")
	defer chatSrv.Close()

	srv := newTestServer(t, chatSrv.URL, "")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("POST /chat: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}

	if len(events) == 0 {
		t.Fatal("expected at least one SSE event")
	}
	var sawSession, sawDone, sawToken bool
	for _, e := range events {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(e), &decoded); err != nil {
			t.Fatalf("invalid SSE event JSON %q: %v", e, err)
		}
		switch decoded["type"] {
		case "session":
			sawSession = true
		case "token":
			sawToken = true
			if decoded["token"] != "Hello there." {
				t.Errorf("token = %v, want %q", decoded["token"], "Hello there.")
			}
		case "done":
			sawDone = true
		}
	}
	if !sawSession {
		t.Error("expected a session event for a new session")
	}
	if !sawToken {
		t.Error("expected a token event carrying the streamed content")
	}
	if !sawDone {
		t.Error("expected a done event on success")
	}
}

func TestChatRejectsBusySession(t *testing.T) {
	chatSrv := fakeChatServer(t, "ok")
	defer chatSrv.Close()

	srv := newTestServer(t, chatSrv.URL, "")
	rec, id, err := srv.newSession("default")
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	rec.mu.Lock()
	rec.busy = true
	rec.mu.Unlock()

	ts := httptest.NewServer(srv)
	defer ts.Close()

	body := `{"sessionId":"` + id + `","message":"hi"}`
	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestSanitizeUserID(t *testing.T) {
	cases := map[string]string{
		"":           "default",
		"al ice!":    "al_ice_",
		"bob-123_OK": "bob-123_OK",
	}
	for in, want := range cases {
		if got := sanitizeUserID(in); got != want {
			t.Errorf("sanitizeUserID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeUserIDTruncatesTo64(t *testing.T) {
	got := sanitizeUserID(strings.Repeat("a", 100))
	if len(got) != 64 {
		t.Errorf("len = %d, want 64", len(got))
	}
}
