package specialist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/router"
)

func TestRunFormatsNote(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Draft text.  "}}]}`))
	}))
	defer srv.Close()

	client := chatprovider.New(srv.URL, "", 5*time.Second)
	profile := router.Profile{ID: "email_writer", Name: "email_writer", SystemPrompt: "You draft emails."}

	res, err := Run(context.Background(), client, "test-model", profile, "draft an email to the team")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "Draft text." {
		t.Errorf("Text = %q, want trimmed %q", res.Text, "Draft text.")
	}
	wantNote := "Specialist agent (email_writer) output:\nDraft text.\nUse this as draft guidance and respond to the user."
	if res.Note != wantNote {
		t.Errorf("Note = %q, want %q", res.Note, wantNote)
	}

	if gotBody["temperature"] != 0.2 {
		t.Errorf("temperature = %v, want 0.2", gotBody["temperature"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2 entries", msgs)
	}
}

func TestRunNoChoicesIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := chatprovider.New(srv.URL, "", 5*time.Second)
	profile := router.Profile{ID: "research", Name: "research", SystemPrompt: "Research."}
	_, err := Run(context.Background(), client, "m", profile, "research solar panels")
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("err = %v, want 'no choices' error", err)
	}
}
