package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"chatd/pkg/types"
)

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	return resp
}

func TestE2E_ChatRoundTrip(t *testing.T) {
	s := newStack(t, &fakeOllama{tokens: []string{"Hi", " there"}})

	resp := post(t, s.srv.URL+"/chat", `{"user_input":"Hello","model":"mistral","temperature":0.3}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%s", resp.StatusCode, b)
	}
	var out types.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Response != "Hi there" || out.ElapsedTime < 0 {
		t.Fatalf("unexpected response: %+v", out)
	}

	first := s.ollama.lastChat(t)
	if first.Stream || first.Model != "mistral" || len(first.Messages) != 2 {
		t.Fatalf("unexpected upstream request: %+v", first)
	}
	if first.Messages[0].Content != "You are a helpful assistant that always responds in English." {
		t.Fatalf("system instruction: %q", first.Messages[0].Content)
	}

	data, err := os.ReadFile(s.history.Path("mistral"))
	if err != nil {
		t.Fatalf("history file: %v", err)
	}
	if !strings.Contains(string(data), `"human"`) || !strings.Contains(string(data), "Hi there") {
		t.Fatalf("history file missing exchange: %s", data)
	}

	// The next turn carries the previous exchange as context.
	resp2 := post(t, s.srv.URL+"/chat", `{"user_input":"And again?"}`)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("second status=%d", resp2.StatusCode)
	}
	second := s.ollama.lastChat(t)
	if len(second.Messages) != 4 || second.Messages[1].Content != "Hello" || second.Messages[2].Content != "Hi there" {
		t.Fatalf("history not replayed: %+v", second.Messages)
	}
}

func TestE2E_StreamConcatenatesTokens(t *testing.T) {
	s := newStack(t, &fakeOllama{tokens: []string{"Hi", " there"}})

	resp := post(t, s.srv.URL+"/chat/stream", `{"user_input":"Hello","model":"tinyllama"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if resp.Header.Get("X-Stream-Id") == "" {
		t.Fatalf("missing X-Stream-Id header")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "Hi there" {
		t.Fatalf("stream body=%q", body)
	}
	if v := resp.Trailer.Get("X-Chat-Error"); v != "" {
		t.Fatalf("unexpected error trailer: %q", v)
	}
	if req := s.ollama.lastChat(t); !req.Stream {
		t.Fatalf("upstream request was not streamed")
	}
}

func TestE2E_StreamFailureAfterTokensSetsTrailer(t *testing.T) {
	s := newStack(t, &fakeOllama{tokens: []string{"Hi"}, streamErr: "out of memory"})

	resp := post(t, s.srv.URL+"/chat/stream", `{"user_input":"Hello"}`)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "Hi" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if v := resp.Trailer.Get("X-Chat-Error"); !strings.Contains(v, "out of memory") {
		t.Fatalf("trailer=%q", v)
	}
}

func TestE2E_TruncatedStreamIsNotSaved(t *testing.T) {
	s := newStack(t, &fakeOllama{tokens: []string{"Hi"}, truncate: true})

	resp := post(t, s.srv.URL+"/chat/stream", `{"user_input":"Hello"}`)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Hi" {
		t.Fatalf("body=%q", body)
	}
	if v := resp.Trailer.Get("X-Chat-Error"); v == "" {
		t.Fatalf("expected error trailer for truncated reply")
	}
	msgs, err := s.history.ReadAll(context.Background(), "mistral")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("truncated reply was saved: %v %v", msgs, err)
	}
}

func TestE2E_UnknownModelIsBadGateway(t *testing.T) {
	s := newStack(t, &fakeOllama{tokens: []string{"x"}})

	resp := post(t, s.srv.URL+"/chat", `{"user_input":"Hello","model":"missing"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var e types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Code != http.StatusBadGateway || e.Error == "" {
		t.Fatalf("unexpected error body: %+v", e)
	}
}

func TestE2E_ResetClearsHistory(t *testing.T) {
	s := newStack(t, &fakeOllama{tokens: []string{"ok"}})

	resp := post(t, s.srv.URL+"/chat", `{"user_input":"remember me"}`)
	resp.Body.Close()

	resp = post(t, s.srv.URL+"/reset", `{"model":"mistral"}`)
	defer resp.Body.Close()
	var out types.ResetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "ok" || out.Message != "Conversation reset for model mistral" {
		t.Fatalf("unexpected reset: %+v", out)
	}
	msgs, err := s.history.ReadAll(context.Background(), "mistral")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("history after reset: %v %v", msgs, err)
	}

	resp2 := post(t, s.srv.URL+"/chat", `{"user_input":"who am I?"}`)
	resp2.Body.Close()
	if got := s.ollama.lastChat(t).Messages; len(got) != 2 {
		t.Fatalf("expected fresh context after reset, got %d messages", len(got))
	}
}

func TestE2E_VectorMemoryRecallsEarlierExchange(t *testing.T) {
	s := newStack(t, &fakeOllama{tokens: []string{"Paris"}})

	resp := post(t, s.srv.URL+"/chat", `{"user_input":"capital of France?","use_vector_memory":true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	resp = post(t, s.srv.URL+"/chat", `{"user_input":"and of Italy?","use_vector_memory":true}`)
	resp.Body.Close()

	msgs := s.ollama.lastChat(t).Messages
	if len(msgs) != 4 || msgs[1].Content != "capital of France?" || msgs[2].Content != "Paris" {
		t.Fatalf("earlier exchange not recalled: %+v", msgs)
	}
}

func TestE2E_StatusAndProbes(t *testing.T) {
	s := newStack(t, &fakeOllama{})

	resp, err := http.Get(s.srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(s.srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Backend != "ollama" || !st.Ready || len(st.Handles) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

// TestE2E_LiveOllama talks to a real daemon. Skips unless CHATD_E2E_OLLAMA
// names its base URL and CHATD_E2E_MODEL a pulled model.
func TestE2E_LiveOllama(t *testing.T) {
	base, model := os.Getenv("CHATD_E2E_OLLAMA"), os.Getenv("CHATD_E2E_MODEL")
	if base == "" || model == "" {
		t.Skip("CHATD_E2E_OLLAMA / CHATD_E2E_MODEL not set")
	}
	live := wireStack(t, base).srv

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, live.URL+"/chat/stream",
		strings.NewReader(`{"user_input":"Write a haiku about the sea.","model":"`+model+`"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(strings.TrimSpace(string(body))) == 0 {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	t.Logf("haiku:\n%s", body)
}
