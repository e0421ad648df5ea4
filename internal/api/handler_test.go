package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/solace/internal/chat"
	"github.com/kalambet/solace/internal/engine"
	"github.com/kalambet/solace/internal/provision"
)

// --- mocks ---

type stubHandle func(ctx context.Context, req engine.CompletionRequest) (engine.CompletionResult, error)

func (f stubHandle) Complete(ctx context.Context, req engine.CompletionRequest, _ func(string)) (engine.CompletionResult, error) {
	return f(ctx, req)
}

type stubProvisioner struct {
	handle  engine.Handle
	err     error
	status  provision.Status
	ensured int
}

func (p *stubProvisioner) EnsureModel(context.Context) (engine.Handle, error) {
	p.ensured++
	return p.handle, p.err
}

func (p *stubProvisioner) Status() provision.Status { return p.status }

func echoHandle(reply string) engine.Handle {
	return stubHandle(func(context.Context, engine.CompletionRequest) (engine.CompletionResult, error) {
		return engine.CompletionResult{Text: reply}, nil
	})
}

func newTestHandler(h engine.Handle) (http.Handler, *chat.Session) {
	prov := &stubProvisioner{handle: h}
	sess := chat.New(prov, chat.Config{})
	return NewHandler(sess, prov), sess
}

func postChat(t *testing.T, handler http.Handler, message string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(string(body)))
	handler.ServeHTTP(rr, req)
	return rr
}

// --- tests ---

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(echoHandle("hi"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestChat_ReturnsReply(t *testing.T) {
	h, _ := newTestHandler(echoHandle("I hear you."))

	rr := postChat(t, h, "I'm so stressed")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Reply != "I hear you." {
		t.Errorf("reply = %q, want %q", resp.Reply, "I hear you.")
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	h, sess := newTestHandler(echoHandle("hi"))

	rr := postChat(t, h, "   ")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	if n := len(sess.State().Transcript); n != 0 {
		t.Errorf("transcript has %d turns after rejected input, want 0", n)
	}
}

func TestChat_InvalidBody(t *testing.T) {
	h, _ := newTestHandler(echoHandle("hi"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader("{not json"))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestChat_BusyConflict(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := stubHandle(func(context.Context, engine.CompletionRequest) (engine.CompletionResult, error) {
		close(entered)
		<-release
		return engine.CompletionResult{Text: "done"}, nil
	})
	h, _ := newTestHandler(blocking)

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() { firstDone <- postChat(t, h, "first") }()
	<-entered

	rr := postChat(t, h, "second")
	if rr.Code != http.StatusConflict {
		t.Errorf("concurrent chat status = %d, want %d", rr.Code, http.StatusConflict)
	}

	close(release)
	if first := <-firstDone; first.Code != http.StatusOK {
		t.Fatalf("first chat status = %d, want %d", first.Code, http.StatusOK)
	}
}

func TestChat_NotProvisioned(t *testing.T) {
	prov := &stubProvisioner{err: errors.New("download failed: no route to host")}
	sess := chat.New(prov, chat.Config{})
	h := NewHandler(sess, prov)

	rr := postChat(t, h, "hello")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestChat_CompletionFailed(t *testing.T) {
	failing := stubHandle(func(context.Context, engine.CompletionRequest) (engine.CompletionResult, error) {
		return engine.CompletionResult{}, errors.New("engine crashed")
	})
	h, sess := newTestHandler(failing)

	rr := postChat(t, h, "hello")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}

	st := sess.State()
	if len(st.Transcript) != 1 || st.Transcript[0].Role != chat.RoleUser {
		t.Errorf("transcript = %+v, want just the user turn", st.Transcript)
	}
}

func TestState(t *testing.T) {
	h, _ := newTestHandler(echoHandle("hello there"))

	if rr := postChat(t, h, "hi"); rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var st chat.State
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if len(st.Transcript) != 2 {
		t.Errorf("transcript has %d turns, want 2", len(st.Transcript))
	}
	if st.Busy {
		t.Error("busy = true in settled state")
	}
}

func TestClear(t *testing.T) {
	h, sess := newTestHandler(echoHandle("hi"))

	if rr := postChat(t, h, "hello"); rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/clear", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if n := len(sess.State().Transcript); n != 0 {
		t.Errorf("transcript has %d turns after clear, want 0", n)
	}
}

func TestModel_ReportsStatus(t *testing.T) {
	prov := &stubProvisioner{
		handle: echoHandle("hi"),
		status: provision.Status{State: provision.StateReady, Path: "/models/m.gguf"},
	}
	sess := chat.New(prov, chat.Config{})
	h := NewHandler(sess, prov)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/model", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var st provision.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.State != provision.StateReady {
		t.Errorf("state = %q, want %q", st.State, provision.StateReady)
	}
}

func TestProvision_Accepted(t *testing.T) {
	prov := &stubProvisioner{handle: echoHandle("hi")}
	sess := chat.New(prov, chat.Config{})
	h := NewHandler(sess, prov)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/provision", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
}

func TestSuggestions(t *testing.T) {
	h, _ := newTestHandler(echoHandle("hi"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/suggestions", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding suggestions: %v", err)
	}
	if len(body.Suggestions) == 0 {
		t.Error("no suggestions returned")
	}
}
