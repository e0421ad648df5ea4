// Package chat owns the conversation session: an append-only transcript of
// turns exchanged with the local model, guarded by a single-flight busy
// flag. One session exists per process; there are no concurrent
// conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/solace/internal/engine"
)

// Session failure kinds. Callers match with errors.Is; the UI treats
// ErrEmptyInput and ErrBusy as silent no-ops.
var (
	ErrEmptyInput       = errors.New("message is empty")
	ErrBusy             = errors.New("a reply is already in progress")
	ErrNotProvisioned   = errors.New("model is not provisioned")
	ErrCompletionFailed = errors.New("completion failed")
)

// Provisioner abstracts model acquisition for the session.
type Provisioner interface {
	EnsureModel(ctx context.Context) (engine.Handle, error)
}

// Recorder persists completed turns. Optional; persistence failures never
// fail a send.
type Recorder interface {
	Append(turns ...Turn) error
}

// State is a point-in-time snapshot of the session for rendering.
type State struct {
	Transcript       []Turn  `json:"transcript"`
	Busy             bool    `json:"busy"`
	LastError        string  `json:"last_error,omitempty"`
	DownloadProgress float64 `json:"download_progress"`
	Provisioned      bool    `json:"provisioned"`
}

// Config selects the per-deployment session parameters.
type Config struct {
	// Variant is "compact" or "full" and selects the generation cap.
	Variant string
	// Recorder, when non-nil, receives each completed user/assistant pair.
	Recorder Recorder
}

// Session is the single conversation owned by this process.
type Session struct {
	prov      Provisioner
	maxTokens int
	recorder  Recorder

	mu         sync.Mutex
	transcript []Turn
	busy       bool
	lastErr    string
	progress   float64
	handle     engine.Handle
}

// New creates a Session. The model is provisioned lazily on the first Send.
func New(prov Provisioner, cfg Config) *Session {
	return &Session{
		prov:      prov,
		maxTokens: maxTokensFor(cfg.Variant),
		recorder:  cfg.Recorder,
	}
}

// SetProgress records the model download ratio for State snapshots. Wire it
// to the provisioner's progress events.
func (s *Session) SetProgress(ratio float64) {
	s.mu.Lock()
	s.progress = ratio
	s.mu.Unlock()
}

// State returns a copy of the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	transcript := make([]Turn, len(s.transcript))
	copy(transcript, s.transcript)
	return State{
		Transcript:       transcript,
		Busy:             s.busy,
		LastError:        s.lastErr,
		DownloadProgress: s.progress,
		Provisioned:      s.handle != nil,
	}
}

// Send runs one conversational round: it appends the user turn, invokes the
// engine with the persona preamble plus the full transcript, and appends the
// assistant's reply. At most one Send is in flight at a time; a second call
// while busy returns ErrBusy without touching any state.
//
// If the completion fails after the user turn was appended, the user turn
// stays in the transcript with no assistant reply. That asymmetry is
// deliberate: the user said what they said, and the retry path is to send
// again.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	handle := s.handle
	s.mu.Unlock()

	// The flag must drop on every exit path, including provisioning and
	// completion failures.
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	if handle == nil {
		h, err := s.prov.EnsureModel(ctx)
		if err != nil {
			s.setError(err)
			return fmt.Errorf("%w: %w", ErrNotProvisioned, err)
		}
		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
		handle = h
	}

	userTurn := Turn{Role: RoleUser, Content: text}
	s.mu.Lock()
	s.transcript = append(s.transcript, userTurn)
	messages := make([]engine.Message, 0, len(s.transcript)+1)
	messages = append(messages, engine.Message{Role: string(RoleSystem), Content: personaPreamble})
	for _, t := range s.transcript {
		messages = append(messages, engine.Message{Role: string(t.Role), Content: t.Content})
	}
	s.mu.Unlock()

	result, err := handle.Complete(ctx, engine.CompletionRequest{
		Messages:  messages,
		MaxTokens: s.maxTokens,
		Stop:      stopSequences,
	}, nil)
	if err != nil {
		s.setError(err)
		return fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	reply := Turn{Role: RoleAssistant, Content: result.Text}
	s.mu.Lock()
	s.transcript = append(s.transcript, reply)
	s.lastErr = ""
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Append(userTurn, reply); err != nil {
			slog.Warn("recording turns failed", "error", err)
		}
	}
	return nil
}

// Clear empties the transcript and the last error. The engine handle is
// kept: the loaded model is reused across conversation resets.
func (s *Session) Clear() {
	s.mu.Lock()
	s.transcript = nil
	s.lastErr = ""
	s.mu.Unlock()
}

// setError replaces the displayed error message. Errors do not accumulate;
// the newest failure is the one the user sees.
func (s *Session) setError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}
