package engine

import "context"

// Message is one turn of conversational context sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes a single chat completion call.
type CompletionRequest struct {
	Messages  []Message
	MaxTokens int
	Stop      []string
}

// CompletionResult holds the assistant text produced for one request.
type CompletionResult struct {
	Text string
}

// Handle is the capability a conversation session holds on a loaded model.
// It exposes completion and nothing else, so alternate inference backends
// can be substituted behind the same contract.
type Handle interface {
	// Complete sends the full conversational context to the model and
	// returns the assistant's reply. When onToken is non-nil the response
	// is streamed and each token is delivered through the callback before
	// the assembled result is returned.
	Complete(ctx context.Context, req CompletionRequest, onToken func(string)) (CompletionResult, error)
}

// Config holds the initialization parameters for the inference server.
// The values are fixed per deployment; only ModelPath varies at runtime.
type Config struct {
	ModelPath      string
	ContextWindow  int
	UseMlock       bool
	GPULayers      int
	ReportProgress bool

	// ServerBin is the llama-server executable to spawn. Empty means
	// "llama-server" resolved via PATH.
	ServerBin string
}
