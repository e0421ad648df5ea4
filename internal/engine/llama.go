package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// startupTimeout bounds how long Init waits for a spawned llama-server to
// finish loading the model and answer its health endpoint. Large quantized
// models on slow disks can take a while to mmap.
const startupTimeout = 2 * time.Minute

// LlamaServer is a Handle backed by a llama.cpp llama-server instance over
// HTTP. It either owns a subprocess it spawned (Init) or is attached to an
// externally managed server (Connect).
type LlamaServer struct {
	baseURL    string
	httpClient *http.Client
	cmd        *exec.Cmd
}

// Connect attaches to an already-running llama-server at baseURL. The
// returned handle does not own the server process; Close is a no-op.
func Connect(baseURL string) *LlamaServer {
	return &LlamaServer{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// Init spawns a llama-server subprocess against the model file in cfg and
// waits until it is ready to serve completions. The fixed parameters from
// cfg map directly onto server flags: context window, mlock, GPU offload
// layer count, and load-progress reporting.
func Init(ctx context.Context, cfg Config) (*LlamaServer, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("allocating server port: %w", err)
	}

	bin := cfg.ServerBin
	if bin == "" {
		bin = "llama-server"
	}

	args := []string{
		"--model", cfg.ModelPath,
		"--ctx-size", strconv.Itoa(cfg.ContextWindow),
		"--n-gpu-layers", strconv.Itoa(cfg.GPULayers),
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
	}
	if cfg.UseMlock {
		args = append(args, "--mlock")
	}
	if !cfg.ReportProgress {
		args = append(args, "--log-disable")
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}

	s := &LlamaServer{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{Timeout: 0},
		cmd:        cmd,
	}

	if err := s.waitReady(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("waiting for %s: %w", bin, err)
	}
	return s, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// waitReady polls the health endpoint until the server reports ready, the
// subprocess exits, or the startup timeout elapses.
func (s *LlamaServer) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.Ready(ctx) {
			return nil
		}
		if s.cmd != nil && s.cmd.ProcessState != nil {
			return fmt.Errorf("server exited during startup: %s", s.cmd.ProcessState)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ready returns true if the server responds to GET /health with 200.
func (s *LlamaServer) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close terminates the owned subprocess, if any. Attached handles are
// left running.
func (s *LlamaServer) Close() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("stopping llama-server: %w", err)
	}
	s.cmd.Wait()
	return nil
}

// chatRequest is the JSON body for POST /v1/chat/completions.
type chatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stop      []string  `json:"stop,omitempty"`
	Stream    bool      `json:"stream"`
}

// chatResponse is the JSON returned for a non-streaming completion.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// chatChunk is one SSE payload of a streaming completion.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Complete implements Handle. The server applies the stop sequences and the
// generation cap; this side only assembles the reply.
func (s *LlamaServer) Complete(ctx context.Context, req CompletionRequest, onToken func(string)) (CompletionResult, error) {
	cr := chatRequest{
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Stop:      req.Stop,
		Stream:    onToken != nil,
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return CompletionResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("creating completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return CompletionResult{}, fmt.Errorf("completion: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if onToken != nil {
		return readStream(resp.Body, onToken)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CompletionResult{}, fmt.Errorf("decoding completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("completion: empty choices")
	}
	return CompletionResult{Text: result.Choices[0].Message.Content}, nil
}

// readStream consumes an SSE completion stream, invoking onToken per delta
// and accumulating the full reply.
func readStream(r io.Reader, onToken func(string)) (CompletionResult, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return CompletionResult{}, fmt.Errorf("decoding stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		sb.WriteString(token)
		onToken(token)
	}
	if err := scanner.Err(); err != nil {
		return CompletionResult{}, fmt.Errorf("reading completion stream: %w", err)
	}

	return CompletionResult{Text: sb.String()}, nil
}
