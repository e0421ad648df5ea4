// Package provision acquires the model asset and initializes the inference
// engine against it: it materializes the models directory, downloads the
// model file with resume support and progress reporting, validates the
// container header, and caches the initialized engine handle for the
// lifetime of the process.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/solace/internal/engine"
)

// Kind classifies a provisioning failure.
type Kind int

const (
	// DirectoryCreateFailed means the models directory could not be created.
	DirectoryCreateFailed Kind = iota
	// DownloadTimedOut is a transport failure the transport classified as a
	// timeout. The caller may retry; the partial file is resumed.
	DownloadTimedOut
	// DownloadFailed is any other transport failure. Not retried
	// automatically; the partial file is left in place for a manual retry.
	DownloadFailed
	// EngineInitFailed means the file was present but the container header
	// was invalid or the inference server failed to start.
	EngineInitFailed
)

func (k Kind) String() string {
	switch k {
	case DirectoryCreateFailed:
		return "directory create failed"
	case DownloadTimedOut:
		return "download timed out"
	case DownloadFailed:
		return "download failed"
	case EngineInitFailed:
		return "engine init failed"
	default:
		return "unknown"
	}
}

// Error is a classified provisioning failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Progress reports download state of the model asset. Ratio is meaningful
// only while the transfer is in flight; it reaches 1.0 exactly when all
// bytes are written.
type Progress struct {
	BytesWritten int64
	BytesTotal   int64
	Ratio        float64
}

// Provisioning states as reported by Status.
const (
	StateAbsent      = "absent"
	StateDownloading = "downloading"
	StatePresent     = "present"
	StateReady       = "ready"
)

// Status summarizes the provisioner for status surfaces.
type Status struct {
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Path     string  `json:"path"`
}

// Initializer turns a present model file into an engine handle. The default
// spawns a llama-server subprocess; tests substitute a stub.
type Initializer func(ctx context.Context, cfg engine.Config) (engine.Handle, error)

// Options configures a Provisioner.
type Options struct {
	SourceURL string
	Dir       string
	Filename  string
	Engine    engine.Config // ModelPath is filled in from Dir/Filename

	// HTTPClient overrides the transfer client. Timeout classification is
	// the transport's; no additional deadline is imposed here.
	HTTPClient *http.Client
	// Init overrides engine initialization.
	Init Initializer
	// LoadInfo overrides the model container check.
	LoadInfo func(path string) (engine.ModelInfo, error)
}

// Provisioner ensures a usable local model and a live engine handle exist.
// Concurrent and repeated EnsureModel calls collapse into a single
// download/init; the handle is cached for the process lifetime.
type Provisioner struct {
	opts    Options
	client  *http.Client
	init    Initializer
	load    func(string) (engine.ModelInfo, error)
	group   singleflight.Group
	bufSize int

	mu          sync.Mutex
	handle      engine.Handle
	listeners   []func(Progress)
	downloading bool
	lastRatio   float64
}

// New creates a Provisioner. Engine initialization and container validation
// default to the llama-server backend.
func New(opts Options) *Provisioner {
	p := &Provisioner{
		opts:    opts,
		client:  opts.HTTPClient,
		init:    opts.Init,
		load:    opts.LoadInfo,
		bufSize: 128 << 10,
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.init == nil {
		p.init = func(ctx context.Context, cfg engine.Config) (engine.Handle, error) {
			return engine.Init(ctx, cfg)
		}
	}
	if p.load == nil {
		p.load = engine.LoadModelInfo
	}
	return p
}

// Watch registers a progress listener. Listeners run on the download
// goroutine and must not block; rate-limiting display updates is the
// consumer's concern.
func (p *Provisioner) Watch(fn func(Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Provisioner) publish(pr Progress) {
	p.mu.Lock()
	p.lastRatio = pr.Ratio
	fns := make([]func(Progress), len(p.listeners))
	copy(fns, p.listeners)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(pr)
	}
}

// Handle returns the cached engine handle, or nil before provisioning.
func (p *Provisioner) Handle() engine.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// ModelPath returns the expected location of the model file.
func (p *Provisioner) ModelPath() string {
	return filepath.Join(p.opts.Dir, p.opts.Filename)
}

// Status reports the current provisioning state without side effects.
func (p *Provisioner) Status() Status {
	p.mu.Lock()
	handle, downloading, ratio := p.handle, p.downloading, p.lastRatio
	p.mu.Unlock()

	s := Status{Path: p.ModelPath(), Progress: ratio}
	switch {
	case handle != nil:
		s.State = StateReady
		s.Progress = 1
	case downloading:
		s.State = StateDownloading
	default:
		if _, err := os.Stat(p.ModelPath()); err == nil {
			s.State = StatePresent
		} else {
			s.State = StateAbsent
		}
	}
	return s
}

// EnsureModel returns the cached engine handle, provisioning first if
// needed. Failures are *Error values; every failure leaves the provisioner
// retryable by calling EnsureModel again.
func (p *Provisioner) EnsureModel(ctx context.Context) (engine.Handle, error) {
	p.mu.Lock()
	if p.handle != nil {
		h := p.handle
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("model", func() (any, error) {
		return p.ensure(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(engine.Handle), nil
}

func (p *Provisioner) ensure(ctx context.Context) (engine.Handle, error) {
	if err := os.MkdirAll(p.opts.Dir, 0o755); err != nil {
		return nil, &Error{Kind: DirectoryCreateFailed, Err: err}
	}

	final := p.ModelPath()
	if _, err := os.Stat(final); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Kind: DownloadFailed, Err: err}
		}
		if err := p.download(ctx, final); err != nil {
			return nil, err
		}
	}

	if _, err := p.load(final); err != nil {
		return nil, &Error{Kind: EngineInitFailed, Err: err}
	}

	ecfg := p.opts.Engine
	ecfg.ModelPath = final
	h, err := p.init(ctx, ecfg)
	if err != nil {
		return nil, &Error{Kind: EngineInitFailed, Err: err}
	}

	p.mu.Lock()
	p.handle = h
	p.mu.Unlock()
	return h, nil
}

// download streams the remote asset into <final>.partial and renames it on
// completion. An existing partial file is resumed with a ranged request;
// on failure it is left in place so the next attempt continues from where
// this one stopped.
func (p *Provisioner) download(ctx context.Context, final string) error {
	p.mu.Lock()
	p.downloading = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.downloading = false
		p.mu.Unlock()
	}()

	part := final + ".partial"
	var offset int64
	if fi, err := os.Stat(part); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.SourceURL, nil)
	if err != nil {
		return &Error{Kind: DownloadFailed, Err: err}
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &Error{Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; start over.
		offset = 0
	case http.StatusPartialContent:
	default:
		return &Error{Kind: DownloadFailed, Err: fmt.Errorf("unexpected status %d from %s", resp.StatusCode, p.opts.SourceURL)}
	}

	var total int64
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if offset == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return &Error{Kind: DownloadFailed, Err: err}
	}

	written := offset
	buf := make([]byte, p.bufSize)
	for {
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return &Error{Kind: DownloadFailed, Err: werr}
			}
			written += int64(n)
			pr := Progress{BytesWritten: written, BytesTotal: total}
			if total > 0 {
				pr.Ratio = float64(written) / float64(total)
			}
			p.publish(pr)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			f.Close()
			return &Error{Kind: classifyTransport(rerr), Err: rerr}
		}
	}

	if err := f.Close(); err != nil {
		return &Error{Kind: DownloadFailed, Err: err}
	}
	if total > 0 && written < total {
		return &Error{Kind: DownloadFailed, Err: fmt.Errorf("short transfer: %d of %d bytes", written, total)}
	}
	if err := os.Rename(part, final); err != nil {
		return &Error{Kind: DownloadFailed, Err: err}
	}
	if total == 0 {
		p.publish(Progress{BytesWritten: written, BytesTotal: written, Ratio: 1})
	}
	return nil
}

// classifyTransport maps a transport error onto the retryable timeout kind
// or the generic failure kind.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return DownloadTimedOut
	}
	return DownloadFailed
}
