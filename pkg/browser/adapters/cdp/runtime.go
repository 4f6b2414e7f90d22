package cdp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/logging"
)

// Runtime launches Chrome processes and attaches to their first page.
type Runtime struct {
	cfg        Config
	logger     *logging.Logger
	httpClient *http.Client
}

// NewRuntime creates a DevTools runtime adapter.
func NewRuntime(cfg Config, logger *logging.Logger) (*Runtime, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runtime{
		cfg:        merged,
		logger:     logger,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// NewSession starts a browser and attaches to its page. The process
// outlives ctx; only Session.Close stops it.
func (r *Runtime) NewSession(ctx context.Context, sessionCfg browser.SessionConfig) (browser.RemoteSession, error) {
	if r == nil {
		return nil, browser.ErrUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}
	normalized := normalizeSessionConfig(sessionCfg)
	logger := r.logger.WithSession(normalized.SessionID)

	chrome, err := r.cfg.resolveChrome()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrUnavailable, err)
	}
	profileDir, err := r.profileDir(normalized.SessionID)
	if err != nil {
		return nil, err
	}
	cleanupProfile := func() {
		if !r.cfg.KeepProfile {
			_ = os.RemoveAll(profileDir)
		}
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		cleanupProfile()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd := exec.Command(chrome, chromeArgs(normalized, r.cfg, profileDir)...)
	cmd.Env = chromeEnv(os.Environ(), normalized.Display)
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		_ = stderrR.Close()
		_ = stderrW.Close()
		cleanupProfile()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	_ = stderrW.Close()
	logger.Info("browser started", slog.String("binary", chrome), slog.Int("pid", cmd.Process.Pid))

	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()
	endpoints := make(chan string, 1)
	go scanOutput(stderrR, endpoints, logger, normalized.ConsoleLogging)

	fail := func(err error) (browser.RemoteSession, error) {
		terminate(cmd, waitDone, r.cfg.ShutdownTimeout)
		cleanupProfile()
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, r.cfg.StartupTimeout)
	defer cancel()

	var endpoint string
	select {
	case endpoint = <-endpoints:
	case <-waitDone:
		return fail(errors.New("chrome exited before the DevTools endpoint was ready"))
	case <-startCtx.Done():
		return fail(fmt.Errorf("wait for DevTools endpoint: %w", startCtx.Err()))
	}

	sess, err := r.attach(startCtx, endpoint, normalized, logger)
	if err != nil {
		return fail(err)
	}
	sess.cmd = cmd
	sess.waitDone = waitDone
	sess.profileDir = profileDir
	return sess, nil
}

// attach connects to the first page target of the browser at endpoint
// and enables the domains the session listens to.
func (r *Runtime) attach(ctx context.Context, endpoint string, cfg browser.SessionConfig, logger *logging.Logger) (*Session, error) {
	pageURL, err := r.pageTarget(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial page target: %w", err)
	}

	sess := &Session{
		id:               cfg.SessionID,
		cfg:              cfg,
		logger:           logger,
		keepProfile:      r.cfg.KeepProfile,
		operationTimeout: r.cfg.OperationTimeout,
		shutdownTimeout:  r.cfg.ShutdownTimeout,
	}
	sess.client = newClient(conn, sess.handleEvent)

	for _, method := range []string{"Page.enable", "Runtime.enable"} {
		if _, err := sess.client.call(ctx, method, nil); err != nil {
			_ = sess.client.close()
			return nil, fmt.Errorf("%s: %w", method, err)
		}
	}
	return sess, nil
}

// pageTarget returns the websocket URL of the first page target, opening
// one when the browser has none yet.
func (r *Runtime) pageTarget(ctx context.Context, endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse DevTools endpoint: %w", err)
	}
	scheme := "http"
	if parsed.Scheme == "wss" {
		scheme = "https"
	}
	base := scheme + "://" + parsed.Host

	var lastErr error
	opened := false
	for {
		targets, err := r.listTargets(ctx, base)
		if err == nil {
			for _, t := range targets {
				if t.Type == "page" && t.WebSocketDebuggerURL != "" {
					return t.WebSocketDebuggerURL, nil
				}
			}
			if !opened {
				opened = true
				lastErr = r.openTarget(ctx, base)
			}
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = errors.New("no page target")
			}
			return "", fmt.Errorf("find page target: %w (%v)", ctx.Err(), lastErr)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *Runtime) listTargets(ctx context.Context, base string) ([]target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list targets: %s", resp.Status)
	}
	var targets []target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decode targets: %w", err)
	}
	return targets, nil
}

func (r *Runtime) openTarget(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/json/new?about:blank", nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open target: %s", resp.Status)
	}
	return nil
}

// Close releases runtime resources.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.httpClient.CloseIdleConnections()
	return nil
}

func (r *Runtime) profileDir(sessionID string) (string, error) {
	parent := r.cfg.ProfileDir
	if parent == "" {
		parent = os.TempDir()
	}
	dir := filepath.Join(parent, fmt.Sprintf("meetprobe-%s-%s", sanitizeSessionID(sessionID), uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	return dir, nil
}

// scanOutput reports the DevTools endpoint from chrome's stderr and, when
// asked to, forwards the remaining output to the log.
func scanOutput(r io.ReadCloser, endpoints chan<- string, logger *logging.Logger, forward bool) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	found := false
	for scanner.Scan() {
		line := scanner.Text()
		if !found {
			if endpoint, ok := parseDevToolsURL(line); ok {
				found = true
				endpoints <- endpoint
				continue
			}
		}
		if forward {
			logger.Debug("chrome", slog.String("line", line))
		}
	}
	// Keep draining so the browser never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func chromeArgs(cfg browser.SessionConfig, rcfg Config, profileDir string) []string {
	args := append([]string(nil), cfg.Flags...)
	args = append(args,
		"--remote-debugging-port=0",
		"--user-data-dir="+profileDir,
		"--no-first-run",
		"--no-default-browser-check",
		fmt.Sprintf("--window-size=%d,%d", cfg.Viewport.Width, cfg.Viewport.Height),
	)
	if rcfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, rcfg.ExtraFlags...)
	return append(args, "about:blank")
}

// chromeEnv sets DISPLAY when the environment does not.
func chromeEnv(env []string, display string) []string {
	out := append([]string(nil), env...)
	if display == "" {
		return out
	}
	for _, kv := range out {
		if value, ok := strings.CutPrefix(kv, "DISPLAY="); ok && value != "" {
			return out
		}
	}
	return append(out, "DISPLAY="+display)
}

func normalizeSessionConfig(cfg browser.SessionConfig) browser.SessionConfig {
	merged := browser.DefaultSessionConfig()
	merged.SessionID = strings.TrimSpace(cfg.SessionID)
	if merged.SessionID == "" {
		merged.SessionID = uuid.NewString()
	}
	merged.InitialURL = cfg.InitialURL
	merged.AuthToken = cfg.AuthToken
	if cfg.Viewport.Width != 0 {
		merged.Viewport.Width = cfg.Viewport.Width
	}
	if cfg.Viewport.Height != 0 {
		merged.Viewport.Height = cfg.Viewport.Height
	}
	if cfg.Flags != nil {
		merged.Flags = append([]string(nil), cfg.Flags...)
	}
	if cfg.Display != "" {
		merged.Display = cfg.Display
	}
	merged.ConsoleLogging = cfg.ConsoleLogging
	return merged
}

func sanitizeSessionID(sessionID string) string {
	out := strings.Builder{}
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z':
			out.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			out.WriteRune(r)
		case r >= '0' && r <= '9':
			out.WriteRune(r)
		case r == '-' || r == '_':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	if out.Len() == 0 {
		return "browser"
	}
	return out.String()
}
