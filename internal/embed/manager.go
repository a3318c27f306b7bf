package embed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/vaultrag/vaultrag/internal/errors"
)

// ModelState describes where a model is in its lifecycle.
type ModelState string

const (
	// ModelStateNotFound means the model is not installed locally
	ModelStateNotFound ModelState = "not_found"

	// ModelStateDownloading means a pull is in progress
	ModelStateDownloading ModelState = "downloading"

	// ModelStateReady means the model is installed and answered a
	// warm-up embedding
	ModelStateReady ModelState = "ready"

	// ModelStateError means the last pull or warm-up failed
	ModelStateError ModelState = "error"
)

// Pull progress is reported on a 0-100 scale. Downloading accounts for
// the first 90 points; the final 10 are granted only after the model
// answers a warm-up embedding, because a fully downloaded model that
// cannot load is not ready.
const (
	pullProgressCap = 90.0
	readyProgress   = 100.0
	warmUpText      = "warm up"
)

// ModelStatus is a snapshot of one model's lifecycle state.
type ModelStatus struct {
	Model    string     `json:"model"`
	State    ModelState `json:"state"`
	Progress float64    `json:"progress"`
	Error    string     `json:"error,omitempty"`
}

// ModelManager installs embedding models through the Ollama API. Pulls
// are serialized per model: goroutines in this process share a state
// map, and a file lock keeps concurrent processes from pulling the same
// model twice.
type ModelManager struct {
	host     string
	locksDir string
	client   *http.Client
	logger   *slog.Logger
	retry    RetryConfig

	mu     sync.Mutex
	states map[string]ModelStatus
}

// NewModelManager creates a manager talking to the Ollama server at
// host. Lock files for cross-process coordination live under locksDir.
func NewModelManager(host, locksDir string, logger *slog.Logger) *ModelManager {
	if host == "" {
		host = DefaultOllamaHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelManager{
		host:     strings.TrimRight(host, "/"),
		locksDir: locksDir,
		client:   &http.Client{}, // no timeout: pulls run for minutes
		logger:   logger,
		retry:    DefaultRetryConfig(),
	}
}

// EnsureModel makes sure the model is installed and loadable, pulling
// it if needed. When another goroutine is already pulling the model,
// the in-flight status is returned immediately instead of blocking.
func (m *ModelManager) EnsureModel(ctx context.Context, model string) (ModelStatus, error) {
	m.mu.Lock()
	if st, ok := m.states[model]; ok && st.State == ModelStateDownloading {
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	installed, err := m.modelInstalled(ctx, model)
	if err != nil {
		return ModelStatus{Model: model, State: ModelStateError, Error: err.Error()},
			errors.NetworkError("cannot reach Ollama", err).
				WithDetail("host", m.host).
				WithSuggestion("start the server with: ollama serve")
	}
	if installed {
		return m.setState(model, ModelStateReady, readyProgress, ""), nil
	}

	m.setState(model, ModelStateDownloading, 0, "")

	// Serialize against other processes. Whoever wins the lock pulls;
	// the others block here and find the model installed afterwards.
	lock := NewModelLock(m.locksDir, model)
	if err := lock.Lock(ctx); err != nil {
		st := m.setState(model, ModelStateError, 0, err.Error())
		return st, errors.EmbeddingError("failed to acquire model pull lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	installed, err = m.modelInstalled(ctx, model)
	if err == nil && installed {
		return m.setState(model, ModelStateReady, readyProgress, ""), nil
	}

	m.logger.Info("model_pull_started", slog.String("model", model))

	if err := PullWithRetry(ctx, m.retry, func() error { return m.pull(ctx, model) }); err != nil {
		st := m.setState(model, ModelStateError, 0, err.Error())
		return st, errors.EmbeddingError("model pull failed", err).
			WithDetail("model", model)
	}
	m.setState(model, ModelStateDownloading, pullProgressCap, "")

	if err := m.warmUp(ctx, model); err != nil {
		st := m.setState(model, ModelStateError, pullProgressCap, err.Error())
		return st, errors.EmbeddingError("model warm-up failed", err).
			WithDetail("model", model).
			WithSuggestion("the model downloaded but did not load; check Ollama memory limits")
	}

	m.logger.Info("model_ready", slog.String("model", model))
	return m.setState(model, ModelStateReady, readyProgress, ""), nil
}

// Status reports the model's current state without triggering a pull.
func (m *ModelManager) Status(ctx context.Context, model string) ModelStatus {
	m.mu.Lock()
	if st, ok := m.states[model]; ok {
		m.mu.Unlock()
		return st
	}
	m.mu.Unlock()

	installed, err := m.modelInstalled(ctx, model)
	if err != nil {
		return ModelStatus{Model: model, State: ModelStateError, Error: err.Error()}
	}
	if installed {
		return ModelStatus{Model: model, State: ModelStateReady, Progress: readyProgress}
	}
	return ModelStatus{Model: model, State: ModelStateNotFound}
}

// setState records and returns a status snapshot.
func (m *ModelManager) setState(model string, state ModelState, progress float64, errMsg string) ModelStatus {
	st := ModelStatus{Model: model, State: state, Progress: progress, Error: errMsg}
	m.mu.Lock()
	if m.states == nil {
		m.states = make(map[string]ModelStatus)
	}
	m.states[model] = st
	m.mu.Unlock()
	return st
}

// setProgress advances the download progress. Ollama reports bytes per
// layer, so raw values can jump backwards between layers; progress is
// kept monotonic to avoid a progress bar that rewinds.
func (m *ModelManager) setProgress(model string, progress float64) {
	if progress > pullProgressCap {
		progress = pullProgressCap
	}
	m.mu.Lock()
	st := m.states[model]
	if st.State == ModelStateDownloading && progress > st.Progress {
		st.Progress = progress
		m.states[model] = st
	}
	m.mu.Unlock()
}

// modelInstalled checks the Ollama tag list for the model, matching
// both the exact name and the base name without tag.
func (m *ModelManager) modelInstalled(ctx context.Context, model string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var list OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	want := strings.ToLower(model)
	wantBase := strings.Split(want, ":")[0]
	for _, mi := range list.Models {
		name := strings.ToLower(mi.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return true, nil
		}
	}
	return false, nil
}

// pull streams /api/pull progress until the pull finishes or fails.
func (m *ModelManager) pull(ctx context.Context, model string) error {
	body, err := json.Marshal(OllamaPullRequest{Model: model})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	succeeded := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var p OllamaPullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			return fmt.Errorf("failed to decode pull progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("pull failed: %s", p.Error)
		}
		if p.Total > 0 {
			m.setProgress(model, float64(p.Completed)/float64(p.Total)*pullProgressCap)
		}
		if p.Status == "success" {
			succeeded = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("pull stream interrupted: %w", err)
	}
	if !succeeded {
		return fmt.Errorf("pull stream ended without success status")
	}
	return nil
}

// warmUp requests one embedding so the model is loaded into memory and
// proven functional before it is reported ready.
func (m *ModelManager) warmUp(ctx context.Context, model string) error {
	warmCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
	defer cancel()

	body, err := json.Marshal(OllamaEmbedRequest{Model: model, Input: warmUpText})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(warmCtx, http.MethodPost, m.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("warm-up failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode warm-up response: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return fmt.Errorf("warm-up returned no embedding")
	}
	return nil
}
