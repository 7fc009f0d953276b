// Control plane client: JSON over HTTP for credentials, task start and the module catalog
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "http://localhost:5000"
	maxErrorDetail = 200
)

// ControlPlane implements [CredentialClient], [TaskLauncher] and [Catalog] against the detection service.
//
// Requests are paced client-side by a token bucket and carry an optional bearer token.
type ControlPlane struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewControlPlane creates a control plane client from cfg.
//
// A nil client uses a fresh [http.Client] with the configured timeout. When cfg.Token is set
// the client's transport is wrapped in an [oauth2.Transport] with a static token source.
func NewControlPlane(cfg shared.ControlPlaneConfig, client *http.Client, logger *log.Logger) *ControlPlane {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout()}
	}
	if cfg.Token != "" {
		client = &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
				Base:   client.Transport,
			},
			Timeout: client.Timeout,
		}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)

	return &ControlPlane{
		baseURL:    baseURL,
		httpClient: client,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

type credentialRequest struct {
	FileName string `json:"fileName"`
}

type startTaskRequest struct {
	Bucket     string   `json:"bucket"`
	Key        string   `json:"key"`
	ModuleName string   `json:"moduleName,omitempty"`
	ClassNames []string `json:"classNames,omitempty"`
}

type startTaskResponse struct {
	TaskID string `json:"taskId"`
}

type modulesResponse struct {
	Modules []string `json:"modules"`
}

type classesResponse struct {
	Classes json.RawMessage `json:"classes"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// RequestCredential asks the control plane for a presigned destination for fileName.
func (c *ControlPlane) RequestCredential(ctx context.Context, fileName string) (*models.UploadCredential, error) {
	const op = "request credential"
	if strings.TrimSpace(fileName) == "" {
		return nil, shared.NewPreconditionError(op, "no file selected")
	}

	var cred models.UploadCredential
	if err := c.doRequest(ctx, op, http.MethodPost, "/get-presigned-url", credentialRequest{FileName: fileName}, &cred); err != nil {
		return nil, err
	}
	if cred.DestinationURL == "" || cred.ContainerID == "" || cred.ObjectKey == "" {
		return nil, &shared.ControlPlaneError{Op: op, Detail: "incomplete credential in response", StatusCode: http.StatusOK}
	}

	c.logger.Debug("credential issued", "file", fileName, "bucket", cred.ContainerID, "key", cred.ObjectKey)
	return &cred, nil
}

// StartTask asks the control plane to begin processing the uploaded object and returns its task id.
func (c *ControlPlane) StartTask(ctx context.Context, req TaskRequest) (string, error) {
	const op = "start task"
	if req.ContainerID == "" || req.ObjectKey == "" {
		return "", shared.NewPreconditionError(op, "no uploaded object (bucket and key are required)")
	}

	body := startTaskRequest{Bucket: req.ContainerID, Key: req.ObjectKey, ModuleName: req.ModuleName}
	if req.ModuleName != "" {
		body.ClassNames = req.SelectedClasses
	}

	var resp startTaskResponse
	if err := c.doRequest(ctx, op, http.MethodPost, "/start-task", body, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", &shared.ControlPlaneError{Op: op, StatusCode: http.StatusOK, Detail: "response did not include a taskId"}
	}

	c.logger.Info("task started", "task_id", resp.TaskID, "bucket", req.ContainerID, "key", req.ObjectKey)
	return resp.TaskID, nil
}

// ListModules returns the processing modules offered by the service.
func (c *ControlPlane) ListModules(ctx context.Context) ([]string, error) {
	var resp modulesResponse
	if err := c.doRequest(ctx, "get modules", http.MethodGet, "/get-modules", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Modules, nil
}

// ListClasses returns the class names a module detects.
//
// The service returns an object keyed by class index; values are ordered by key, numerically when
// both keys are integers. A plain array is accepted as well.
func (c *ControlPlane) ListClasses(ctx context.Context, module string) ([]string, error) {
	const op = "get classes"
	if module == "" {
		return nil, shared.NewPreconditionError(op, "module name is required")
	}

	var resp classesResponse
	path := "/get-classes?filename=" + url.QueryEscape(module)
	if err := c.doRequest(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	classes, err := decodeClasses(resp.Classes)
	if err != nil {
		return nil, &shared.ControlPlaneError{Op: op, StatusCode: http.StatusOK, Err: err}
	}
	return classes, nil
}

func decodeClasses(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var byKey map[string]string
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("failed to decode classes: %w", err)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	classes := make([]string, 0, len(keys))
	for _, k := range keys {
		classes = append(classes, byKey[k])
	}
	return classes, nil
}

func keyLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

// doRequest performs a paced JSON request and decodes a 2xx body into result.
func (c *ControlPlane) doRequest(ctx context.Context, op, method, path string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &shared.ControlPlaneError{Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &shared.ControlPlaneError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &shared.ControlPlaneError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &shared.ControlPlaneError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &shared.ControlPlaneError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("control plane rejected request", "op", op, "status", resp.StatusCode)
		return &shared.ControlPlaneError{Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return &shared.ControlPlaneError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

func errorDetail(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Detail != "" {
			return e.Detail
		}
	}

	detail := strings.TrimSpace(string(body))
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail] + "..."
	}
	return detail
}
