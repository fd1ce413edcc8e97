package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/routeharness/routeharness/pkg/types"
)

const (
	defaultJobsPath = "/api/v1/jobs"
	defaultPingPath = "/api/v1/ping"
)

// APIConfig holds the static configuration for the REST backend.
type APIConfig struct {
	BaseURL string
	Token   string
}

// APIDependencies allow test overrides for the HTTP client and paths.
type APIDependencies struct {
	HTTPClient *http.Client
	JobsPath   string
	PingPath   string
}

// APIBackend queries the router's management REST API. Last in the usual
// priority order: it reflects what the router's own UI shows rather than
// what the protocol or the database expose.
type APIBackend struct {
	httpClient *http.Client
	jobsURL    string
	pingURL    string
	token      string
}

// NewAPIBackend builds the REST backend from configuration and dependencies.
func NewAPIBackend(cfg APIConfig, deps APIDependencies) (*APIBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		// http.DefaultClient has no timeout; a hung server must not be able
		// to stall a verification poll.
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	jobsPath := deps.JobsPath
	if jobsPath == "" {
		jobsPath = defaultJobsPath
	}
	pingPath := deps.PingPath
	if pingPath == "" {
		pingPath = defaultPingPath
	}
	return &APIBackend{
		httpClient: httpClient,
		jobsURL:    joinURL(cfg.BaseURL, jobsPath),
		pingURL:    joinURL(cfg.BaseURL, pingPath),
		token:      cfg.Token,
	}, nil
}

func (b *APIBackend) Name() string { return "api" }

func (b *APIBackend) Available(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.pingURL, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api ping failed: status %s", resp.Status)
	}
	return nil
}

// jobRecord mirrors the API's job representation: flat identification fields
// plus the stored attribute values keyed by DICOM attribute name.
type jobRecord struct {
	JobID      int64             `json:"job_id"`
	StudyUID   string            `json:"study_uid"`
	Status     string            `json:"status"`
	Attributes map[string]string `json:"attributes"`
}

func (b *APIBackend) Query(ctx context.Context, studyUID string, filter []string) (bool, types.AttributeSet, error) {
	u := b.jobsURL + "?" + url.Values{"study_uid": {studyUID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, nil, fmt.Errorf("build jobs request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("query jobs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return false, nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return false, nil, fmt.Errorf("query jobs: status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, nil, fmt.Errorf("read jobs response: %w", err)
	}
	var records []jobRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return false, nil, fmt.Errorf("decode jobs response: %w", err)
	}
	if len(records) == 0 {
		return false, nil, nil
	}

	rec := records[0]
	attrs := types.AttributeSet{
		{Name: "StudyInstanceUID", Value: rec.StudyUID},
		{Name: "Status", Value: rec.Status},
	}
	// Map iteration order is unstable; keep requested attributes first so
	// comparison output stays readable.
	for _, name := range filter {
		if v, ok := rec.Attributes[name]; ok {
			attrs = attrs.Set(name, v)
		}
	}
	for name, v := range rec.Attributes {
		if _, ok := attrs.Get(name); !ok {
			attrs = attrs.Set(name, v)
		}
	}
	return true, attrs, nil
}

func (b *APIBackend) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "routeharness/0.1")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

var _ Backend = (*APIBackend)(nil)
