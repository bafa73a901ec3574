package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRawBaseURL = "https://raw.githubusercontent.com"
	defaultAPIBaseURL = "https://api.github.com"
	defaultUserAgent  = "gema-grader/1.0"
	maxContentBytes   = 2 << 20
)

var (
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "source",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of remote content fetches",
	}, []string{"kind"})

	fetchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "source",
		Name:      "fetch_outcomes_total",
		Help:      "Remote content fetches partitioned by outcome",
	}, []string{"kind", "outcome"})
)

// GitHubConfig configures the GitHub content fetcher.
type GitHubConfig struct {
	RawBaseURL string
	APIBaseURL string
	UserAgent  string
	Timeout    time.Duration
	Cache      ContentCache
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// GitHubFetcher retrieves raw files and tree listings from GitHub repositories.
type GitHubFetcher struct {
	cfg    GitHubConfig
	client *http.Client
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGitHubFetcher constructs a fetcher, filling defaults for empty settings.
func NewGitHubFetcher(cfg GitHubConfig) *GitHubFetcher {
	if cfg.RawBaseURL == "" {
		cfg.RawBaseURL = defaultRawBaseURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.RawBaseURL = strings.TrimRight(cfg.RawBaseURL, "/")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &GitHubFetcher{
		cfg:    cfg,
		client: client,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/source/github"),
		logger: cfg.Logger.With().Str("component", "github_fetcher").Logger(),
	}
}

// FetchFile returns the raw content of path at the default branch head.
// A missing file yields an error matching ErrFileNotFound; operational faults
// yield a *FetchError whose Retryable method reports true.
func (f *GitHubFetcher) FetchFile(parent context.Context, ref RepositoryRef, path, token string) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	ctx, span := f.tracer.Start(parent, "github.fetch_file", trace.WithAttributes(
		attribute.String("github.repository", ref.String()),
		attribute.String("github.path", path),
	))
	defer span.End()

	cacheKey := fmt.Sprintf("%s/%s/%s", ref.Owner, ref.Repo, path)
	if f.cfg.Cache != nil {
		if cached, ok, err := f.cfg.Cache.Get(ctx, cacheKey); err == nil && ok {
			fetchOutcomes.WithLabelValues("github_raw", "cache_hit").Inc()
			span.SetAttributes(attribute.Bool("github.cache_hit", true))
			return cached, nil
		} else if err != nil {
			f.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to read content cache")
		}
	}

	target := fmt.Sprintf("%s/%s/%s/HEAD/%s", f.cfg.RawBaseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), escapePath(path))
	body, err := f.get(ctx, "github_raw", target, token, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	content := string(body)
	if f.cfg.Cache != nil && f.cfg.CacheTTL > 0 {
		if err := f.cfg.Cache.Set(ctx, cacheKey, content, f.cfg.CacheTTL); err != nil {
			f.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to store content cache")
		}
	}

	return content, nil
}

// ListTree returns every blob path in the repository at the default branch head.
func (f *GitHubFetcher) ListTree(parent context.Context, ref RepositoryRef, token string) ([]string, error) {
	ctx, span := f.tracer.Start(parent, "github.list_tree", trace.WithAttributes(
		attribute.String("github.repository", ref.String()),
	))
	defer span.End()

	target := fmt.Sprintf("%s/repos/%s/%s/git/trees/HEAD?recursive=1", f.cfg.APIBaseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Repo))
	body, err := f.get(ctx, "github_tree", target, token, "application/vnd.github+json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var payload struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode tree listing: %w", err)
	}

	paths := make([]string, 0, len(payload.Tree))
	for _, entry := range payload.Tree {
		if entry.Type == "blob" {
			paths = append(paths, entry.Path)
		}
	}
	return paths, nil
}

func (f *GitHubFetcher) get(ctx context.Context, kind, target, token, accept string) ([]byte, error) {
	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Cause: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		fetchOutcomes.WithLabelValues(kind, "transport_error").Inc()
		return nil, &FetchError{URL: target, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fetchErr := &FetchError{URL: target, StatusCode: resp.StatusCode, RateLimited: isRateLimited(resp)}
		switch {
		case fetchErr.RateLimited:
			fetchOutcomes.WithLabelValues(kind, "rate_limited").Inc()
		case resp.StatusCode == http.StatusNotFound:
			fetchOutcomes.WithLabelValues(kind, "not_found").Inc()
		default:
			fetchOutcomes.WithLabelValues(kind, "http_error").Inc()
		}
		return nil, fetchErr
	}

	body, err := readLimited(resp.Body)
	if errors.Is(err, ErrContentTooLarge) {
		fetchOutcomes.WithLabelValues(kind, "too_large").Inc()
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Cause: err}
	}
	if err != nil {
		fetchOutcomes.WithLabelValues(kind, "transport_error").Inc()
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Cause: err}
	}

	fetchOutcomes.WithLabelValues(kind, "ok").Inc()
	return body, nil
}

// readLimited reads at most maxContentBytes and fails instead of truncating larger bodies.
func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxContentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxContentBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrContentTooLarge, maxContentBytes)
	}
	return body, nil
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
