package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultDriveDownloadURL = "https://drive.google.com/uc?export=download&id="

// Transcript cell markers.
const (
	CodeCellTag     = "[CODE CELL]"
	MarkdownCellTag = "[MARKDOWN CELL]"
)

// NotebookConfig configures the notebook fetcher.
type NotebookConfig struct {
	// DownloadURL is the prefix the notebook identifier is appended to.
	DownloadURL string
	UserAgent   string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// NotebookFetcher downloads Colab/Drive notebooks and flattens them into text.
type NotebookFetcher struct {
	cfg    NotebookConfig
	client *http.Client
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewNotebookFetcher constructs a notebook fetcher.
func NewNotebookFetcher(cfg NotebookConfig) *NotebookFetcher {
	if cfg.DownloadURL == "" {
		cfg.DownloadURL = defaultDriveDownloadURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &NotebookFetcher{
		cfg:    cfg,
		client: client,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/source/notebook"),
		logger: cfg.Logger.With().Str("component", "notebook_fetcher").Logger(),
	}
}

// FetchTranscript downloads the notebook identified by id and returns its transcript.
// When id is itself a URL it is requested as-is.
func (f *NotebookFetcher) FetchTranscript(parent context.Context, id string) (string, error) {
	ctx, span := f.tracer.Start(parent, "notebook.fetch_transcript")
	defer span.End()

	target := f.downloadURL(id)
	span.SetAttributes(attribute.String("notebook.url", target))

	body, err := f.download(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	transcript, err := BuildTranscript(body)
	if err != nil {
		fetchOutcomes.WithLabelValues("notebook", "unreadable").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	fetchOutcomes.WithLabelValues("notebook", "ok").Inc()
	return transcript, nil
}

func (f *NotebookFetcher) downloadURL(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return id
	}
	return f.cfg.DownloadURL + url.QueryEscape(id)
}

func (f *NotebookFetcher) download(ctx context.Context, target string) ([]byte, error) {
	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues("notebook").Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Cause: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		fetchOutcomes.WithLabelValues("notebook", "transport_error").Inc()
		return nil, &FetchError{URL: target, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		fetchOutcomes.WithLabelValues("notebook", "http_error").Inc()
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		fetchOutcomes.WithLabelValues("notebook", "unreadable").Inc()
		f.logger.Debug().Int("status", resp.StatusCode).Str("url", target).Msg("notebook download refused")
		return nil, fmt.Errorf("%w (status %d)", ErrNotebookUnreadable, resp.StatusCode)
	}

	body, err := readLimited(resp.Body)
	if errors.Is(err, ErrContentTooLarge) {
		fetchOutcomes.WithLabelValues("notebook", "too_large").Inc()
		return nil, fmt.Errorf("%w: %v", ErrNotebookUnreadable, err)
	}
	if err != nil {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Cause: err}
	}
	return body, nil
}

type notebookDocument struct {
	Cells []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// BuildTranscript flattens an .ipynb document into tagged code and markdown blocks in cell order.
func BuildTranscript(payload []byte) (string, error) {
	if mime := mimetype.Detect(payload); mime.Is("text/html") {
		return "", fmt.Errorf("%w: received an HTML page instead of notebook JSON", ErrNotebookUnreadable)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotebookUnreadable, err)
	}
	if _, ok := raw["cells"]; !ok {
		return "", fmt.Errorf("%w: document has no cells", ErrNotebookUnreadable)
	}

	var doc notebookDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotebookUnreadable, err)
	}

	var builder strings.Builder
	for _, cell := range doc.Cells {
		var tag string
		switch cell.CellType {
		case "code":
			tag = CodeCellTag
		case "markdown":
			tag = MarkdownCellTag
		default:
			continue
		}

		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(tag)
		builder.WriteString("\n")
		builder.WriteString(strings.TrimRight(cellSource(cell.Source), "\n"))
	}

	return builder.String(), nil
}

// cellSource accepts both the list-of-lines and single-string encodings.
func cellSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return ""
}
