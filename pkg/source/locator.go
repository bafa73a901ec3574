package source

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidReference indicates a submission URL cannot be resolved to a repository.
var ErrInvalidReference = errors.New("invalid repository reference")

var notebookIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`colab\.research\.google\.com/drive/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`drive\.google\.com/file/d/([A-Za-z0-9_-]+)`),
}

// RepositoryRef identifies a GitHub repository.
type RepositoryRef struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// String returns the owner/repo slug.
func (r RepositoryRef) String() string {
	return r.Owner + "/" + r.Repo
}

// ParseRepository extracts the owner and repository name from a GitHub URL.
func ParseRepository(rawURL string) (RepositoryRef, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return RepositoryRef{}, fmt.Errorf("%w: empty url", ErrInvalidReference)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return RepositoryRef{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	segments := make([]string, 0, 2)
	for _, segment := range strings.Split(parsed.Path, "/") {
		if segment == "" {
			continue
		}
		segments = append(segments, segment)
		if len(segments) == 2 {
			break
		}
	}
	if len(segments) < 2 {
		return RepositoryRef{}, fmt.Errorf("%w: expected github.com/<owner>/<repo>, got %q", ErrInvalidReference, rawURL)
	}

	repo := strings.TrimSuffix(segments[1], ".git")
	if repo == "" {
		return RepositoryRef{}, fmt.Errorf("%w: empty repository name in %q", ErrInvalidReference, rawURL)
	}

	return RepositoryRef{Owner: segments[0], Repo: repo}, nil
}

// ParseNotebookID extracts the Drive file identifier from a Colab or Drive link.
// Unrecognised links are returned unchanged so the fetcher can try them directly.
func ParseNotebookID(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	for _, pattern := range notebookIDPatterns {
		if match := pattern.FindStringSubmatch(trimmed); len(match) == 2 {
			return match[1]
		}
	}
	return trimmed
}

// IsGitHubURL reports whether the URL points at github.com.
func IsGitHubURL(rawURL string) bool {
	return strings.Contains(strings.ToLower(rawURL), "github.com")
}

// IsNotebookURL reports whether the URL points at Colab or Google Drive.
func IsNotebookURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "colab.research.google.com") || strings.Contains(lower, "drive.google.com")
}
