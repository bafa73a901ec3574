package utils

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	sanitize = bluemonday.UGCPolicy()
)

// RenderMarkdown converts model-authored Markdown into sanitized HTML.
// Rendering failures fall back to the escaped source text.
func RenderMarkdown(source string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return sanitize.Sanitize("<p>" + bluemonday.StrictPolicy().Sanitize(source) + "</p>")
	}

	return sanitize.Sanitize(buf.String())
}
