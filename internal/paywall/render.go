package paywall

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"html"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/paperclip/internal/errors"
)

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes err as a JSON error envelope.
func renderError(w http.ResponseWriter, err error) {
	var pErr *errors.PaperclipError
	if !stderrors.As(err, &pErr) {
		pErr = errors.NewInternal(err)
	}
	renderJSON(w, pErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(pErr.Code),
			"message": pErr.Message,
			"status":  pErr.Status,
		},
	})
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	return buf.String()
}
