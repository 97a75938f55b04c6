// Package extraction is the boundary to document text extraction (OCR).
// The engine only consumes extracted text; how it is produced lives elsewhere.
package extraction

import (
	"context"
	"strings"

	"careverify/internal/claims/models"
)

// Text is what an extractor recovered from one document.
type Text struct {
	Content    string
	Confidence float64
}

// Extractor turns a stored document into text.
type Extractor interface {
	Extract(ctx context.Context, doc models.DocumentRef) (Text, error)
}

// Noop returns no text for any document.
type Noop struct{}

func (Noop) Extract(context.Context, models.DocumentRef) (Text, error) {
	return Text{}, nil
}

// Result summarizes extraction over all of a claim's documents.
type Result struct {
	Text       string
	Extracted  int
	Failed     int
	Confidence float64
}

// Completeness is the share of documents that yielded text.
func (r Result) Completeness(total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(r.Extracted) / float64(total)
}

// ExtractAll runs ex over docs and joins the recovered text. A document that
// fails is counted and skipped.
func ExtractAll(ctx context.Context, ex Extractor, docs []models.DocumentRef) Result {
	var (
		res        Result
		parts      []string
		confidence float64
	)
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		text, err := ex.Extract(ctx, doc)
		if err != nil {
			res.Failed++
			continue
		}
		if strings.TrimSpace(text.Content) == "" {
			continue
		}
		res.Extracted++
		confidence += text.Confidence
		parts = append(parts, text.Content)
	}
	if res.Extracted > 0 {
		res.Confidence = confidence / float64(res.Extracted)
	}
	res.Text = strings.Join(parts, "\n")
	return res
}
