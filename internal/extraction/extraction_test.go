package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"careverify/internal/claims/models"
)

type mapExtractor map[string]Text

func (m mapExtractor) Extract(_ context.Context, doc models.DocumentRef) (Text, error) {
	t, ok := m[doc.ID]
	if !ok {
		return Text{}, errors.New("unreadable")
	}
	return t, nil
}

func TestExtractAll(t *testing.T) {
	ex := mapExtractor{
		"bill":    {Content: "Procedure P100 billed 1200.00", Confidence: 0.9},
		"summary": {Content: "Discharge summary", Confidence: 0.7},
		"blank":   {Content: "   "},
	}
	docs := []models.DocumentRef{{ID: "bill"}, {ID: "summary"}, {ID: "blank"}, {ID: "scan"}}

	res := ExtractAll(context.Background(), ex, docs)

	assert.Equal(t, 2, res.Extracted)
	assert.Equal(t, 1, res.Failed)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.Equal(t, "Procedure P100 billed 1200.00\nDischarge summary", res.Text)
	assert.InDelta(t, 0.5, res.Completeness(len(docs)), 1e-9)
}

func TestNoop(t *testing.T) {
	res := ExtractAll(context.Background(), Noop{}, []models.DocumentRef{{ID: "a"}})
	assert.Empty(t, res.Text)
	assert.Equal(t, 0.0, res.Completeness(0))
}
