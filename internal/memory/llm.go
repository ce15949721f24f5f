package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellarlinkco/aiteam/internal/llm"
	"github.com/tidwall/gjson"
)

const (
	extractInputRunes  = 500
	extractOutputRunes = 800

	extractionPrompt = `Analyze this interaction:
Workflow: %q
User input: %q
AI response: %q

Extract 1-3 newly established key facts or system states.
If the focus has shifted, update industryContext.
Return only valid JSON: {"newFacts": ["string"], "personaUpdates": {"industryContext": "string"}}`
)

var extractionTemperature = 0.2

// Extractor asks a backend which facts an exchange established.
type Extractor struct {
	backend llm.Backend
}

func NewExtractor(backend llm.Backend) *Extractor {
	return &Extractor{backend: backend}
}

// Extract returns ok=false when the backend fails or answers with something
// that is not an extraction object. err carries the backend failure, if any.
func (e *Extractor) Extract(ctx context.Context, ex Exchange) (ExtractionResult, bool, error) {
	if e == nil || e.backend == nil {
		return ExtractionResult{}, false, llm.ErrNotConfigured
	}
	prompt := fmt.Sprintf(extractionPrompt,
		ex.Workflow,
		truncateRunes(ex.Input, extractInputRunes),
		truncateRunes(ex.Output, extractOutputRunes))

	raw, err := e.backend.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		JSON:        true,
		Temperature: &extractionTemperature,
	})
	if err != nil {
		return ExtractionResult{}, false, fmt.Errorf("extract: %w", err)
	}
	res, ok := ParseExtraction(raw)
	return res, ok, nil
}

// ParseExtraction decodes an extraction answer. It tries the whole text
// first, then the span between the first '{' and the last '}'. Anything else
// yields ok=false and an empty result.
func ParseExtraction(raw string) (ExtractionResult, bool) {
	raw = strings.TrimSpace(raw)
	if obj, ok := asObject(raw); ok {
		return decodeExtraction(obj), true
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ExtractionResult{}, false
	}
	if obj, ok := asObject(raw[start : end+1]); ok {
		return decodeExtraction(obj), true
	}
	return ExtractionResult{}, false
}

func asObject(s string) (gjson.Result, bool) {
	if !gjson.Valid(s) {
		return gjson.Result{}, false
	}
	r := gjson.Parse(s)
	return r, r.IsObject()
}

func decodeExtraction(obj gjson.Result) ExtractionResult {
	var res ExtractionResult
	facts := obj.Get("newFacts")
	if facts.IsArray() {
		facts.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				res.NewFacts = append(res.NewFacts, v.String())
			}
			return true
		})
	}
	if v := obj.Get("personaUpdates.industryContext"); v.Type == gjson.String {
		res.IndustryContext = v.String()
	}
	return res
}
