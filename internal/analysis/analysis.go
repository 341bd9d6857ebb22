package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout means the external capability did not answer within
	// the configured bound.
	ErrTimeout = errors.New("analysis timed out")
	// ErrMalformed means the completion did not contain a parseable
	// structured payload.
	ErrMalformed = errors.New("analysis result malformed")
	// ErrTransport covers network and credential failures.
	ErrTransport = errors.New("analysis transport failure")
)

// Analysis is the structured outcome of analyzing one decision.
type Analysis struct {
	DecisionCategory    string   `json:"decisionCategory"`
	CognitiveBiases     []string `json:"cognitiveBiases"`
	MissingAlternatives []string `json:"missingAlternatives"`
}

// Gateway invokes the external analysis capability. Implementations
// must not mutate inputs and must be safe for concurrent calls.
type Gateway interface {
	Analyze(ctx context.Context, description, decision string, considerations []string) (Analysis, error)
}

func systemPrompt() string {
	return "You are an assistant that analyzes user decisions and always responds " +
		"in the same language as the user input. Analyze the decision and return " +
		"only JSON with keys decisionCategory (e.g. \"emotional\", \"strategic\", " +
		"\"impulsive\", or another category of your choosing), cognitiveBiases " +
		"(must contain at least one bias), and missingAlternatives (overlooked " +
		"alternatives with brief explanations)."
}

func userPrompt(description, decision string, considerations []string) string {
	return fmt.Sprintf(
		"Situation: %s\nDecision: %s\nConsiderations: %s\n\n"+
			"Return only JSON:\n"+
			`{"decisionCategory": string, "cognitiveBiases": string[], "missingAlternatives": string[]}`,
		description, decision, strings.Join(considerations, ", "),
	)
}

// parseAnalysis extracts the first {...} JSON object from the raw
// completion text. The model is asked for bare JSON but tends to wrap
// it in prose or code fences.
func parseAnalysis(content string) (Analysis, error) {
	if strings.TrimSpace(content) == "" {
		return Analysis{}, fmt.Errorf("%w: empty completion", ErrMalformed)
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("%w: no JSON object in completion", ErrMalformed)
	}
	var a Analysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &a); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// An empty biases list violates the advisory contract but is passed
	// through as-is; the capability owns its output.
	return a, nil
}
