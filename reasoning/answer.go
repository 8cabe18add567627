package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/policygraph/llm"
	"github.com/brunobiangulo/policygraph/retrieval"
)

// Answer is a response written from an assembled context.
type Answer struct {
	Text        string     `json:"text"`
	Coverage    []string   `json:"coverage,omitempty"`
	Exclusions  []string   `json:"exclusions,omitempty"`
	Conditions  []string   `json:"conditions,omitempty"`
	Citations   []Citation `json:"citations,omitempty"`
	Confidence  float64    `json:"confidence"`
	ModelUsed   string     `json:"model_used"`
	TotalTokens int        `json:"total_tokens"`
	ElapsedMs   int64      `json:"elapsed_ms"`
}

// Answerer writes answers grounded in one assembled context.
type Answerer struct {
	chat  llm.Provider
	model string
}

// NewAnswerer creates an answerer. An empty model uses the provider's
// default.
func NewAnswerer(chat llm.Provider, model string) *Answerer {
	return &Answerer{chat: chat, model: model}
}

const answerSystemPrompt = "You are an insurance policy expert assistant. Respond with JSON only."

type answerResponse struct {
	Answer     string     `json:"answer"`
	Coverage   []string   `json:"coverage"`
	Exclusions []string   `json:"exclusions"`
	Conditions []string   `json:"conditions"`
	Citations  []Citation `json:"citations"`
	Confidence *float64   `json:"confidence"`
}

// Answer asks the model to answer question from c. A response that is not
// the requested JSON is kept as plain answer text.
func (a *Answerer) Answer(ctx context.Context, question string, c *retrieval.Context) (*Answer, error) {
	if c == nil || c.Text == "" {
		return nil, errors.New("reasoning: empty context")
	}
	start := time.Now()
	slog.Info("answer: generating", "question_len", len(question), "context_len", len(c.Text))

	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Model:          a.model,
		Messages:       []llm.Message{llm.System(answerSystemPrompt), llm.User(buildAnswerPrompt(question, c.Text))},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("answer generation: %w", err)
	}

	out := &Answer{ModelUsed: resp.Model, TotalTokens: resp.TotalTokens}
	var r answerResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &r); err != nil || r.Answer == "" {
		slog.Warn("answer: response was not structured, keeping raw text", "error", err)
		out.Text = strings.TrimSpace(resp.Content)
	} else {
		out.Text = r.Answer
		out.Coverage, out.Exclusions, out.Conditions = r.Coverage, r.Exclusions, r.Conditions
		out.Citations = r.Citations
	}
	if len(out.Citations) == 0 {
		out.Citations = ExtractCitations(out.Text)
	}
	VerifyCitations(out.Citations, c)

	var stated float64 = -1
	if r.Confidence != nil {
		stated = *r.Confidence
	}
	out.Confidence = estimateConfidence(out.Text, stated, out.Citations)
	out.ElapsedMs = time.Since(start).Milliseconds()

	slog.Info("answer: complete", "tokens", resp.TotalTokens, "citations", len(out.Citations),
		"confidence", fmt.Sprintf("%.2f", out.Confidence),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func buildAnswerPrompt(question, context string) string {
	return fmt.Sprintf(`Based on the retrieved policy clauses, answer the user's question accurately and clearly.

IMPORTANT RULES:
1. Answer ONLY based on the provided policy clauses
2. Always cite the specific clause (조항) for each statement
3. Organize your answer by:
   - Coverage (보상내용)
   - Exclusions (면책사항)
   - Conditions (조건/요건)
   - Additional Notes (참고사항)

4. Use clear, professional Korean
5. If information is not found, say so clearly

Question: %s

Retrieved Policy Clauses:
%s

Provide your answer in the following JSON format:
{
  "answer": "your detailed answer here",
  "coverage": ["coverage point 1", "coverage point 2"],
  "exclusions": ["exclusion 1"],
  "conditions": ["condition 1"],
  "citations": [
    {"clause_id": "제X조", "title": "title", "text": "relevant excerpt"}
  ],
  "confidence": 0.0
}`, question, context)
}
