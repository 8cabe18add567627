package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/llm"
)

// Classifier refines the title-derived hint of an article.
type Classifier interface {
	// Classify returns the refined hint. It returns the input hint whenever
	// it cannot do better.
	Classify(ctx context.Context, a clause.Article) clause.Hint
}

// MinClassifyChars is the text length below which the title hint is kept.
const MinClassifyChars = 150

// LLMClassifier asks a chat model for the semantic type of an article.
type LLMClassifier struct {
	chat  llm.Provider
	model string
}

// NewLLMClassifier creates a classifier. An empty model uses the
// provider's default.
func NewLLMClassifier(chat llm.Provider, model string) *LLMClassifier {
	return &LLMClassifier{chat: chat, model: model}
}

const classifySystemPrompt = "You are an expert at analyzing insurance policy documents in Korean. Respond with JSON only."

type classifyResponse struct {
	SemanticType string `json:"semantic_type"`
	Reasoning    string `json:"reasoning"`
}

// Classify keeps the hint for short texts and on any model failure.
func (c *LLMClassifier) Classify(ctx context.Context, a clause.Article) clause.Hint {
	if utf8.RuneCountInString(a.Text) < MinClassifyChars {
		classifierOverrides.WithLabelValues("short").Inc()
		return a.Hint
	}

	resp, err := c.chat.Chat(ctx, llm.ChatRequest{
		Model:          c.model,
		Messages:       []llm.Message{llm.System(classifySystemPrompt), llm.User(buildClassifyPrompt(a))},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		classifierOverrides.WithLabelValues("error").Inc()
		slog.Warn("classify: keeping title hint", "article", a.ID, "error", err)
		return a.Hint
	}

	var r classifyResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &r); err != nil {
		classifierOverrides.WithLabelValues("error").Inc()
		slog.Warn("classify: unparseable response", "article", a.ID, "error", err)
		return a.Hint
	}
	h, ok := clause.ParseHint(r.SemanticType)
	if !ok {
		classifierOverrides.WithLabelValues("error").Inc()
		slog.Warn("classify: unknown semantic type", "article", a.ID, "type", r.SemanticType)
		return a.Hint
	}

	if h == a.Hint {
		classifierOverrides.WithLabelValues("confirmed").Inc()
	} else {
		classifierOverrides.WithLabelValues("changed").Inc()
		slog.Debug("classify: hint changed", "article", a.ID, "from", string(a.Hint), "to", string(h),
			"reasoning", r.Reasoning)
	}
	return h
}

func buildClassifyPrompt(a clause.Article) string {
	hint := string(a.Hint)
	if hint == "" {
		hint = "none"
	}
	return fmt.Sprintf(`Identify the SEMANTIC TYPE of this insurance policy clause.

SEMANTIC TYPE DEFINITIONS:
- "coverage": What IS covered/compensated (보상하는 손해, 지급하는 보험금)
- "exclusion": What is NOT covered/excluded (보상하지 아니하는 손해, 면책사항)
- "condition": Requirements, procedures, obligations (조건, 의무, 청구절차)
- "deductible": Self-payment amounts (자기부담금)
- "limit": Coverage limits, maximum amounts (보상한도, 최고한도액)
- "definition": Term definitions (용어의 정의, 의미)
- "procedure": Administrative procedures (절차, 방법)
- "general": Other general provisions

Clause to analyze:
---
Title: %s
Hint (may be inaccurate): %s

Content:
%s
---

Return a JSON object:
{"semantic_type": "coverage|exclusion|condition|deductible|limit|definition|procedure|general", "reasoning": "brief reason"}`,
		a.Title, hint, a.Text)
}
