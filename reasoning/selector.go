// Package reasoning holds the LLM-backed decisions of the pipeline behind
// narrow interfaces: choosing one article among candidates, refining a
// clause-type hint and writing the final answer.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/policygraph/llm"
	"github.com/brunobiangulo/policygraph/retrieval"
)

// Selection is the outcome of choosing one candidate article.
type Selection struct {
	// Index is the 0-based position of the chosen candidate.
	Index     int                 `json:"index"`
	Candidate retrieval.Candidate `json:"candidate"`
	Rationale string              `json:"rationale,omitempty"`
	// Fallback is set when the first candidate was taken because the
	// model's answer was unusable.
	Fallback bool `json:"fallback"`
}

// Selector chooses exactly one article for a query. Implementations must
// return a selection whenever candidates is non-empty.
type Selector interface {
	Select(ctx context.Context, query string, candidates []retrieval.Candidate) (*Selection, error)
}

// SelectorConfig tunes the LLM selector.
type SelectorConfig struct {
	PreviewChars int
	Temperature  float64
	Model        string
}

// LLMSelector asks a chat model to pick a candidate by 1-based index.
type LLMSelector struct {
	chat llm.Provider
	cfg  SelectorConfig
}

// NewLLMSelector creates a selector. Zero config values get defaults.
func NewLLMSelector(chat llm.Provider, cfg SelectorConfig) *LLMSelector {
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 200
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	return &LLMSelector{chat: chat, cfg: cfg}
}

const selectSystemPrompt = "당신은 보험약관 전문가입니다. 주어진 조항들 중 질의에 가장 적합한 조항을 선택합니다."

type selectResponse struct {
	SelectedIndex *int   `json:"selected_index"`
	Index         *int   `json:"index"`
	Reason        string `json:"reason"`
	Rationale     string `json:"rationale"`
}

// Select never fails on a bad model answer: transport errors, malformed
// JSON and out-of-range indexes all select the first candidate. It only
// returns an error when there is nothing to choose from.
func (s *LLMSelector) Select(ctx context.Context, query string, candidates []retrieval.Candidate) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	start := time.Now()
	prompt := buildSelectPrompt(query, candidates, s.cfg.PreviewChars)
	resp, err := s.chat.Chat(ctx, llm.ChatRequest{
		Model:          s.cfg.Model,
		Messages:       []llm.Message{llm.System(selectSystemPrompt), llm.User(prompt)},
		Temperature:    s.cfg.Temperature,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return fallback(candidates, FallbackTransport, err), nil
	}

	idx, reason, err := parseSelection(resp.Content)
	if err != nil {
		return fallback(candidates, FallbackUnparseable, err), nil
	}
	if idx < 1 || idx > len(candidates) {
		return fallback(candidates, FallbackOutOfRange,
			fmt.Errorf("index %d outside 1..%d", idx, len(candidates))), nil
	}

	chosen := candidates[idx-1]
	slog.Info("select: article chosen", "article", chosen.Article.Ref.ID,
		"index", idx, "candidates", len(candidates),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return &Selection{Index: idx - 1, Candidate: chosen, Rationale: reason}, nil
}

func fallback(candidates []retrieval.Candidate, reason string, err error) *Selection {
	selectorFallbacks.WithLabelValues(reason).Inc()
	slog.Warn("select: falling back to first candidate", "reason", reason,
		"article", candidates[0].Article.Ref.ID, "error", err)
	return &Selection{Candidate: candidates[0], Rationale: "fallback: " + reason, Fallback: true}
}

// parseSelection reads {"selected_index": N, "reason": "..."} or the
// {"index": N, "rationale": "..."} form. Models
// sometimes wrap the object in prose or a code fence, so the outermost
// braces are extracted first.
func parseSelection(content string) (int, string, error) {
	raw := content
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		raw = raw[i : j+1]
	}
	var r selectResponse
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return 0, "", fmt.Errorf("decoding selection: %w", err)
	}
	idx := r.SelectedIndex
	if idx == nil {
		idx = r.Index
	}
	if idx == nil {
		return 0, "", fmt.Errorf("selection has no selected_index or index")
	}
	reason := r.Reason
	if reason == "" {
		reason = r.Rationale
	}
	return *idx, reason, nil
}

func buildSelectPrompt(query string, candidates []retrieval.Candidate, previewChars int) string {
	summaries := make([]string, len(candidates))
	for i, c := range candidates {
		summaries[i] = fmt.Sprintf("%d. %s - %s\n   내용: %s...",
			i+1, c.Article.Ref.ID, c.Article.Title, preview(c.Article.Text, previewChars))
	}
	return fmt.Sprintf(`다음은 사용자 질의와 관련 가능성이 있는 보험약관 조항들입니다.

사용자 질의: %s

후보 조항들:
%s

위 조항들 중에서 사용자 질의에 가장 적합하고 관련성이 높은 조항을 **단 하나만** 선택해주세요.

응답 형식 (JSON):
{
  "selected_index": 1,
  "reason": "선택 이유를 한 문장으로"
}
`, query, strings.Join(summaries, "\n\n"))
}

// preview truncates to n runes so Hangul is never cut mid-character.
func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
