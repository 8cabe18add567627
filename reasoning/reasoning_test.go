package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/llm"
	"github.com/brunobiangulo/policygraph/retrieval"
	"github.com/brunobiangulo/policygraph/store"
)

// stubChat answers every chat request with a fixed reply.
type stubChat struct {
	reply string
	err   error
	calls int
	last  llm.ChatRequest
}

func (s *stubChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Content: s.reply, Model: "stub", TotalTokens: 7}, nil
}

func (s *stubChat) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not supported")
}

func candidate(id, title, text string, score float64) retrieval.Candidate {
	return retrieval.Candidate{
		Article: store.Node{VersionID: "v1", Ref: clause.ArticleRef(id), Title: title, Text: text},
		Score:   score,
	}
}

func twoCandidates() []retrieval.Candidate {
	return []retrieval.Candidate{
		candidate("제1조", "보상하는 손해", "회사는 화재로 인한 직접손해를 보상합니다.", 0.9),
		candidate("제2조", "보상하지 않는 손해", "고의로 인한 손해는 보상하지 않습니다.", 0.7),
	}
}

func TestSelectUsesModelChoice(t *testing.T) {
	chat := &stubChat{reply: `{"selected_index": 2, "reason": "면책 질의"}`}
	sel, err := NewLLMSelector(chat, SelectorConfig{}).Select(context.Background(), "고의 사고도 보상되나요?", twoCandidates())
	require.NoError(t, err)
	assert.Equal(t, 1, sel.Index)
	assert.Equal(t, "제2조", sel.Candidate.Article.Ref.ID)
	assert.Equal(t, "면책 질의", sel.Rationale)
	assert.False(t, sel.Fallback)

	assert.Equal(t, "json_object", chat.last.ResponseFormat)
	assert.Equal(t, 0.1, chat.last.Temperature)
	require.Len(t, chat.last.Messages, 2)
	assert.Equal(t, selectSystemPrompt, chat.last.Messages[0].Content)
	prompt := chat.last.Messages[1].Content
	assert.Contains(t, prompt, "사용자 질의: 고의 사고도 보상되나요?")
	assert.Contains(t, prompt, "1. 제1조 - 보상하는 손해\n   내용: 회사는 화재로 인한 직접손해를 보상합니다....")
	assert.Contains(t, prompt, "\n\n2. 제2조 - 보상하지 않는 손해")
}

func TestSelectFallsBackToFirstCandidate(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"index out of range", `{"selected_index": 99, "reason": "?"}`, nil},
		{"index key out of range", `{"index": 99}`, nil},
		{"no index", `{"choice": 2}`, nil},
		{"zero index", `{"selected_index": 0}`, nil},
		{"not json", `제2조가 가장 적합합니다`, nil},
		{"string index", `{"selected_index": "two"}`, nil},
		{"transport error", "", errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLLMSelector(&stubChat{reply: tt.reply, err: tt.err}, SelectorConfig{})
			for range 3 {
				sel, err := s.Select(context.Background(), "q", twoCandidates())
				require.NoError(t, err)
				assert.True(t, sel.Fallback)
				assert.Equal(t, 0, sel.Index)
				assert.Equal(t, "제1조", sel.Candidate.Article.Ref.ID)
			}
		})
	}
}

func TestSelectAcceptsIndexRationaleReply(t *testing.T) {
	chat := &stubChat{reply: `{"index": 2, "rationale": "면책 질의"}`}
	sel, err := NewLLMSelector(chat, SelectorConfig{}).Select(context.Background(), "고의 사고도 보상되나요?", twoCandidates())
	require.NoError(t, err)
	assert.False(t, sel.Fallback)
	assert.Equal(t, 1, sel.Index)
	assert.Equal(t, "제2조", sel.Candidate.Article.Ref.ID)
	assert.Equal(t, "면책 질의", sel.Rationale)
}

func TestSelectNoCandidates(t *testing.T) {
	chat := &stubChat{}
	_, err := NewLLMSelector(chat, SelectorConfig{}).Select(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Zero(t, chat.calls)
}

func TestParseSelectionStripsWrapping(t *testing.T) {
	idx, reason, err := parseSelection("```json\n{\"selected_index\": 3, \"reason\": \"r\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
	assert.Equal(t, "r", reason)
}

func TestPreviewCountsRunes(t *testing.T) {
	assert.Equal(t, "보상하는", preview("보상하는 손해", 4))
	assert.Equal(t, "짧음", preview("짧음", 200))
	prompt := buildSelectPrompt("q", []retrieval.Candidate{
		candidate("제1조", "t", strings.Repeat("가", 300), 1),
	}, 200)
	assert.Contains(t, prompt, strings.Repeat("가", 200)+"...")
	assert.NotContains(t, prompt, strings.Repeat("가", 201))
}

func longArticle(hint clause.Hint) clause.Article {
	return clause.Article{
		ID:    "제5조",
		Title: "보험금의 지급",
		Text:  strings.Repeat("회사는 보험금 청구서류를 접수한 날부터 3영업일 이내에 보험금을 지급합니다. ", 5),
		Hint:  hint,
	}
}

func TestClassifyRefinesHint(t *testing.T) {
	chat := &stubChat{reply: `{"semantic_type": "Procedure", "reasoning": "지급 절차"}`}
	got := NewLLMClassifier(chat, "").Classify(context.Background(), longArticle(clause.HintCondition))
	assert.Equal(t, clause.HintProcedure, got)
	assert.Contains(t, chat.last.Messages[1].Content, "Hint (may be inaccurate): condition")
}

func TestClassifyKeepsHint(t *testing.T) {
	short := clause.Article{ID: "제1조", Title: "목적", Text: "이 약관은 보상 기준을 정합니다.", Hint: clause.HintGeneral}

	tests := []struct {
		name    string
		article clause.Article
		chat    *stubChat
		calls   int
	}{
		{"short text", short, &stubChat{reply: `{"semantic_type":"coverage"}`}, 0},
		{"transport error", longArticle(clause.HintCondition), &stubChat{err: errors.New("timeout")}, 1},
		{"unknown type", longArticle(clause.HintCondition), &stubChat{reply: `{"semantic_type":"other"}`}, 1},
		{"not json", longArticle(clause.HintCondition), &stubChat{reply: `procedure`}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewLLMClassifier(tt.chat, "").Classify(context.Background(), tt.article)
			assert.Equal(t, tt.article.Hint, got)
			assert.Equal(t, tt.calls, tt.chat.calls)
		})
	}
}

func testContext() *retrieval.Context {
	return &retrieval.Context{
		Text: "# 제1조: 보상하는 손해\n\n회사는 보상합니다.\n\n## [참조] 제3조제1항\n\n화재란 ...\n\n",
		Sources: []retrieval.Unit{
			{Kind: clause.KindArticle, ID: "제1조", Title: "보상하는 손해", VersionID: "v1"},
		},
		References: []retrieval.Unit{
			{Kind: clause.KindParagraph, ID: "제3조제1항", VersionID: "v1"},
		},
	}
}

func TestAnswerStructured(t *testing.T) {
	chat := &stubChat{reply: `{
		"answer": "화재로 인한 직접손해를 보상합니다 (제1조).",
		"coverage": ["화재 직접손해"],
		"citations": [{"clause_id": "제1조", "title": "보상하는 손해"}, {"clause_id": "제9조"}],
		"confidence": 0.9
	}`}
	ans, err := NewAnswerer(chat, "").Answer(context.Background(), "화재도 보상되나요?", testContext())
	require.NoError(t, err)
	assert.Equal(t, "화재로 인한 직접손해를 보상합니다 (제1조).", ans.Text)
	assert.Equal(t, []string{"화재 직접손해"}, ans.Coverage)
	require.Len(t, ans.Citations, 2)
	assert.True(t, ans.Citations[0].Verified)
	assert.False(t, ans.Citations[1].Verified)
	// 0.6*0.9 + 0.4*0.5
	assert.InDelta(t, 0.74, ans.Confidence, 1e-9)
	assert.Equal(t, "stub", ans.ModelUsed)
	assert.Contains(t, chat.last.Messages[1].Content, "Question: 화재도 보상되나요?")
	assert.Contains(t, chat.last.Messages[1].Content, "## [참조] 제3조제1항")
}

func TestAnswerRawTextExtractsCitations(t *testing.T) {
	chat := &stubChat{reply: "제1조제2항제1호와 제3조제1항에 따라 보상합니다."}
	ans, err := NewAnswerer(chat, "").Answer(context.Background(), "q", testContext())
	require.NoError(t, err)
	assert.Equal(t, "제1조제2항제1호와 제3조제1항에 따라 보상합니다.", ans.Text)
	assert.Equal(t, []Citation{
		{ClauseID: "제3조제1항", Verified: true},
		{ClauseID: "제1조제2항제1호", Verified: true},
	}, ans.Citations)
}

func TestAnswerErrors(t *testing.T) {
	_, err := NewAnswerer(&stubChat{}, "").Answer(context.Background(), "q", &retrieval.Context{})
	assert.Error(t, err)

	_, err = NewAnswerer(&stubChat{err: errors.New("down")}, "").Answer(context.Background(), "q", testContext())
	assert.ErrorContains(t, err, "answer generation")
}

func TestEstimateConfidence(t *testing.T) {
	assert.Zero(t, estimateConfidence("  ", 0.9, nil))
	assert.InDelta(t, 0.4, estimateConfidence("보상합니다", -1, nil), 1e-9)
	assert.InDelta(t, 1.0, estimateConfidence("보상합니다", 1, []Citation{{Verified: true}}), 1e-9)
	assert.InDelta(t, 0.3, estimateConfidence("약관에서 찾을 수 없습니다", -1, nil), 1e-9)
	assert.InDelta(t, 0.5, estimateConfidence("x", 7, []Citation{{Verified: true}, {Verified: false}}), 1e-9)
}
