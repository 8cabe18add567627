package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/policygraph"
	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/reasoning"
	"github.com/brunobiangulo/policygraph/retrieval"
	"github.com/brunobiangulo/policygraph/store"
)

const policyText = "제1조(보상하는 손해)\n① 회사는 화재로 인한 손해를 보상합니다.\n1. 화재\n2. 낙뢰\n" +
	"제2조(보상하지 않는 손해)\n제1조에도 불구하고 고의로 인한 손해는 보상하지 않습니다.\n"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommandTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte(policyText), 0o644))

	out, err := run(t, "", "parse", path)
	require.NoError(t, err)
	assert.Contains(t, out, "제1조 보상하는 손해 [coverage]")
	assert.Contains(t, out, "  제1조제1항\n    제1조제1항제1호\n    제1조제1항제2호\n")
	assert.Contains(t, out, "제2조제1항 (synthetic)")
	assert.Contains(t, out, "제2조제1항 -> 제1조")
	assert.Contains(t, out, "articles=2 paragraphs=2 items=2 references=1")
}

func TestParseCommandJSONFromStdin(t *testing.T) {
	out, err := run(t, policyText, "parse", "-", "--json")
	require.NoError(t, err)

	var tree treeView
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	require.Len(t, tree.Articles, 2)
	assert.Equal(t, "제1조", tree.Articles[0].ID)
	require.Len(t, tree.Articles[0].Paragraphs, 1)
	assert.Len(t, tree.Articles[0].Paragraphs[0].Items, 2)
	assert.True(t, tree.Articles[1].Paragraphs[0].Synthetic)
	assert.Equal(t, []string{"제2조제1항 -> 제1조"}, tree.References)
}

func TestParseCommandErrors(t *testing.T) {
	_, err := run(t, "", "parse")
	assert.Error(t, err)

	_, err = run(t, "", "parse", "policy.hwp")
	assert.Error(t, err)
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	writeResult(&buf, &policygraph.Result{Retrieval: policygraph.Retrieval{Reason: policygraph.ReasonNoNodes}})
	assert.Equal(t, "not found: no relevant nodes found\n", buf.String())

	article := store.Node{VersionID: "v1", Ref: clause.ArticleRef("제1조"), Title: "보상하는 손해"}
	res := &policygraph.Result{
		Retrieval: policygraph.Retrieval{
			Found:     true,
			Article:   &article,
			Selection: &reasoning.Selection{Fallback: true},
			Context:   &retrieval.Context{Text: "# 제1조: 보상하는 손해\n\n본문\n\n"},
		},
	}
	buf.Reset()
	writeResult(&buf, res)
	assert.Contains(t, buf.String(), "제1조 보상하는 손해 (version v1)")
	assert.Contains(t, buf.String(), "(fallback)")
	assert.Contains(t, buf.String(), "# 제1조: 보상하는 손해")

	res.Answer = &reasoning.Answer{
		Text:       "화재 손해를 보상합니다.",
		Confidence: 0.8,
		Citations:  []reasoning.Citation{{ClauseID: "제1조", Verified: true}},
	}
	buf.Reset()
	writeResult(&buf, res)
	assert.Contains(t, buf.String(), "confidence: 0.80")
	assert.Contains(t, buf.String(), "[✓] 제1조")
	assert.NotContains(t, buf.String(), "본문")
}
