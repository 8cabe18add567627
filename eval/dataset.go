package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dataset is a collection of test cases for evaluation.
type Dataset struct {
	Name string `json:"name" yaml:"name"`
	// VersionID applies to every test that does not set its own.
	VersionID string     `json:"version_id,omitempty" yaml:"version_id,omitempty"`
	Tests     []TestCase `json:"tests" yaml:"tests"`
}

// TestCase defines a single evaluation question.
type TestCase struct {
	Question string `json:"question" yaml:"question"`
	// ExpectedArticle is the article id ("제3조") the question should select.
	ExpectedArticle string `json:"expected_article" yaml:"expected_article"`
	// ExpectedFacts should appear in the answer, or in the context when no
	// answer was generated. Pipe-separated alternatives match any one.
	ExpectedFacts []string `json:"expected_facts,omitempty" yaml:"expected_facts,omitempty"`
	Category      string   `json:"category,omitempty" yaml:"category,omitempty"` // coverage, exclusion, cross-reference, ...
	VersionID     string   `json:"version_id,omitempty" yaml:"version_id,omitempty"`
}

// LoadDataset reads a dataset from a YAML or JSON file.
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("reading dataset: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &ds)
	} else {
		err = yaml.Unmarshal(data, &ds)
	}
	if err != nil {
		return ds, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i, tc := range ds.Tests {
		if strings.TrimSpace(tc.Question) == "" {
			return ds, fmt.Errorf("dataset %s: test %d has no question", ds.Name, i+1)
		}
		if tc.ExpectedArticle == "" {
			return ds, fmt.Errorf("dataset %s: test %d has no expected_article", ds.Name, i+1)
		}
	}
	return ds, nil
}
