package tfidf

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/mikey/phish-filter/internal/core"
)

// defaultTokenPattern is the scikit-learn default; Go's \w is ASCII-only, so
// the equivalent maximal run of two or more Unicode word characters is used.
const defaultTokenPattern = `(?u)\b\w\w+\b`

var unicodeWords = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer is an exported TF-IDF vectorizer
type Vectorizer struct {
	Vocabulary   map[string]int `json:"vocabulary"`
	IDF          []float64      `json:"idf"`
	Lowercase    *bool          `json:"lowercase,omitempty"`
	TokenPattern string         `json:"token_pattern,omitempty"`
	NgramRange   [2]int         `json:"ngram_range"`
	SublinearTF  bool           `json:"sublinear_tf"`
	Norm         string         `json:"norm"`
}

// Model is an exported binary logistic regression
type Model struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Threshold    float64   `json:"threshold,omitempty"`
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &core.ModelUnavailableError{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &core.ModelUnavailableError{Path: path, Err: fmt.Errorf("invalid artifact: %w", err)}
	}
	return nil
}

func (v *Vectorizer) lowercase() bool {
	return v.Lowercase == nil || *v.Lowercase
}

func (v *Vectorizer) ngrams() (int, int) {
	lo, hi := v.NgramRange[0], v.NgramRange[1]
	if lo <= 0 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (v *Vectorizer) tokenizer() (*regexp.Regexp, error) {
	if v.TokenPattern == "" || v.TokenPattern == defaultTokenPattern {
		return unicodeWords, nil
	}
	re, err := regexp.Compile(strings.TrimPrefix(v.TokenPattern, "(?u)"))
	if err != nil {
		return nil, fmt.Errorf("unsupported token pattern %q: %w", v.TokenPattern, err)
	}
	return re, nil
}

// validate checks that the vectorizer and model describe the same feature space
func validate(v *Vectorizer, m *Model) error {
	n := len(m.Coefficients)
	if n == 0 {
		return fmt.Errorf("model has no coefficients")
	}
	if len(v.Vocabulary) == 0 {
		return fmt.Errorf("vectorizer has an empty vocabulary")
	}
	if len(v.IDF) != 0 && len(v.IDF) != n {
		return fmt.Errorf("idf has %d weights but the model has %d coefficients", len(v.IDF), n)
	}
	for term, col := range v.Vocabulary {
		if col < 0 || col >= n {
			return fmt.Errorf("term %q maps to column %d outside [0,%d)", term, col, n)
		}
	}
	switch v.Norm {
	case "", "l2", "none":
	default:
		return fmt.Errorf("unsupported norm %q", v.Norm)
	}
	return nil
}
