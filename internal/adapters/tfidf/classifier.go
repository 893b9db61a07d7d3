// Package tfidf scores messages with an exported TF-IDF vectorizer and
// logistic regression model.
package tfidf

import (
	"context"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/mikey/phish-filter/internal/core"
	"go.uber.org/zap"
)

// DefaultThreshold applies when neither the config nor the model sets one
const DefaultThreshold = 0.5

// Classifier implements core.Classifier. It is immutable after construction
// and safe for concurrent use.
type Classifier struct {
	vec       *Vectorizer
	model     *Model
	tokens    *regexp.Regexp
	threshold float64
	logger    *zap.Logger
}

// Load reads both artifacts from disk; any problem is a *core.ModelUnavailableError
func Load(vectorizerPath, modelPath string, threshold float64, logger *zap.Logger) (*Classifier, error) {
	var vec Vectorizer
	if err := loadJSON(vectorizerPath, &vec); err != nil {
		return nil, err
	}
	var model Model
	if err := loadJSON(modelPath, &model); err != nil {
		return nil, err
	}

	c, err := New(&vec, &model, threshold, logger)
	if err != nil {
		return nil, &core.ModelUnavailableError{Path: modelPath, Err: err}
	}

	logger.Info("Loaded TF-IDF classifier",
		zap.String("vectorizer", vectorizerPath),
		zap.String("model", modelPath),
		zap.Int("features", len(model.Coefficients)),
		zap.Float64("threshold", c.threshold))
	return c, nil
}

// New builds a classifier from already decoded artifacts
func New(vec *Vectorizer, model *Model, threshold float64, logger *zap.Logger) (*Classifier, error) {
	if err := validate(vec, model); err != nil {
		return nil, err
	}
	tokens, err := vec.tokenizer()
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = model.Threshold
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{
		vec:       vec,
		model:     model,
		tokens:    tokens,
		threshold: threshold,
		logger:    logger,
	}, nil
}

// Classify reports whether the phishing probability reaches the threshold
func (c *Classifier) Classify(ctx context.Context, subject, body string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p := c.Probability(subject, body)
	c.logger.Debug("TF-IDF score", zap.Float64("probability", p), zap.Float64("threshold", c.threshold))
	return p >= c.threshold, nil
}

// Probability returns sigmoid(w·x + b) for subject + " " + body
func (c *Classifier) Probability(subject, body string) float64 {
	features := c.transform(subject + " " + body)
	z := c.model.Intercept
	// fixed summation order keeps scores bit-for-bit reproducible
	for _, col := range sortedKeys(features) {
		z += c.model.Coefficients[col] * features[col]
	}
	return 1 / (1 + math.Exp(-z))
}

// transform returns the sparse, weighted and normalized feature vector
func (c *Classifier) transform(text string) map[int]float64 {
	if c.vec.lowercase() {
		text = strings.ToLower(text)
	}
	words := c.tokens.FindAllString(text, -1)

	counts := make(map[int]float64)
	lo, hi := c.vec.ngrams()
	for n := lo; n <= hi; n++ {
		for i := 0; i+n <= len(words); i++ {
			term := words[i]
			if n > 1 {
				term = strings.Join(words[i:i+n], " ")
			}
			if col, ok := c.vec.Vocabulary[term]; ok {
				counts[col]++
			}
		}
	}

	var sumSquares float64
	for _, col := range sortedKeys(counts) {
		tf := counts[col]
		if c.vec.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		if len(c.vec.IDF) > 0 {
			tf *= c.vec.IDF[col]
		}
		counts[col] = tf
		sumSquares += tf * tf
	}

	if (c.vec.Norm == "" || c.vec.Norm == "l2") && sumSquares > 0 {
		norm := math.Sqrt(sumSquares)
		for col := range counts {
			counts[col] /= norm
		}
	}
	return counts
}

// sortedKeys returns the keys of m in ascending order
func sortedKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
