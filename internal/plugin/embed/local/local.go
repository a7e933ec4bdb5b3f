// Package local implements the always-available fallback embedder: a
// deterministic, restartable 512-dimension vector built from a hashed
// token-frequency projection, with stop-word removal for Latin-script and
// CJK text.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/memento-ai/memento/internal/config"
	registryembed "github.com/memento-ai/memento/internal/registry/embed"
)

const (
	modelName = "local-tfidf-hash-512"
	dimension = 512
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registryembed.Embedder, error) {
			dim := dimension
			if cfg := config.FromContext(ctx); cfg != nil && cfg.Embedding.LocalDim > 0 {
				dim = cfg.Embedding.LocalDim
			}
			return &Embedder{dim: dim}, nil
		},
	})
}

// Embedder is the local, dependency-free embedding provider.
type Embedder struct {
	dim int
}

func (e *Embedder) ModelName() string { return modelName }

func (e *Embedder) Dimension() int {
	if e.dim <= 0 {
		return dimension
	}
	return e.dim
}

func (e *Embedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	dim := e.Dimension()
	// Document frequency across this batch feeds the IDF half of the
	// token weight; a single-document corpus degenerates gracefully to a
	// pure hashed term-frequency signature.
	docTokens := make([][]string, len(texts))
	df := make(map[string]int)
	for i, text := range texts {
		toks := tokenize(text)
		docTokens[i] = toks
		seen := make(map[string]struct{}, len(toks))
		for _, tok := range toks {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	n := float64(len(texts))
	results := make([][]float32, len(texts))
	for i, toks := range docTokens {
		results[i] = embedTokens(toks, df, n, dim)
	}
	return results, nil
}

func embedTokens(tokens []string, df map[string]int, numDocs float64, dim int) []float32 {
	vector := make([]float32, dim)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	for tok, count := range tf {
		idf := 1.0
		if d := df[tok]; d > 0 && numDocs > 0 {
			idf = math.Log(1 + numDocs/float64(d))
		}
		weight := float32(float64(count) * idf)
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		i := int(h.Sum64() % uint64(dim))
		vector[i] += weight
	}

	var norm float32
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

// tokenize lowercases, splits on non-letter/non-number runes, passes each
// field through splitCJK (which segments CJK text into individual
// characters, a reasonable proxy for word boundaries absent a dictionary),
// and drops stop words.
func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, tok := range splitCJK(f) {
			if isStopWord(tok) {
				continue
			}
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// splitCJK further segments any run of CJK characters within a field into
// individual single-rune tokens; Latin-script fields pass through whole.
func splitCJK(field string) []string {
	hasCJK := false
	for _, r := range field {
		if isCJK(r) {
			hasCJK = true
			break
		}
	}
	if !hasCJK {
		return []string{field}
	}
	out := make([]string, 0, len(field))
	for _, r := range field {
		out = append(out, string(r))
	}
	return out
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

var latinStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "le": {}, "la": {}, "les": {},
	"de": {}, "du": {}, "et": {}, "el": {}, "los": {}, "las": {}, "un": {}, "une": {},
}

var cjkStopWords = map[string]struct{}{
	"的": {}, "了": {}, "是": {}, "在": {}, "и": {}, "の": {}, "は": {}, "が": {}, "を": {}, "に": {},
}

func isStopWord(tok string) bool {
	if _, ok := latinStopWords[tok]; ok {
		return true
	}
	if _, ok := cjkStopWords[tok]; ok {
		return true
	}
	return false
}

var _ registryembed.Embedder = (*Embedder)(nil)
