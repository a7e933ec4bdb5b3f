// Package inject implements the Context Injector (spec §4.9): it runs
// Hybrid Retrieval for a query, packs the highest (relevance+importance)
// candidates into a token-budgeted block, and formats that block the way a
// system-context injection is meant to be consumed by an LLM prompt.
// Grounded on hieuntg81-alfred-ai's internal/usecase.ContextBuilder.formatMemory
// for the strings.Builder section-per-entry shape, and its Compressor for
// the idea of compressing long material under a budget before injection.
package inject

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/memento-ai/memento/internal/model"
	"github.com/memento-ai/memento/internal/ranking"
	registrystore "github.com/memento-ai/memento/internal/registry/store"
	"github.com/memento-ai/memento/internal/retrieval"
)

const (
	defaultTokenBudget = 1000
	defaultMaxMemories = 5
	charsPerToken      = 4
	noRelatedMemories  = "no related memories"
	maxKeywords        = 6
)

// Request is the inject() operation's input (spec §6).
type Request struct {
	Query         string
	TokenBudget   int
	MaxMemories   int
	Filter        registrystore.Filter
	ImportanceMin float64
}

// Result is the inject() operation's output.
type Result struct {
	Text          string
	MemoriesUsed  int
	TokenEstimate int
}

// retriever is the slice of *retrieval.Orchestrator that Inject depends on,
// narrowed to an interface so tests can supply a fake instead of a fully
// wired store/vector/embedding stack.
type retriever interface {
	Query(ctx context.Context, queryText string, filter registrystore.Filter, limit int) ([]retrieval.Hit, error)
}

// Injector formats Hybrid Retrieval results into a token-budgeted context
// block.
type Injector struct {
	retrieval retriever
}

// New builds an Injector over an already-constructed Hybrid Retrieval
// orchestrator.
func New(orchestrator *retrieval.Orchestrator) *Injector {
	return &Injector{retrieval: orchestrator}
}

// Inject runs the §4.9 algorithm: retrieve up to 2·max_memories candidates,
// sort by relevance+importance, and greedily pack a per-memory-budgeted
// compressed summary of each until max_memories or token_budget is hit.
func (inj *Injector) Inject(ctx context.Context, req Request) (Result, error) {
	tokenBudget := req.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	maxMemories := req.MaxMemories
	if maxMemories <= 0 {
		maxMemories = defaultMaxMemories
	}

	hits, err := inj.retrieval.Query(ctx, req.Query, req.Filter, maxMemories*2)
	if err != nil {
		return Result{}, err
	}

	if req.ImportanceMin > 0 {
		filtered := hits[:0]
		for _, h := range hits {
			if h.Memory.Importance >= req.ImportanceMin {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return combinedScore(hits[i].Features) > combinedScore(hits[j].Features)
	})

	if len(hits) == 0 {
		return Result{Text: noRelatedMemories, MemoriesUsed: 0, TokenEstimate: 0}, nil
	}

	perMemoryBudget := tokenBudget / maxMemories
	if perMemoryBudget <= 0 {
		perMemoryBudget = tokenBudget
	}
	charBudget := perMemoryBudget * charsPerToken

	var sb strings.Builder
	sb.WriteString("## Memory Context\n\n")

	used := 0
	tokenEstimate := 0
	for _, h := range hits {
		if used >= maxMemories {
			break
		}
		summary := compress(h.Memory.Content, charBudget)
		section := formatSection(h.Memory, summary)
		estimate := tokenCount(section)
		if used > 0 && tokenEstimate+estimate > tokenBudget {
			break
		}
		sb.WriteString(section)
		tokenEstimate += estimate
		used++
	}

	if used == 0 {
		return Result{Text: noRelatedMemories, MemoriesUsed: 0, TokenEstimate: 0}, nil
	}

	return Result{
		Text:          strings.TrimRight(sb.String(), "\n"),
		MemoriesUsed:  used,
		TokenEstimate: tokenEstimate,
	}, nil
}

func combinedScore(f ranking.Features) float64 {
	return f.Relevance + f.Importance
}

func formatSection(m model.Memory, summary string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### [%s] %s\n", m.Type, stars(m.Importance))
	sb.WriteString(summary)
	sb.WriteString("\n\n")
	return sb.String()
}

// stars renders importance as a 5-star bar, rounding to the nearest star.
func stars(importance float64) string {
	n := int(importance*5 + 0.5)
	if n < 0 {
		n = 0
	}
	if n > 5 {
		n = 5
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

// tokenCount is the spec's cheap ceil(chars/4) estimate.
func tokenCount(s string) int {
	n := len([]rune(s))
	return (n + charsPerToken - 1) / charsPerToken
}

// compress reduces content to its first sentence, a handful of keywords
// drawn from any middle sentences, and its last sentence, then truncates the
// result to charBudget runes.
func compress(content string, charBudget int) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return truncate(content, charBudget)
	}
	if len(sentences) == 1 {
		return truncate(sentences[0], charBudget)
	}

	first := sentences[0]
	last := sentences[len(sentences)-1]

	var summary string
	if len(sentences) > 2 {
		keywords := middleKeywords(sentences[1 : len(sentences)-1])
		if len(keywords) > 0 {
			summary = first + " [" + strings.Join(keywords, ", ") + "] " + last
		} else {
			summary = first + " " + last
		}
	} else {
		summary = first + " " + last
	}

	return truncate(summary, charBudget)
}

// splitSentences is a simple, punctuation-based splitter; it need not be
// linguistically precise, only good enough to anchor a first/last sentence.
func splitSentences(content string) []string {
	var out []string
	start := 0
	runes := []rune(content)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		s := strings.TrimSpace(string(runes[start:]))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// middleKeywords picks the longest distinct tokens out of the sentences
// between the first and last, capped at maxKeywords.
func middleKeywords(middle []string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, s := range middle {
		for _, tok := range ranking.Tokenize(s) {
			if len(tok) < 4 || seen[tok] {
				continue
			}
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	if len(tokens) > maxKeywords {
		tokens = tokens[:maxKeywords]
	}
	sort.Strings(tokens)
	return tokens
}

func truncate(s string, charBudget int) string {
	if charBudget <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= charBudget {
		return s
	}
	if charBudget <= 1 {
		return string(runes[:charBudget])
	}
	return string(runes[:charBudget-1]) + "…"
}
