// Package heal is H2, the healing interceptor (§4.13): a two-stage
// fallback invoked at most once per failed lookup, after P2's locator
// cascade is exhausted. Stage one asks H1's LLM client to propose a new
// locator from a truncated DOM snippet; stage two, used when the LLM
// declines or errors, falls back to a text-similarity XPath built from
// the element's recorded text. Both stages are best-effort: if both
// fail, the original ElementNotFound is preserved as the wrapped cause
// of a HealingExhausted error (§4.13, §7).
//
// Grounded on gasoline-mcp's internal/recording/playback_engine.go
// executeClickWithHealing strategy cascade (itself a multi-stage
// fallback after primary locator failure) and on internal/mcp/errors.go's
// practice of wrapping the original cause rather than discarding it.
package heal

import (
	"context"
	"regexp"
	"strings"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/llmclient"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// cannotHealSentinel is the exact token the LLM prompt instructs the
// model to reply with when it cannot propose a locator, so stage one can
// fail over to stage two without treating an honest "I don't know" as a
// transport error.
const cannotHealSentinel = "CANNOT_HEAL"

// Config configures both healing stages (§6 ai.healer.* keys).
type Config struct {
	DOMSnippetChars int
	// TextSimilarityPrefixChars caps how much of the recorded element
	// text seeds the stage-two XPath. DESIGN.md records the 40-char
	// default chosen here as long enough to disambiguate common UI copy
	// without over-fitting to text that may itself be dynamic
	// (timestamps, counts).
	TextSimilarityPrefixChars int
}

// DefaultConfig returns the engine's chosen defaults for the above Open
// Question (§6 ai.healer.dom.snippet.chars default plus the
// 40-char text-similarity prefix decided in DESIGN.md).
func DefaultConfig() Config {
	return Config{DOMSnippetChars: 3000, TextSimilarityPrefixChars: 40}
}

// Result is the locator a healing attempt produced and which stage
// produced it, for logging/fragile-selector bookkeeping.
type Result struct {
	Locator types.ElementLocator
	Stage   string // "llm" or "text_similarity"
}

var xpathPrefix = regexp.MustCompile(`^\(?//`)

// Attempt runs the two-stage cascade once. original is the ElementNotFound
// error that triggered healing; it becomes the Wrapped cause if both
// stages fail. domSnippet is the caller-captured (already truncated by
// the caller's own page-read, or left for Attempt to truncate here) HTML
// around the last known location, used only as LLM context.
func Attempt(ctx context.Context, cfg Config, client *llmclient.Client, domSnippet string, el *types.ElementInfo, original error) (*Result, error) {
	if client != nil {
		if result, ok := tryLLM(ctx, cfg, client, domSnippet, el); ok {
			return result, nil
		}
	}

	if result, ok := tryTextSimilarity(cfg, el); ok {
		return result, nil
	}

	return nil, apierrors.Wrap(apierrors.KindHealingExhausted,
		"both LLM and text-similarity healing stages failed to produce a locator", original)
}

func tryLLM(ctx context.Context, cfg Config, client *llmclient.Client, domSnippet string, el *types.ElementInfo) (*Result, bool) {
	snippet := domSnippet
	if len(snippet) > cfg.DOMSnippetChars {
		snippet = snippet[:cfg.DOMSnippetChars]
	}

	prompt := buildPrompt(snippet, el)
	reply, err := client.Complete(ctx, []llmclient.Message{
		{Role: "system", Content: "You are a browser test locator repair assistant. Reply with exactly one CSS selector or XPath expression that uniquely identifies the described element in the provided HTML, or reply with the single token " + cannotHealSentinel + " if none can be found. Do not explain your answer."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, false
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || reply == cannotHealSentinel {
		return nil, false
	}

	return &Result{
		Locator: types.ElementLocator{Strategy: types.StrategyHealed, Value: reply},
		Stage:   "llm",
	}, true
}

func buildPrompt(domSnippet string, el *types.ElementInfo) string {
	var b strings.Builder
	b.WriteString("The previously recorded locator for this element no longer matches the page.\n")
	if el != nil {
		b.WriteString("Recorded tag: " + el.TagName + "\n")
		if el.Text != "" {
			b.WriteString("Recorded text: " + el.Text + "\n")
		}
		if el.ID != "" {
			b.WriteString("Last known id: " + el.ID + "\n")
		}
		if el.CSS != "" {
			b.WriteString("Last known css: " + el.CSS + "\n")
		}
	}
	b.WriteString("Current page HTML (truncated):\n")
	b.WriteString(domSnippet)
	return b.String()
}

func tryTextSimilarity(cfg Config, el *types.ElementInfo) (*Result, bool) {
	if el == nil || el.Text == "" {
		return nil, false
	}
	prefix := el.Text
	if len(prefix) > cfg.TextSimilarityPrefixChars {
		prefix = prefix[:cfg.TextSimilarityPrefixChars]
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, false
	}

	tag := el.TagName
	if tag == "" {
		tag = "*"
	}
	xpath := `//` + tag + `[contains(normalize-space(text()), ` + xpathLiteral(prefix) + `)]`
	return &Result{
		Locator: types.ElementLocator{Strategy: types.StrategyText, Value: xpath},
		Stage:   "text_similarity",
	}, true
}

// xpathLiteral quotes s as an XPath string literal: double quotes by
// default, single quotes if s contains a double quote, and concat() only
// if s contains both (XPath 1.0 has no escape sequence for quotes within
// a literal).
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// LooksLikeXPath reports whether a healed locator string should be
// dispatched as an XPath expression rather than a CSS selector.
func LooksLikeXPath(value string) bool {
	return xpathPrefix.MatchString(value)
}
