package heal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brennhill/autoqa-engine/internal/llmclient"
	"github.com/brennhill/autoqa-engine/internal/types"
)

func llmServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
		})
	}))
}

func TestAttemptUsesLLMResultWhenAvailable(t *testing.T) {
	t.Parallel()
	srv := llmServer(t, `//*[@id="checkout-button-v2"]`)
	defer srv.Close()
	client := llmclient.New(llmclient.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})

	result, err := Attempt(context.Background(), DefaultConfig(), client, "<html></html>",
		&types.ElementInfo{TagName: "button", Text: "Checkout"}, errors.New("not found"))
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if result.Stage != "llm" {
		t.Errorf("expected llm stage, got %s", result.Stage)
	}
	if !LooksLikeXPath(result.Locator.Value) {
		t.Errorf("expected xpath-looking value, got %q", result.Locator.Value)
	}
}

func TestAttemptFallsBackToTextSimilarity(t *testing.T) {
	t.Parallel()
	srv := llmServer(t, cannotHealSentinel)
	defer srv.Close()
	client := llmclient.New(llmclient.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})

	result, err := Attempt(context.Background(), DefaultConfig(), client, "<html></html>",
		&types.ElementInfo{TagName: "button", Text: "Complete purchase now"}, errors.New("not found"))
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if result.Stage != "text_similarity" {
		t.Errorf("expected text_similarity stage, got %s", result.Stage)
	}
	if result.Locator.Strategy != types.StrategyText {
		t.Errorf("expected StrategyText, got %v", result.Locator.Strategy)
	}
}

func TestAttemptExhaustedWhenNoTextAndNoLLM(t *testing.T) {
	t.Parallel()
	original := errors.New("no strategy matched")
	_, err := Attempt(context.Background(), DefaultConfig(), nil, "", &types.ElementInfo{TagName: "div"}, original)
	if err == nil {
		t.Fatal("expected healing exhausted error")
	}
}

func TestXPathLiteralHandlesEmbeddedQuotes(t *testing.T) {
	t.Parallel()
	lit := xpathLiteral(`Say "hi"`)
	if lit == "" {
		t.Fatal("expected non-empty literal")
	}
}

func TestTextSimilarityTruncatesPrefix(t *testing.T) {
	t.Parallel()
	longText := "this is a very long button label that exceeds the configured prefix cap by quite a lot"
	result, ok := tryTextSimilarity(Config{TextSimilarityPrefixChars: 10}, &types.ElementInfo{Text: longText})
	if !ok {
		t.Fatal("expected a result")
	}
	if len(result.Locator.Value) == 0 {
		t.Fatal("expected non-empty xpath")
	}
}

func TestTextSimilarityUsesRecordedTagName(t *testing.T) {
	t.Parallel()
	result, ok := tryTextSimilarity(Config{TextSimilarityPrefixChars: 40}, &types.ElementInfo{TagName: "button", Text: "Checkout"})
	if !ok {
		t.Fatal("expected a result")
	}
	if result.Locator.Value != `//button[contains(normalize-space(text()), "Checkout")]` {
		t.Errorf("expected xpath scoped to the recorded tag, got %q", result.Locator.Value)
	}
}

func TestTextSimilarityFallsBackToWildcardTagWhenUnrecorded(t *testing.T) {
	t.Parallel()
	result, ok := tryTextSimilarity(Config{TextSimilarityPrefixChars: 40}, &types.ElementInfo{Text: "Checkout"})
	if !ok {
		t.Fatal("expected a result")
	}
	if result.Locator.Value != `//*[contains(normalize-space(text()), "Checkout")]` {
		t.Errorf("expected wildcard-tag xpath when TagName is unset, got %q", result.Locator.Value)
	}
}
