// Package locator is P2, the locator cascade resolver (§4.7): given
// an ElementInfo recorded at capture time, it tries each populated
// identity field in a fixed order — ID, NAME, CSS, XPATH — stopping at
// the first strategy whose single query finds exactly the target, up to
// maxAttempts. There are no hard-coded locators anywhere in this package
// (non-goal); every strategy comes from the recorded ElementInfo.
//
// Grounded on gasoline-mcp's internal/recording/playback_engine.go
// executeClickWithHealing (a similarly ordered strategy cascade:
// data-testid, css, nearby-xy, last-known), adapted from "retry with
// increasingly desperate heuristics" to "try each *recorded identity
// field* in the cascade order the requires", and on
// DetectFragileSelectors for the fragile-selector supplemented feature.
package locator

import (
	"context"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// Query resolves one locator strategy against the live page, returning
// whether a matching element was found. Implementations live
// in internal/player, which has the live protocol.Connector; this
// package only orders the cascade and enforces maxAttempts.
type Query func(ctx context.Context, strategy types.LocatorStrategy, value string) (found bool, err error)

// Resolve tries each populated field of el in ID, NAME, CSS, XPATH order,
// stopping after the first match or after maxAttempts distinct strategies
// have been tried, whichever comes first. It returns the ElementLocator
// that matched.
func Resolve(ctx context.Context, el *types.ElementInfo, maxAttempts int, query Query) (*types.ElementLocator, error) {
	if el == nil {
		return nil, apierrors.New(apierrors.KindElementNotFound, "no element identity recorded for this step")
	}

	candidates := []types.ElementLocator{
		{Strategy: types.StrategyID, Value: el.ID},
		{Strategy: types.StrategyName, Value: el.Name},
		{Strategy: types.StrategyCSS, Value: el.CSS},
		{Strategy: types.StrategyXPath, Value: el.XPath},
	}

	attempts := 0
	var lastErr error
	for _, cand := range candidates {
		if cand.Value == "" {
			continue
		}
		if attempts >= maxAttempts {
			break
		}
		attempts++

		found, err := query(ctx, cand.Strategy, cand.Value)
		if err != nil {
			lastErr = err
			continue
		}
		if found {
			loc := cand
			return &loc, nil
		}
	}

	if lastErr != nil {
		return nil, apierrors.Wrap(apierrors.KindElementNotFound,
			"all locator strategies exhausted without a match", lastErr)
	}
	return nil, apierrors.New(apierrors.KindElementNotFound,
		"all locator strategies exhausted without a match")
}

// AttemptRecord is one outcome of a past Resolve call, kept by the
// player to feed fragile-selector detection across a run.
type AttemptRecord struct {
	ObjectName string
	Strategy   types.LocatorStrategy
	Value      string
	Succeeded  bool
}

// fragileThreshold matches gasoline-mcp's DetectFragileSelectors
// >50%-failure-rate heuristic.
const fragileThreshold = 0.5

// DetectFragile groups AttemptRecords by (Strategy, Value), ignoring
// ObjectName, and returns the locators whose failure rate across all attempts
// exceeds fragileThreshold, across one or more recorded playback runs.
func DetectFragile(records []AttemptRecord) []types.ElementLocator {
	type key struct {
		strategy types.LocatorStrategy
		value    string
	}
	counts := make(map[key][2]int) // [0]=total [1]=failures

	for _, r := range records {
		k := key{r.Strategy, r.Value}
		c := counts[k]
		c[0]++
		if !r.Succeeded {
			c[1]++
		}
		counts[k] = c
	}

	var fragile []types.ElementLocator
	for k, c := range counts {
		total, failures := c[0], c[1]
		if total == 0 {
			continue
		}
		if float64(failures)/float64(total) > fragileThreshold {
			fragile = append(fragile, types.ElementLocator{Strategy: k.strategy, Value: k.value})
		}
	}
	return fragile
}
