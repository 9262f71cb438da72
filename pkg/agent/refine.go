// Package agent implements the refinement engine that steers an agent
// loop: it detects a task strategy from the transcript, analyzes tool
// feedback after each iteration, scores progress, detects stagnation,
// and decides whether to continue, pivot to another strategy, or stop.
//
// The engine is a pure-function pipeline: every function takes its state
// explicitly and returns a new value, so the surrounding loop owns all
// mutation and the engine stays trivially testable.
package agent

import (
	"fmt"
	"math"
	"strings"
)

// ProgressQuality is a per-iteration progress snapshot.
type ProgressQuality struct {
	Iteration            int
	ToolSuccessRate      float64
	NewInfoGained        bool
	ProgressTowardsGoal  float64
	SimilarityToPrevious float64
	CumulativeScore      float64
}

// RefinementState tracks one agent run. Created once per run, updated
// once per iteration, discarded at run end.
type RefinementState struct {
	// OriginalRequest is the user's request, reiterated in every
	// refinement prompt.
	OriginalRequest string

	// CurrentStrategy is the strategy in effect this iteration.
	CurrentStrategy TaskStrategy

	// ProgressHistory holds one snapshot per completed iteration.
	ProgressHistory []ProgressQuality

	// StagnationCount is the number of consecutive iterations without
	// measurable progress.
	StagnationCount int

	// TriedStrategies lists strategy names already attempted this run,
	// including the current one.
	TriedStrategies []string

	// BestResult is the highest-scoring response so far; BestScore is its
	// cumulative score. Replaced only on a strictly higher score.
	BestResult string
	BestScore  float64

	// ProgressTowardsGoal accumulates while progress is made and decays
	// otherwise. Never reset within a run.
	ProgressTowardsGoal float64

	// TotalToolCalls and SuccessfulToolCalls tally results across the run.
	TotalToolCalls      int
	SuccessfulToolCalls int
}

// NewRefinementState starts a run with the given request and strategy.
func NewRefinementState(originalRequest string, strategy TaskStrategy) RefinementState {
	return RefinementState{
		OriginalRequest: originalRequest,
		CurrentStrategy: strategy,
		TriedStrategies: []string{strategy.Name},
	}
}

// Action is the loop-level decision for the next iteration.
type Action string

const (
	ActionContinue Action = "continue"
	ActionPivot    Action = "pivot"
	ActionStop     Action = "stop"
)

// Decision pairs an action with a human-readable reason.
type Decision struct {
	Action Action
	Reason string
}

// UpdateRefinementState folds one iteration's feedback and response
// content into the state and returns the updated copy. The response is
// compared to the best result so far by Jaccard word-set similarity as a
// stagnation signal. progressTowardsGoal grows by 0.2 times the success
// score on progress and decays by 0.9 otherwise. The iteration's
// cumulative score weighs success rate, progress, and the accumulator
// 0.4/0.3/0.3 and always lands in [0,1].
func UpdateRefinementState(state RefinementState, iteration int, feedback FeedbackAnalysis, content string, cfg RefinementConfig) RefinementState {
	cfg = cfg.WithDefaults()
	next := state

	similarity := jaccardSimilarity(content, state.BestResult)

	if feedback.MadeProgress {
		next.ProgressTowardsGoal = math.Min(1.0, state.ProgressTowardsGoal+0.2*feedback.SuccessScore)
	} else {
		next.ProgressTowardsGoal = state.ProgressTowardsGoal * 0.9
	}

	progress := 0.0
	if feedback.MadeProgress {
		progress = 1.0
	}
	score := 0.4*feedback.SuccessScore + 0.3*progress + 0.3*next.ProgressTowardsGoal
	score = math.Max(0.0, math.Min(1.0, score))

	repeatedZeroSuccess := feedback.SuccessScore == 0 &&
		len(state.ProgressHistory) > 0 &&
		state.ProgressHistory[len(state.ProgressHistory)-1].ToolSuccessRate == 0
	if similarity > cfg.SimilarityThreshold || repeatedZeroSuccess {
		next.StagnationCount = state.StagnationCount + 1
	} else {
		next.StagnationCount = 0
	}

	quality := ProgressQuality{
		Iteration:            iteration,
		ToolSuccessRate:      feedback.SuccessScore,
		NewInfoGained:        content != "" && similarity <= cfg.SimilarityThreshold,
		ProgressTowardsGoal:  next.ProgressTowardsGoal,
		SimilarityToPrevious: similarity,
		CumulativeScore:      score,
	}
	next.ProgressHistory = append(append([]ProgressQuality(nil), state.ProgressHistory...), quality)

	next.TotalToolCalls = state.TotalToolCalls + feedback.ResultCount
	next.SuccessfulToolCalls = state.SuccessfulToolCalls + feedback.SuccessCount

	if score > state.BestScore {
		next.BestResult = content
		next.BestScore = score
	}
	return next
}

// ShouldStopOrPivot decides the next loop action. Checks apply in order:
// an explicit pivot signal from feedback wins; then a stagnation count at
// the configured ceiling pivots while untried strategies remain and stops
// once they are exhausted; then a trailing mean cumulative score below
// the configured floor pivots; otherwise continue.
func ShouldStopOrPivot(state RefinementState, feedback FeedbackAnalysis, cfg RefinementConfig) Decision {
	cfg = cfg.WithDefaults()

	if feedback.ShouldPivot {
		return Decision{Action: ActionPivot, Reason: "repeated tool failures across consecutive iterations"}
	}

	if state.StagnationCount >= cfg.MaxConsecutiveFailures {
		if hasUntriedStrategy(state.TriedStrategies) {
			return Decision{
				Action: ActionPivot,
				Reason: fmt.Sprintf("no measurable progress for %d iteration(s)", state.StagnationCount),
			}
		}
		return Decision{Action: ActionStop, Reason: "strategies exhausted"}
	}

	if len(state.ProgressHistory) >= cfg.ScoreWindow {
		window := state.ProgressHistory[len(state.ProgressHistory)-cfg.ScoreWindow:]
		sum := 0.0
		for _, q := range window {
			sum += q.CumulativeScore
		}
		if sum/float64(len(window)) < cfg.MinAcceptableScore {
			return Decision{
				Action: ActionPivot,
				Reason: fmt.Sprintf("mean score of last %d iteration(s) below %.2f", cfg.ScoreWindow, cfg.MinAcceptableScore),
			}
		}
	}

	return Decision{Action: ActionContinue}
}

// SelectNextStrategy picks the strategy for a pivot. Detection is re-run
// against the current context first; a freshly detected strategy that has
// not been tried wins. Otherwise the first untried strategy in catalog
// order is taken. Returns nil when the catalog is exhausted.
func SelectNextStrategy(state RefinementState, transcript string, tools []ToolInfo) *TaskStrategy {
	detected := DetectTaskType(transcript, tools)
	if !strategyTried(state.TriedStrategies, detected.Name) {
		return &detected
	}
	for _, s := range strategyCatalog {
		if !strategyTried(state.TriedStrategies, s.Name) {
			picked := s
			return &picked
		}
	}
	return nil
}

func strategyTried(tried []string, name string) bool {
	for _, t := range tried {
		if t == name {
			return true
		}
	}
	return false
}

// hasUntriedStrategy reports whether any strategy besides the catch-all
// remains untried.
func hasUntriedStrategy(tried []string) bool {
	for _, s := range strategyCatalog {
		if s.Name == generalStrategyName {
			continue
		}
		if !strategyTried(tried, s.Name) {
			return true
		}
	}
	return false
}

// jaccardSimilarity computes |A∩B| / |A∪B| over lower-cased word sets.
// Returns 0 when either side has no words.
func jaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
