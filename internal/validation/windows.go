package validation

import (
	"time"

	"github.com/shopspring/decimal"

	"signal-intel/internal/storage"
)

// Window is a fixed checkpoint after signal creation.
type Window struct {
	Label string
	Hours int
}

func (w Window) Duration() time.Duration { return time.Duration(w.Hours) * time.Hour }

// Windows lists every validation checkpoint, shortest first.
var Windows = []Window{
	{Label: "2hr", Hours: 2},
	{Label: "8hr", Hours: 8},
	{Label: "24hr", Hours: 24},
	{Label: "48hr", Hours: 48},
}

// DueWindows returns the windows that have elapsed since created and are
// not yet resolved.
func DueWindows(created, now time.Time, resolved map[string]storage.ValidationOutcome) []Window {
	elapsed := now.Sub(created)
	due := make([]Window, 0, len(Windows))
	for _, w := range Windows {
		if elapsed < w.Duration() {
			break
		}
		if _, done := resolved[w.Label]; done {
			continue
		}
		due = append(due, w)
	}
	return due
}

// Evaluation is the classification of one window's realised move.
type Evaluation struct {
	ActualMove       decimal.Decimal
	DirectionCorrect bool
	ThresholdMet     bool
	Outcome          storage.ValidationStatus
}

// Classify compares a predicted direction with a realised percent change.
// Anything other than bullish counts as a call for the price not to rise.
func Classify(direction storage.Direction, percentChange, threshold decimal.Decimal) Evaluation {
	actual := percentChange.Abs()
	ev := Evaluation{
		ActualMove:       actual,
		DirectionCorrect: (direction == storage.DirectionBullish) == percentChange.IsPositive(),
		ThresholdMet:     actual.GreaterThanOrEqual(threshold),
	}
	switch {
	case !ev.DirectionCorrect:
		ev.Outcome = storage.StatusFalsePositive
	case actual.IsZero():
		ev.Outcome = storage.StatusFalsePositive
	case ev.ThresholdMet:
		ev.Outcome = storage.StatusTruePositive
	default:
		ev.Outcome = storage.StatusPartial
	}
	return ev
}

var statusRank = map[storage.ValidationStatus]int{
	storage.StatusPending:       0,
	storage.StatusFalsePositive: 1,
	storage.StatusPartial:       2,
	storage.StatusTruePositive:  3,
}

// BestStatus folds window outcomes into a signal status:
// true_positive beats partial beats false_positive beats pending.
func BestStatus(windows map[string]storage.ValidationOutcome) storage.ValidationStatus {
	best := storage.StatusPending
	for _, o := range windows {
		if statusRank[o.Outcome] > statusRank[best] {
			best = o.Outcome
		}
	}
	return best
}

// Promote returns whichever of current and next ranks higher, so a status
// never regresses.
func Promote(current, next storage.ValidationStatus) storage.ValidationStatus {
	if statusRank[next] > statusRank[current] {
		return next
	}
	return current
}
