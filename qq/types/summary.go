package types

import (
	"github.com/rs/zerolog"
)

type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// TrackResult is the terminal state of one batch item. Quality is only
// meaningful for succeeded downloads and Reason for failed ones.
type TrackResult struct {
	Track   Track
	Outcome Outcome
	Quality Quality
	Reason  string
}

// BatchSummary aggregates per-track outcomes of a batch run. It is written
// by a single collector goroutine and only read after the run completes.
type BatchSummary struct {
	Succeeded int
	Failed    int
	Skipped   int
	Results   []TrackResult
}

func (s *BatchSummary) Record(r TrackResult) {
	switch r.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	default:
		panic("unexpected outcome: " + r.Outcome.String())
	}
	s.Results = append(s.Results, r)
}

func (s *BatchSummary) Total() int {
	return s.Succeeded + s.Failed + s.Skipped
}

func (s *BatchSummary) FailureReasons() map[string]string {
	out := make(map[string]string, s.Failed)
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed {
			out[r.Track.MID] = r.Reason
		}
	}

	return out
}

func (s *BatchSummary) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Int("total", s.Total())
}
