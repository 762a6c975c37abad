package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/qqgrab/qq/types"
)

func TestBatchSummaryAccounting(t *testing.T) {
	t.Parallel()

	var s types.BatchSummary
	s.Record(types.TrackResult{ //nolint:exhaustruct
		Track:   types.Track{MID: "a"}, //nolint:exhaustruct
		Outcome: types.OutcomeSucceeded,
		Quality: types.QualityFlac,
	})
	s.Record(types.TrackResult{ //nolint:exhaustruct
		Track:   types.Track{MID: "b"}, //nolint:exhaustruct
		Outcome: types.OutcomeFailed,
		Reason:  "no usable quality",
	})
	s.Record(types.TrackResult{ //nolint:exhaustruct
		Track:   types.Track{MID: "c"}, //nolint:exhaustruct
		Outcome: types.OutcomeSkipped,
	})

	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 3, s.Total())
	assert.Len(t, s.Results, 3)

	assert.Equal(t, map[string]string{"b": "no usable quality"}, s.FailureReasons())
}
