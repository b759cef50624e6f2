package attach

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MeKo-Tech/rekap/internal/marker"
)

var (
	none   = marker.Result{}
	alpha  = marker.Result{Tag: marker.Alpha, Tier: marker.TierText}
	beta   = marker.Result{Tag: marker.Beta, Tier: marker.TierText}
	alphaN = func(n int) marker.Result {
		return marker.Result{Tag: marker.Alpha, Count: n, Tier: marker.TierText}
	}
)

// drive feeds results and returns the item per page, -1 for unattached.
func drive(w *markerWalk, results ...marker.Result) []int {
	out := make([]int, 0, len(results))
	for _, r := range results {
		if w.done() {
			out = append(out, -1)
			continue
		}
		if item, ok := w.feed(r); ok {
			out = append(out, item)
		} else {
			out = append(out, -1)
		}
	}
	return out
}

func TestMarkerWalk(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		policy  PlainAlphaPolicy
		results []marker.Result
		want    []int
	}{
		{
			name:    "counted then open group",
			rows:    2,
			policy:  UntilBeta,
			results: []marker.Result{alphaN(3), none, none, none, alpha, beta},
			want:    []int{0, 0, 0, -1, 1, 1},
		},
		{
			name:    "pages before first marker are skipped",
			rows:    1,
			policy:  UntilBeta,
			results: []marker.Result{none, beta, alphaN(2), none},
			want:    []int{-1, -1, 0, 0},
		},
		{
			name:    "count of one closes immediately",
			rows:    2,
			policy:  UntilBeta,
			results: []marker.Result{alphaN(1), alphaN(1), none},
			want:    []int{0, 1, -1},
		},
		{
			name:    "plain alpha single page policy",
			rows:    2,
			policy:  SinglePage,
			results: []marker.Result{alpha, none, alpha},
			want:    []int{0, -1, 1},
		},
		{
			name:    "counted group ignores inner markers",
			rows:    2,
			policy:  UntilBeta,
			results: []marker.Result{alphaN(3), alpha, beta, alpha, none, beta},
			want:    []int{0, 0, 0, 1, 1, 1},
		},
		{
			name:    "open group absorbs alpha until beta",
			rows:    2,
			policy:  UntilBeta,
			results: []marker.Result{alpha, none, alpha, beta, alphaN(2), none},
			want:    []int{0, 0, 0, 0, 1, 1},
		},
		{
			name:    "more groups than rows",
			rows:    1,
			policy:  UntilBeta,
			results: []marker.Result{alphaN(1), alphaN(2), none},
			want:    []int{0, -1, -1},
		},
		{
			name:    "no rows",
			rows:    0,
			policy:  UntilBeta,
			results: []marker.Result{alpha, beta},
			want:    []int{-1, -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newMarkerWalk(tt.rows, tt.policy, nil)
			assert.Equal(t, tt.want, drive(w, tt.results...))
		})
	}
}

func TestMarkerWalk_Detection(t *testing.T) {
	w := newMarkerWalk(2, UntilBeta, []int{3})

	assert.True(t, w.needsDetection())
	assert.False(t, w.inGroup())

	w.feed(alphaN(2))
	assert.False(t, w.needsDetection(), "fixed group pages attach blindly")
	assert.True(t, w.inGroup())
	w.feed(none)

	assert.Equal(t, seeking, w.state)
	w.feed(alpha)
	assert.True(t, w.needsDetection())
	assert.False(t, w.deepProbe(), "second page of open group")
	w.feed(none)
	assert.True(t, w.deepProbe(), "third page of open group")
	w.feed(beta)

	assert.True(t, w.done())
	assert.Equal(t, "exhausted", w.state.String())
}
