package attach

import (
	"slices"

	"github.com/MeKo-Tech/rekap/internal/marker"
)

// PlainAlphaPolicy selects how an ALPHA without a count is grouped.
type PlainAlphaPolicy string

const (
	// UntilBeta opens a group that runs until the next BETA.
	UntilBeta PlainAlphaPolicy = "until_beta"
	// SinglePage makes the ALPHA page a group of its own.
	SinglePage PlainAlphaPolicy = "one"
)

// walkState is the marker walk's position relative to groups.
type walkState int

const (
	seeking    walkState = iota // between groups, looking for ALPHA
	fixedGroup                  // inside ALPHA-N, attaching without detection
	openGroup                   // inside a bare ALPHA, waiting for BETA
	exhausted                   // every row has had its group
)

func (s walkState) String() string {
	switch s {
	case seeking:
		return "seeking"
	case fixedGroup:
		return "fixed_group"
	case openGroup:
		return "open_group"
	default:
		return "exhausted"
	}
}

// markerWalk is the deterministic marker-mode state machine. It consumes one
// detection result per page and decides where the page goes. It performs
// no detection itself, so it can be driven directly in tests.
type markerWalk struct {
	state      walkState
	item       int // index of the row receiving the current or next group
	total      int
	remaining  int // pages still owed to a fixed group
	groupPages int // pages attached to the current open group so far
	policy     PlainAlphaPolicy
	deepProbes []int // 1-based positions in an open group that get the model probe
}

func newMarkerWalk(total int, policy PlainAlphaPolicy, deepProbes []int) *markerWalk {
	w := &markerWalk{total: total, policy: policy, deepProbes: deepProbes}
	if total <= 0 {
		w.state = exhausted
	}
	return w
}

// done reports whether no row is left to attach to.
func (w *markerWalk) done() bool { return w.state == exhausted }

// needsDetection reports whether the next page must be inspected.
// Pages owed to a fixed group are attached blindly.
func (w *markerWalk) needsDetection() bool {
	return w.state == seeking || w.state == openGroup
}

// inGroup reports whether a group is open.
func (w *markerWalk) inGroup() bool {
	return w.state == fixedGroup || w.state == openGroup
}

// deepProbe reports whether the next page is a deep-probe position of an open group.
func (w *markerWalk) deepProbe() bool {
	return w.state == openGroup && slices.Contains(w.deepProbes, w.groupPages+1)
}

// feed advances the walk by one page. It returns the row index the page is
// attached to and whether it was attached at all.
func (w *markerWalk) feed(r marker.Result) (int, bool) {
	switch w.state {
	case fixedGroup:
		item := w.item
		w.remaining--
		if w.remaining <= 0 {
			w.closeGroup()
		}
		return item, true

	case openGroup:
		item := w.item
		w.groupPages++
		if r.Tag == marker.Beta {
			w.closeGroup()
		}
		return item, true

	case seeking:
		if r.Tag != marker.Alpha {
			return 0, false
		}
		item := w.item
		switch {
		case r.HasCount() && r.Count > 1:
			w.state = fixedGroup
			w.remaining = r.Count - 1
		case r.HasCount(), w.policy == SinglePage:
			w.closeGroup()
		default:
			w.state = openGroup
			w.groupPages = 1
		}
		return item, true
	}
	return 0, false
}

func (w *markerWalk) closeGroup() {
	w.item++
	w.remaining = 0
	w.groupPages = 0
	if w.item >= w.total {
		w.state = exhausted
		return
	}
	w.state = seeking
}
