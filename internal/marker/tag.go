// Package marker finds the printed ALPHA/BETA corner markers that delimit
// supporting-document groups.
package marker

import (
	"regexp"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tag is a detected boundary cue.
type Tag int

const (
	None  Tag = iota
	Alpha     // opens a group
	Beta      // closes an open group
)

func (t Tag) String() string {
	switch t {
	case Alpha:
		return "ALPHA"
	case Beta:
		return "BETA"
	default:
		return "NONE"
	}
}

// ParseTag maps "ALPHA" and "BETA" (any case) to their tags.
func ParseTag(s string) Tag {
	switch lower(s) {
	case "alpha", "α":
		return Alpha
	case "beta", "β":
		return Beta
	default:
		return None
	}
}

// Tiers report which lookup produced a result.
const (
	TierNone  = 0
	TierText  = 1 // embedded page text
	TierOCR   = 2 // local OCR
	TierModel = 3 // model read of the cropped corner
)

// Result is one marker lookup. Count is the ALPHA page count, 0 when not printed.
type Result struct {
	Tag   Tag `json:"tag"`
	Count int `json:"count,omitempty"`
	Tier  int `json:"tier"`
}

// Found reports whether a marker was detected.
func (r Result) Found() bool { return r.Tag != None }

// HasCount reports whether an ALPHA carried a page count.
func (r Result) HasCount() bool { return r.Tag == Alpha && r.Count > 0 }

// lower maps Latin and Greek capitals to lowercase. A Caser holds state,
// so one is made per call.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

var (
	alphaCounted = regexp.MustCompile(`(?:\balpha|α)[\s\-–]*(\d{1,3})\b`)
	alphaPlain   = regexp.MustCompile(`\balpha\b|α`)
	betaPlain    = regexp.MustCompile(`\bbeta\b|β`)
)

// Match searches text for a marker: ALPHA with a count first, then a bare
// ALPHA, then BETA. Matching is case-insensitive and accepts α and β.
func Match(text string) Result {
	if text == "" {
		return Result{}
	}
	folded := lower(text)

	if m := alphaCounted.FindStringSubmatch(folded); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return Result{Tag: Alpha, Count: n}
		}
		return Result{Tag: Alpha}
	}
	if alphaPlain.MatchString(folded) {
		return Result{Tag: Alpha}
	}
	if betaPlain.MatchString(folded) {
		return Result{Tag: Beta}
	}
	return Result{}
}
