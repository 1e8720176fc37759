package pipeline

// DiscardReason says why a candidate edge was dropped.
type DiscardReason int

const (
	MissingStation DiscardReason = iota
	SelfLoop
	MissingCoords
	BadTime
	BadDistance
	MissingTripInfo
	MalformedTime
	numDiscardReasons
)

var discardReasonNames = [numDiscardReasons]string{
	MissingStation:  "missing_station",
	SelfLoop:        "self_loop",
	MissingCoords:   "missing_coords",
	BadTime:         "bad_time",
	BadDistance:     "bad_distance",
	MissingTripInfo: "missing_trip_info",
	MalformedTime:   "malformed_time",
}

func (r DiscardReason) String() string {
	if r < 0 || r >= numDiscardReasons {
		return "unknown"
	}
	return discardReasonNames[r]
}

// DiscardReasons lists every reason in reporting order.
func DiscardReasons() []DiscardReason {
	out := make([]DiscardReason, numDiscardReasons)
	for i := range out {
		out[i] = DiscardReason(i)
	}
	return out
}

// DiscardCounts tallies dropped edges per reason.
type DiscardCounts [numDiscardReasons]int

func (c *DiscardCounts) Add(r DiscardReason, n int) {
	c[r] += n
}

// Merge adds every count of other into c.
func (c *DiscardCounts) Merge(other DiscardCounts) {
	for i, n := range other {
		c[i] += n
	}
}

func (c DiscardCounts) Get(r DiscardReason) int {
	return c[r]
}

func (c DiscardCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// NonZero returns the counts keyed by reason name, omitting zeros.
func (c DiscardCounts) NonZero() map[string]int {
	out := make(map[string]int)
	for i, n := range c {
		if n > 0 {
			out[DiscardReason(i).String()] = n
		}
	}
	return out
}
