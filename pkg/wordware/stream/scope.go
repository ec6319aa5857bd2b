package stream

// OutputLabel is the generation label whose chunks form the user-visible answer.
const OutputLabel = "output"

// DefaultFallbackThreshold is the number of classified records after which
// the scope is forced open if no explicit output generation has started.
const DefaultFallbackThreshold = 50

type Transition int

const (
	TransitionNone Transition = iota
	TransitionOpened
	TransitionClosed
	TransitionForcedOpen
)

// ScopeTracker knows whether chunks currently belong to the final output
// generation. It starts closed, opens on generation{start, "output"} and
// closes on generation{end, "output"}. Generations with other labels do not
// move the scope.
//
// If no explicit open was ever seen after threshold classified records, the
// scope is forced open for the rest of the stream; only an explicit end
// record closes it again.
type ScopeTracker struct {
	threshold int
	open      bool
	forced    bool
	sawOpen   bool
	records   int

	generations map[string]int
}

func NewScopeTracker(threshold int) *ScopeTracker {
	if threshold <= 0 {
		threshold = DefaultFallbackThreshold
	}
	return &ScopeTracker{
		threshold:   threshold,
		generations: make(map[string]int),
	}
}

// Observe must be called once per classified record, in wire order, before
// the record is routed anywhere else.
func (t *ScopeTracker) Observe(rec Record) Transition {
	t.records++

	if rec.Kind == KindGeneration {
		if rec.State == StateStart {
			t.generations[rec.Label]++
		}
		if rec.Label == OutputLabel {
			switch {
			case rec.State == StateStart && !t.open:
				t.open = true
				t.sawOpen = true
				return TransitionOpened
			case rec.State == StateStart:
				t.sawOpen = true
			case rec.State == StateEnd && t.open:
				t.open = false
				return TransitionClosed
			}
		}
	}

	if !t.open && !t.sawOpen && !t.forced && t.records >= t.threshold {
		t.open = true
		t.forced = true
		return TransitionForcedOpen
	}
	return TransitionNone
}

func (t *ScopeTracker) Open() bool { return t.open }

// Forced reports whether the fallback opened the scope.
func (t *ScopeTracker) Forced() bool { return t.forced }

func (t *ScopeTracker) Records() int { return t.records }

// Generations returns how many generations of each label have started.
func (t *ScopeTracker) Generations() map[string]int {
	out := make(map[string]int, len(t.generations))
	for k, v := range t.generations {
		out[k] = v
	}
	return out
}
