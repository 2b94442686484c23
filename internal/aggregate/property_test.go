package aggregate

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func properties(t *testing.T) *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	return gopter.NewProperties(parameters)
}

// TestGreenGroupProperty: a group of green projects is green, and adding
// any project that is not green makes it not green.
func TestGreenGroupProperty(t *testing.T) {
	props := properties(t)

	props.Property("all green stays green until a non-green member joins", prop.ForAll(
		func(greens int, intruder int) bool {
			h := newHistory()
			for i := 0; i < greens; i++ {
				p := string(rune('a' + i))
				h.add(p, redAt(i))
				h.add(p, greenAt(i+1))
			}
			if !h.group().Green() {
				return false
			}
			switch intruder {
			case 0:
				h.add("intruder", redAt(100))
			case 1:
				h.add("intruder", offline())
			default:
				h.project("intruder")
			}
			return !h.group().Green()
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 2),
	))

	props.TestingRun(t)
}

// TestOfflineStatusesAreSkippedProperty: inserting offline observations
// between the last green and the next red status changes neither red_since
// nor red_build_count.
func TestOfflineStatusesAreSkippedProperty(t *testing.T) {
	props := properties(t)

	props.Property("offline statuses do not move red_since", prop.ForAll(
		func(offlineBefore, offlineAfter, reds int) bool {
			plain, noisy := newHistory(), newHistory()
			for _, h := range []*history{plain, noisy} {
				h.add("p", greenAt(0))
				h.add("q", greenAt(0))
			}
			for i := 0; i < offlineBefore; i++ {
				noisy.add("p", offline())
			}
			plain.add("p", redAt(10))
			noisy.add("p", redAt(10))
			for i := 0; i < reds; i++ {
				if i < offlineAfter {
					noisy.add("p", offline())
				}
				plain.add("p", redAt(11+i))
				noisy.add("p", redAt(11+i))
			}

			a, b := plain.group(), noisy.group()
			if a.RedSince() == nil || b.RedSince() == nil || !a.RedSince().Equal(*b.RedSince()) {
				return false
			}
			return a.RedBuildCount() == b.RedBuildCount() && a.RedBuildCount() == reds+1
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
	))

	props.TestingRun(t)
}

// TestNeverGreenProperty: for a project that was never green the breaking
// build is its first status and every status counts as a red build.
func TestNeverGreenProperty(t *testing.T) {
	props := properties(t)

	props.Property("never green breaks at the first status", prop.ForAll(
		func(n int) bool {
			h := newHistory()
			first := h.add("never_green", redAt(0))
			for i := 1; i < n; i++ {
				h.add("never_green", redAt(i))
			}
			g := h.group()
			b := g.BreakingBuild()
			return g.NeverBeenGreen() &&
				b != nil && b.ID == first.ID &&
				g.RedBuildCount() == n
		},
		gen.IntRange(1, 20),
	))

	props.TestingRun(t)
}

// TestStatusesOrderProperty: group statuses are in ID order whatever order
// the members are listed in.
func TestStatusesOrderProperty(t *testing.T) {
	props := properties(t)

	props.Property("statuses are sorted by id", prop.ForAll(
		func(owners []int) bool {
			h := newHistory()
			for i, o := range owners {
				h.add(string(rune('a'+o)), redAt(i))
			}
			sts := h.group().Statuses()
			for i := 1; i < len(sts); i++ {
				if sts[i-1].ID >= sts[i].ID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	props.TestingRun(t)
}
