//go:build property

package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates batching of rapid changes.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("batch holds each path once in order of first change", prop.ForAll(
		func(ids []int) bool {
			if len(ids) == 0 {
				return true
			}

			debouncer := newDebouncer(50 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go debouncer.start(ctx)

			var want []string
			seen := make(map[string]bool)
			for _, id := range ids {
				p := fmt.Sprintf("/apps/site/file%d.less", id)
				if !seen[p] {
					seen[p] = true
					want = append(want, p)
				}
				debouncer.events <- ChangeEvent{Path: p, Type: EventTypeModified}
			}

			select {
			case events := <-debouncer.output:
				got := Paths(events)
				if len(got) != len(want) {
					return false
				}
				for i := range want {
					if got[i] != want[i] {
						return false
					}
				}
				return true
			case <-time.After(2 * time.Second):
				return false
			}
		},
		gen.SliceOfN(30, gen.IntRange(0, 9)),
	))

	properties.Property("exclude filter never rejects unmatched names", prop.ForAll(
		func(name string) bool {
			filter := ExcludeFilter([]string{"*.orig", "**/dist/*"})
			return filter("/repo/apps/" + name + ".less")
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
