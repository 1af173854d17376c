// Package numbering assigns final, globally-unique channel numbers to a
// filtered channel list.
package numbering

import (
	"strconv"

	"github.com/chanforge/chanforge/internal/model"
)

// Assign implements the two-pass numbering algorithm from the component
// design:
//
//  1. Collect explicit tvg_chno numbers (parsed as integers); detect
//     collisions.
//  2. First pass: assign explicit numbers. On collision, the first channel
//     (by input order) keeps its desired number (kind Explicit); every
//     subsequent colliding channel is marked ExplicitIncremented and
//     receives the next free integer >= its desired number.
//  3. Second pass: walk the remaining channels (no usable tvg_chno) in
//     input order, assigning the next free integer starting at
//     startingNumber, skipping any number already reserved by pass 1.
//
// Output preserves input order; every number is unique within the run and
// >= startingNumber for sequentially-assigned channels.
func Assign(channels []model.MappedChannel, startingNumber int) []model.NumberedChannel {
	if startingNumber < 1 {
		startingNumber = 1
	}

	type explicitEntry struct {
		index   int
		desired int
	}

	var explicit []explicitEntry
	for i, c := range channels {
		n, ok := parseChno(c.Field("tvg_chno"))
		if ok {
			explicit = append(explicit, explicitEntry{index: i, desired: n})
		}
	}

	result := make([]model.NumberedChannel, len(channels))
	reserved := make(map[int]bool, len(explicit))
	hasExplicit := make(map[int]bool, len(explicit))

	// Pass 1: assign explicit numbers, first-by-input-order wins its
	// desired number on collision.
	for _, e := range explicit {
		n := e.desired
		kind := model.AssignExplicit
		if reserved[n] {
			kind = model.AssignExplicitIncremented
			n = nextFree(reserved, n)
		}
		reserved[n] = true
		hasExplicit[e.index] = true
		result[e.index] = model.NumberedChannel{Mapped: channels[e.index], Number: n, Kind: kind}
	}

	// Pass 2: sequential assignment for everything else, in input order.
	next := startingNumber
	for i, c := range channels {
		if hasExplicit[i] {
			continue
		}
		for reserved[next] {
			next++
		}
		reserved[next] = true
		result[i] = model.NumberedChannel{Mapped: c, Number: next, Kind: model.AssignSequential}
		next++
	}

	return result
}

// nextFree returns the smallest integer >= from not already reserved.
func nextFree(reserved map[int]bool, from int) int {
	n := from
	for reserved[n] {
		n++
	}
	return n
}

func parseChno(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
