package session

import (
	"context"
	"slices"

	"github.com/italolelis/sgx_downloader/internal/logctx"
)

// ExclusionReason explains why a date has no session index.
type ExclusionReason string

const (
	ReasonBeforeAnchor ExclusionReason = "before_anchor"
	ReasonFuture       ExclusionReason = "future"
	ReasonWeekend      ExclusionReason = "weekend"
)

// Anchor is the one known (date, index) pair every other index is counted from.
type Anchor struct {
	Date  Date
	Index int
}

// Session is a trading day and the publisher's sequential index for it.
type Session struct {
	Date  Date
	Index int
}

type Exclusion struct {
	Date   Date
	Reason ExclusionReason
}

type Resolution struct {
	Sessions []Session
	Excluded []Exclusion
}

// Indices returns the session indices in resolution order.
func (r Resolution) Indices() []int {
	out := make([]int, 0, len(r.Sessions))
	for _, s := range r.Sessions {
		out = append(out, s.Index)
	}

	return out
}

// Resolver maps calendar dates to publisher session indices. Only weekends
// are treated as non-trading days; exchange holidays are not known.
type Resolver struct {
	anchor Anchor
}

func NewResolver(anchor Anchor) *Resolver {
	return &Resolver{anchor: anchor}
}

func (r *Resolver) Anchor() Anchor {
	return r.anchor
}

// Resolve maps dates to sessions relative to today. Input is sorted and
// de-duplicated first because the cursor only moves forward.
func (r *Resolver) Resolve(ctx context.Context, today Date, dates []Date) Resolution {
	logger := logctx.LoggerFromContext(ctx)

	sorted := slices.Clone(dates)
	slices.SortFunc(sorted, Date.Compare)
	sorted = slices.Compact(sorted)

	var res Resolution

	cursorDate, cursorIndex := r.anchor.Date, r.anchor.Index

	for _, target := range sorted {
		var reason ExclusionReason

		switch {
		case target.Before(r.anchor.Date):
			reason = ReasonBeforeAnchor
		case target.After(today):
			reason = ReasonFuture
		case target.IsWeekend():
			reason = ReasonWeekend
		}

		if reason != "" {
			logger.Info("date excluded", "date", target.String(), "reason", string(reason))
			res.Excluded = append(res.Excluded, Exclusion{Date: target, Reason: reason})

			continue
		}

		for cursorDate.Before(target) {
			if !cursorDate.IsWeekend() {
				cursorIndex++
			}

			cursorDate = cursorDate.AddDays(1)
		}

		res.Sessions = append(res.Sessions, Session{Date: target, Index: cursorIndex})
	}

	return res
}
