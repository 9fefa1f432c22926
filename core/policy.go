package core

import (
	"time"

	"github.com/netresearch/flaky/config"
)

// Policy is the retry policy resolved for one test item: the flaky marker's
// keyword arguments merged over the session defaults.
type Policy struct {
	Retries          int
	Delay            time.Duration
	CumulativeTiming bool
	OutcomeLabel     string
}

// FlakyMarkOf returns the item's flaky marker payload, or nil.
func FlakyMarkOf(item Item) *FlakyMark {
	marker := item.ClosestMarker(MarkerFlaky)
	if marker == nil {
		return nil
	}
	mark, _ := marker.Value.(*FlakyMark)
	return mark
}

// resolvePolicy merges the marker over the registry defaults. A nil marker
// field falls back to the registry.
func resolvePolicy(mark *FlakyMark, registry *config.Registry) Policy {
	p := Policy{
		Retries:          registry.Retries(),
		Delay:            registry.Delay(),
		CumulativeTiming: registry.CumulativeTiming(),
		OutcomeLabel:     registry.RetryOutcome(),
	}
	if mark.Retries != nil {
		p.Retries = *mark.Retries
	}
	if mark.Delay != nil {
		p.Delay = *mark.Delay
	}
	if mark.CumulativeTiming != nil {
		p.CumulativeTiming = *mark.CumulativeTiming
	}
	return p
}

// resolveFilter composes the per-test and global exception filters: the
// per-test filter wins outright when it carries any classes.
func resolveFilter(mark *FlakyMark, registry *config.Registry) (*ExceptionFilter, error) {
	filter, err := NewExceptionFilter(mark.OnlyOn, mark.Exclude)
	if err != nil {
		return nil, err
	}
	if filter.Active() {
		return filter, nil
	}
	return NewExceptionFilter(registry.FilteredExceptions(), registry.ExcludedExceptions())
}
