package core

import (
	"errors"
	"fmt"

	"github.com/netresearch/flaky/config"
)

// ExceptionFilter decides whether a raised error class is eligible for a
// retry. It is built from either an only-on set or an exclude set; defining
// both is ill-formed.
type ExceptionFilter struct {
	// listType is true for only-on semantics, false for exclude semantics.
	listType bool
	classes  []error
}

// NewExceptionFilter builds a filter from the two exception sets. Class
// membership is decided with errors.Is, so wrapped errors match their
// sentinel class.
func NewExceptionFilter(onlyOn, exclude []error) (*ExceptionFilter, error) {
	if len(onlyOn) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf(
			"%w: filtered and excluded exceptions are exclusive and cannot be defined simultaneously",
			config.ErrConfiguration,
		)
	}
	f := &ExceptionFilter{listType: len(onlyOn) > 0}
	f.classes = append(f.classes, onlyOn...)
	f.classes = append(f.classes, exclude...)
	return f, nil
}

// Match reports whether a test failing with err may be retried. An empty
// filter matches everything.
func (f *ExceptionFilter) Match(err error) bool {
	if len(f.classes) == 0 {
		return true
	}
	found := false
	for _, class := range f.classes {
		if errors.Is(err, class) {
			found = true
			break
		}
	}
	return f.listType == found
}

// Active reports whether the filter carries any classes. The per-test filter
// overrides the global one only when active.
func (f *ExceptionFilter) Active() bool {
	return len(f.classes) > 0
}
