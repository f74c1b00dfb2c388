package hls

import (
	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/status"
)

const (
	DefaultMinSuccessRatio  = 0.85
	DefaultFullSuccessRatio = 0.95
)

// SuccessPolicy maps the fraction of retrieved segments to a terminal state.
type SuccessPolicy struct {
	MinRatio  float64
	FullRatio float64
}

func DefaultSuccessPolicy() SuccessPolicy {
	return SuccessPolicy{MinRatio: DefaultMinSuccessRatio, FullRatio: DefaultFullSuccessRatio}
}

// Evaluate returns Failed with an INCOMPLETE error below MinRatio,
// PartiallyCompleted below FullRatio and Completed otherwise.
func (p SuccessPolicy) Evaluate(succeeded, total int) (status.Status, error) {
	if total <= 0 {
		return status.Failed, errors.NewIncompleteError(succeeded, total)
	}

	ratio := float64(succeeded) / float64(total)

	switch {
	case ratio < p.MinRatio:
		return status.Failed, errors.NewIncompleteError(succeeded, total)
	case ratio < p.FullRatio:
		return status.PartiallyCompleted, nil
	default:
		return status.Completed, nil
	}
}
