// Package filter provides the exponential smoothing used on displayed readings.
package filter

import "fmt"

// Filter is a first-order exponential moving average:
//
//	value = alpha*input + (1-alpha)*value
//
// The first input initializes the value directly. Not safe for concurrent use.
type Filter struct {
	alpha       float64
	value       float64
	initialized bool
}

// New creates a Filter. alpha must be in (0, 1].
func New(alpha float64) (*Filter, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("filter alpha %v out of range (0, 1]", alpha)
	}
	return &Filter{alpha: alpha}, nil
}

// MustNew is New for constant alphas.
func MustNew(alpha float64) *Filter {
	f, err := New(alpha)
	if err != nil {
		panic(err)
	}
	return f
}

// Update feeds one input and returns the smoothed value.
func (f *Filter) Update(x float64) float64 {
	if !f.initialized {
		f.value = x
		f.initialized = true
		return f.value
	}
	f.value = f.alpha*x + (1-f.alpha)*f.value
	return f.value
}

// Value returns the current smoothed value and whether any input was seen.
func (f *Filter) Value() (float64, bool) {
	return f.value, f.initialized
}

// Reset forgets all history; the next input initializes the filter again.
func (f *Filter) Reset() {
	f.value = 0
	f.initialized = false
}
