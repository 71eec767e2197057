// Package seqnum compares small cyclic sequence numbers such as the hardware
// task ids reported by accelerator completion interrupts.
//
// A Space of size Max holds the values 1..Max. Value 0 is never produced so
// that a zero id keeps meaning "no id assigned". Distances are computed modulo
// Max, so Max and 0 are congruent and both behave as the last value before 1.
//
// Two values a and b are ordered by the forward distance from a to b:
//
//	Distance(a, b) == 0           a and b are the same sequence number
//	0 < Distance(a, b) < Half()   a precedes b
//	Distance(a, b) >= Half()      b precedes a (or they are too far apart to tell)
//
// The half-range rule is what separates a legitimate wraparound (8 -> 1 in a
// space of 8 is one step forward) from a stale or reordered value.
package seqnum

import "fmt"

// Space is a cyclic sequence space.
type Space struct {
	Max uint32
}

// New returns a space with the given size. Max must be at least 2.
func New(max uint32) (Space, error) {
	if max < 2 {
		return Space{}, fmt.Errorf("seqnum: space size %d is too small", max)
	}
	return Space{Max: max}, nil
}

// Next returns the value following v. Next(0) is 1.
func (s Space) Next(v uint32) uint32 {
	return v%s.Max + 1
}

// Half returns half of the space size, the ordering horizon.
func (s Space) Half() uint32 {
	return s.Max / 2
}

// Distance returns the number of Next steps needed to go from a to b.
func (s Space) Distance(a, b uint32) uint32 {
	return (b%s.Max + s.Max - a%s.Max) % s.Max
}

// Before reports whether a strictly precedes b within the half-range horizon.
func (s Space) Before(a, b uint32) bool {
	d := s.Distance(a, b)
	return d > 0 && d < s.Half()
}

// Window returns the largest number of values that may be outstanding at
// once while keeping every pair unambiguously ordered by Before, leaving one
// slot for a value that is still being issued.
func (s Space) Window() int {
	w := int(s.Half()) - 1
	if w < 1 {
		w = 1
	}
	return w
}
