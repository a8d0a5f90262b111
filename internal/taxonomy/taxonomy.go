// Package taxonomy builds the category systems segments are classified
// against: per-date events, year-scoped issues, and one global topic list.
package taxonomy

import (
	"errors"
	"math"
)

// ErrCapacityExceeded is returned when an induction pass would produce more
// categories than its configured budget allows. Nothing is committed when it
// is returned.
var ErrCapacityExceeded = errors.New("taxonomy capacity exceeded")

// cosine returns the cosine similarity of two vectors.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
