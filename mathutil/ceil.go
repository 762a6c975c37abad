package mathutil

import (
	"golang.org/x/exp/constraints"
)

// DivCeil divides a by b rounding away from zero when the signs match, so
// page counts and similar partitions never undercount the remainder.
func DivCeil[T constraints.Signed](a, b T) T {
	if b == 0 {
		panic("division by zero")
	}

	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}

	return q
}
