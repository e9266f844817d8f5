package calculate

import (
	"fmt"
	"strings"

	"github.com/lazzyont7t/Data/models"
)

// Result holds the outcome of one digit computation.
type Result struct {
	Digit    int
	Category models.Category
	Trace    string
}

// Compute derives a single verdict digit from a window of outcome digits.
//
// The first digit selects a position counted from the back of the window;
// the digit at that position and the digit to its left are summed and
// multiplied by the last digit, then the product is digit-sum reduced to
// 0-9. Reads outside the window are clamped to 0, so the transform is
// total over any non-empty window.
func Compute(digits []int) (Result, error) {
	if len(digits) == 0 {
		return Result{}, fmt.Errorf("empty digit window")
	}

	first := digits[0]
	n := len(digits)
	posIndex := n - first

	digitAtPlace := digitAt(digits, posIndex)
	lookback := digitAt(digits, posIndex-1)
	lastDigit := digits[n-1]

	total := (digitAtPlace + lookback) * lastDigit
	reduced := Reduce(total)

	var trace strings.Builder
	fmt.Fprintf(&trace, "pos=%d-%d=%d; (%d+%d)*%d=%d", n, first, posIndex, digitAtPlace, lookback, lastDigit, total)
	if reduced != total {
		fmt.Fprintf(&trace, " -> %d", reduced)
	}

	return Result{
		Digit:    reduced,
		Category: models.CategoryOf(reduced),
		Trace:    trace.String(),
	}, nil
}

// Reduce collapses a non-negative integer to a single digit by
// repeatedly summing its decimal digits. Single-digit input is returned
// unchanged.
func Reduce(total int) int {
	for total > 9 {
		sum := 0
		for v := total; v > 0; v /= 10 {
			sum += v % 10
		}
		total = sum
	}
	return total
}

// digitAt reads digits[i], clamping any out-of-range index to 0.
func digitAt(digits []int, i int) int {
	if i < 0 || i >= len(digits) {
		return 0
	}
	return digits[i]
}
