// Package batch splits account lists into fixed-size work batches.
package batch

import (
	"github.com/rosterhq/roster/errors"
)

// Count returns the number of batches needed to cover n items at the given
// batch size, i.e. ceil(n/size).
func Count(n, size int) (int, error) {
	if size < 1 {
		return 0, errors.NewValidationError("batch size must be at least 1, got %d", size)
	}
	if n < 0 {
		return 0, errors.NewValidationError("item count must be non-negative, got %d", n)
	}
	return (n + size - 1) / size, nil
}

// Split partitions items into consecutive batches of at most size elements.
// Every item appears in exactly one batch and order is preserved; only the
// final batch may be short.
func Split(items []string, size int) ([][]string, error) {
	n, err := Count(len(items), size)
	if err != nil {
		return nil, err
	}

	batches := make([][]string, 0, n)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches, nil
}
