//go:build !unix

package sqlite

import "math"

// diskFree is a no-op on platforms without Statfs; capacity checks fall
// back to the database size limit alone.
func diskFree(string) (uint64, error) {
	return math.MaxUint64, nil
}
