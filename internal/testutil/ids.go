package testutil

import (
	"fmt"
	"sync/atomic"
)

// RecordIDs returns a generator producing stable sequential record ids
// ("rec-000001", "rec-000002", ...). Substitutes for UUIDv7 generation in
// golden-snapshot runs via the recorder's WithRecordIDs option.
func RecordIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("rec-%06d", n.Add(1))
	}
}
