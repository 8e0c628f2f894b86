package models

import "time"

// ArchiveResult is the primary's reported transfer-archive outcome for one
// destination device: a storage locator or a failure code, never both.
type ArchiveResult struct {
	DeviceID   int64
	CDN        *int32
	Key        *string
	Error      *string
	ReportedAt time.Time
}
