package models

import "time"

// LinkToken correlates a primary's wait_for_linked_device poll with the
// device record the secondary creates. Code is the short verification code
// the primary embeds in its provisioning message; the secondary sends it
// back on /v1/devices/link.
type LinkToken struct {
	ID        string
	Code      string
	Number    string
	ACI       string
	CreatedAt time.Time
	UsedAt    *time.Time
}
