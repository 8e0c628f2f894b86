// Package models holds the relay's database records.
package models

import "time"

// Device is a linked secondary device.
type Device struct {
	ID       int64
	Number   string
	ACI      string
	Name     string
	TokenID  string
	Created  time.Time
	LastSeen time.Time
}
