// Package common contains shared constants and sentinel errors used across
// devlink components.
package common

import "time"

// AccessTokenHeaderName is the HTTP header carrying the secondary device's
// access token on authenticated relay requests.
const AccessTokenHeaderName = "access_token"

// ProvisioningChannelTTL is the relay-enforced idle lifetime of a
// provisioning channel. A secondary that has not received an envelope by
// then must treat the attempt as failed and start over.
const ProvisioningChannelTTL = 90 * time.Second

// ProvisioningVersion is the protocol version this client both sends and
// requires. Messages below MinProvisioningVersion are rejected before any
// local state is touched.
const (
	ProvisioningVersion    uint32 = 1
	MinProvisioningVersion uint32 = 1
)
