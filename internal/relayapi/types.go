// Package relayapi holds the JSON wire types shared between the relay
// server and the device-side client.
package relayapi

// LinkedDevice is the relay's answer to a successful
// wait_for_linked_device poll.
type LinkedDevice struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	LastSeen int64  `json:"lastSeen"`
	Created  int64  `json:"created"`
}

// Transfer-archive failure codes the primary can report instead of a
// storage locator. They drive different recovery paths on the secondary
// and must never be conflated.
const (
	TransferArchiveErrorRelinkRequested       = "RELINK_REQUESTED"
	TransferArchiveErrorContinueWithoutUpload = "CONTINUE_WITHOUT_UPLOAD"
)

// TransferArchive is either a storage locator (CDN + key) or a failure
// code, never both.
type TransferArchive struct {
	CDN   *int32  `json:"cdn,omitempty"`
	Key   *string `json:"key,omitempty"`
	Error *string `json:"error,omitempty"`
}

// ReportTransferArchiveRequest is the primary's PUT
// /v1/devices/transfer_archive payload.
type ReportTransferArchiveRequest struct {
	DestinationDeviceID      int64           `json:"destinationDeviceId"`
	DestinationDeviceCreated int64           `json:"destinationDeviceCreated"`
	TransferArchive          TransferArchive `json:"transferArchive"`
}

// LinkDeviceRequest creates the secondary's device record once
// provisioning is accepted locally.
type LinkDeviceRequest struct {
	LinkToken  string `json:"linkToken"`
	DeviceName string `json:"deviceName"`
	ACI        string `json:"aci,omitempty"`
	Number     string `json:"number"`
}

// LinkDeviceResponse returns the new device record plus the access token
// the secondary uses on authenticated endpoints.
type LinkDeviceResponse struct {
	Device      LinkedDevice `json:"device"`
	AccessToken string       `json:"accessToken"`
}

// UploadForm is the relay-issued locator + presigned URL pair for the
// backup artifact.
type UploadForm struct {
	CDN int32  `json:"cdn"`
	Key string `json:"key"`
	URL string `json:"url"`
}

// ReadURLResponse resolves a locator to a presigned download URL.
type ReadURLResponse struct {
	URL string `json:"url"`
}

// LinkTokenRequest starts a linking round on the primary: the relay issues
// a verification code for the provisioning message and a token id for the
// wait_for_linked_device poll.
type LinkTokenRequest struct {
	Number string `json:"number"`
	ACI    string `json:"aci,omitempty"`
}

// LinkTokenResponse carries the issued token plus the primary's access
// token for the later transfer-archive report.
type LinkTokenResponse struct {
	TokenID          string `json:"tokenId"`
	VerificationCode string `json:"verificationCode"`
	AccessToken      string `json:"accessToken"`
}

// SubmitEnvelopeRequest delivers a provisioning envelope into an open
// channel.
type SubmitEnvelopeRequest struct {
	Body []byte `json:"body"`
}
