// Package relayclient is the device-side HTTP client for the relay's
// linking endpoints. Long polls carry the timeout in the request so the
// relay enforces it too; the local deadline is padded past the server's so
// a slightly fast local clock cannot cut off a response the relay was
// still entitled to send.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provwire"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

// ErrWaitTimeout means the relay answered 204: nothing happened within the
// window. It is retriable by issuing the same poll again. A local deadline
// expiring is reported identically, so callers have one retry path.
var ErrWaitTimeout = errors.New("wait timed out, poll again")

// clientTimeoutPadding is added to the server-side timeout when deriving
// the local request deadline.
const clientTimeoutPadding = 10 * time.Second

// Client talks to one relay. AccessToken, when set, authenticates
// secondary-device endpoints.
type Client struct {
	baseURL     string
	http        *http.Client
	log         logging.Logger
	AccessToken string
}

func New(baseURL string, log logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		log:     log.With("module", "relay_client"),
	}
}

// SetAccessToken installs the token sent on authenticated endpoints.
func (c *Client) SetAccessToken(token string) { c.AccessToken = token }

// WaitForLinkedDevice long-polls the relay until the secondary linked
// under tokenID, the window elapses (ErrWaitTimeout) or a hard error
// occurs.
func (c *Client) WaitForLinkedDevice(ctx context.Context, tokenID string, timeout time.Duration) (*relayapi.LinkedDevice, error) {
	u := fmt.Sprintf("%s/v1/devices/wait_for_linked_device/%s?timeout=%d",
		c.baseURL, url.PathEscape(tokenID), int(timeout.Seconds()))

	var dev relayapi.LinkedDevice
	if err := c.longPoll(ctx, u, timeout, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

// WaitForTransferArchive long-polls for the primary's upload result. Needs
// the secondary's access token.
func (c *Client) WaitForTransferArchive(ctx context.Context, timeout time.Duration) (*relayapi.TransferArchive, error) {
	u := fmt.Sprintf("%s/v1/devices/transfer_archive?timeout=%d", c.baseURL, int(timeout.Seconds()))

	var archive relayapi.TransferArchive
	if err := c.longPoll(ctx, u, timeout, &archive); err != nil {
		return nil, err
	}
	return &archive, nil
}

// ReportTransferArchive reports the primary's upload outcome (locator or
// failure code) so the secondary's poll can resolve.
func (c *Client) ReportTransferArchive(ctx context.Context, req *relayapi.ReportTransferArchiveRequest) error {
	return c.doJSON(ctx, http.MethodPut, c.baseURL+"/v1/devices/transfer_archive", req, nil)
}

// LinkDevice creates the secondary's device record and returns its id and
// access token. A relay refusing for account reasons maps to
// common.ErrorDeviceLimit.
func (c *Client) LinkDevice(ctx context.Context, req *relayapi.LinkDeviceRequest) (*relayapi.LinkDeviceResponse, error) {
	var resp relayapi.LinkDeviceResponse
	if err := c.doJSON(ctx, http.MethodPut, c.baseURL+"/v1/devices/link", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitEnvelope delivers the provisioning envelope to the secondary's
// open channel. Primary side.
func (c *Client) SubmitEnvelope(ctx context.Context, channelID string, env *provwire.Envelope) error {
	body := relayapi.SubmitEnvelopeRequest{Body: env.Marshal()}
	u := c.baseURL + "/v1/provisioning/" + url.PathEscape(channelID)
	return c.doJSON(ctx, http.MethodPut, u, body, nil)
}

// NewLinkToken starts a linking round. The relay's access token is stored
// on the client for the later transfer-archive report.
func (c *Client) NewLinkToken(ctx context.Context, req *relayapi.LinkTokenRequest) (*relayapi.LinkTokenResponse, error) {
	var resp relayapi.LinkTokenResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/devices/link_token", req, &resp); err != nil {
		return nil, err
	}
	c.AccessToken = resp.AccessToken
	return &resp, nil
}

// GetUploadForm asks the relay for a backup artifact locator and its
// presigned upload URL.
func (c *Client) GetUploadForm(ctx context.Context) (*relayapi.UploadForm, error) {
	var form relayapi.UploadForm
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/v1/devices/transfer_archive/upload_form", nil, &form); err != nil {
		return nil, err
	}
	return &form, nil
}

// GetArchiveReadURL resolves a locator to a presigned download URL.
func (c *Client) GetArchiveReadURL(ctx context.Context, cdn int32, key string) (string, error) {
	u := fmt.Sprintf("%s/v1/devices/transfer_archive/read_url?cdn=%d&key=%s",
		c.baseURL, cdn, url.QueryEscape(key))
	var resp relayapi.ReadURLResponse
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) longPoll(ctx context.Context, u string, serverTimeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, serverTimeout+clientTimeoutPadding)
	defer cancel()

	err := c.doJSON(ctx, http.MethodGet, u, nil, out)
	if errors.Is(err, context.DeadlineExceeded) {
		// local deadline: treated like the server's 204
		return ErrWaitTimeout
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AccessToken != "" {
		req.Header.Set(common.AccessTokenHeaderName, c.AccessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNoContent:
		if out == nil {
			return nil
		}
		return ErrWaitTimeout
	case http.StatusBadRequest:
		return common.ErrorBadRequest
	case http.StatusUnauthorized:
		return common.ErrorUnauthorized
	case http.StatusTooManyRequests:
		return common.ErrorRateLimited
	case http.StatusConflict:
		return common.ErrorDeviceLimit
	case http.StatusNotFound:
		return common.ErrorNotFound
	default:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay returned %s: %s", resp.Status, string(b))
	}
}
