package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/cryptox"
	"github.com/dmitrijs2005/devlink/internal/device/account"
	"github.com/dmitrijs2005/devlink/internal/device/guard"
	"github.com/dmitrijs2005/devlink/internal/device/relayclient"
	"github.com/dmitrijs2005/devlink/internal/linksync"
	"github.com/dmitrijs2005/devlink/internal/provisioning/cipher"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provurl"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provwire"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

// Host runs the primary side of a linking round: it reads the provisioning
// URL shown on the new device, seals the provisioning message into its
// channel and, when the new device asked for it, uploads a backup for the
// transfer.
func (a *App) Host(ctx context.Context) error {
	reg, err := a.ensurePrimary(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}

	raw, err := GetSimpleText(a.reader, "Paste the provisioning URL shown on the new device", os.Stdout)
	if err != nil {
		return err
	}

	channelID, theirPublicKey, caps, err := provurl.Parse(raw)
	if err != nil {
		fmt.Println("That does not look like a provisioning URL:", err)
		return err
	}

	token, err := a.relay.NewLinkToken(ctx, &relayapi.LinkTokenRequest{Number: reg.Number, ACI: reg.ACI})
	if err != nil {
		fmt.Println("Relay refused to start a linking round:", err)
		return err
	}

	var ephemeralBackupKey []byte
	if hasCapability(caps, provurl.CapabilityLinkNSync) {
		answer, err := GetSimpleText(a.reader, "Transfer your data to the new device? (y/n)", os.Stdout)
		if err != nil {
			return err
		}
		if answer == "y" || answer == "yes" {
			ephemeralBackupKey, err = randomBytes(32)
			if err != nil {
				return err
			}
			// single use; gone once the transfer finishes or is abandoned
			defer common.WipeByteArray(ephemeralBackupKey)
		}
	}

	msg := &provwire.Message{
		ACIIdentityKeyPublic:  reg.ACIIdentity.Public,
		ACIIdentityKeyPrivate: reg.ACIIdentity.Private,
		PNIIdentityKeyPublic:  reg.PNIIdentity.Public,
		PNIIdentityKeyPrivate: reg.PNIIdentity.Private,
		Number:                reg.Number,
		ACI:                   reg.ACI,
		PNI:                   reg.PNI,
		ProvisioningCode:      token.VerificationCode,
		UserAgent:             "devlink",
		ProfileKey:            reg.ProfileKey,
		ReadReceipts:          reg.ReadReceipts,
		ProvisioningVersion:   common.ProvisioningVersion,
		MasterKey:             reg.MasterKey,
		AccountEntropyPool:    reg.AccountEntropyPool,
		MediaRootBackupKey:    reg.MediaRootBackupKey,
		EphemeralBackupKey:    ephemeralBackupKey,
	}

	ciph, err := cipher.Generate()
	if err != nil {
		return err
	}
	body, err := ciph.Encrypt(theirPublicKey, msg.Marshal())
	if err != nil {
		return err
	}
	env := &provwire.Envelope{PublicKey: ciph.PublicKey(), Body: body}

	if err := a.relay.SubmitEnvelope(ctx, channelID, env); err != nil {
		fmt.Println("Delivering the provisioning message failed:", err)
		return err
	}
	fmt.Println("Provisioning message delivered, waiting for the new device...")

	if ephemeralBackupKey != nil {
		return a.hostTransfer(ctx, ephemeralBackupKey, token.TokenID)
	}

	device, err := a.waitForLink(ctx, token.TokenID)
	if err != nil {
		fmt.Println("The new device did not finish linking:", err)
		return err
	}
	fmt.Printf("Linked %q as device %d.\n", device.Name, device.ID)
	return nil
}

func (a *App) hostTransfer(ctx context.Context, key []byte, tokenID string) error {
	primary := linksync.NewPrimary(a.relay, a.backup, a.backup,
		guard.NewSleepBlocker(a.log), guard.NewMessageSuspender(a.log), a.log)

	err := primary.WaitForLinkingAndUploadBackup(ctx, key, tokenID, consoleProgress("transfer"))
	if err == nil {
		fmt.Println("Transfer complete.")
		return nil
	}

	var uploadErr *linksync.UploadError
	if errors.As(err, &uploadErr) {
		fmt.Println("Uploading the backup failed; the new device will start empty.")
		uploadErr.Handler.ContinueWithoutSyncing(ctx)
		return nil
	}

	var exportErr *linksync.ExportError
	if errors.As(err, &exportErr) {
		fmt.Println("Exporting the backup failed; the new device will start empty.")
		exportErr.Handler.ContinueWithoutSyncing(ctx)
		return nil
	}

	fmt.Println("Transfer failed:", err)
	return err
}

func (a *App) waitForLink(ctx context.Context, tokenID string) (*relayapi.LinkedDevice, error) {
	deadline := time.Now().Add(common.ProvisioningChannelTTL)
	for {
		device, err := a.relay.WaitForLinkedDevice(ctx, tokenID, a.config.PollTimeout)
		if err == nil {
			return device, nil
		}
		if !errors.Is(err, relayclient.ErrWaitTimeout) {
			return nil, err
		}
		if time.Now().After(deadline) {
			// the round's TTL has lapsed; only a fresh URL helps now
			return nil, common.ErrorChannelExpired
		}
	}
}

// ensurePrimary loads the primary registration, creating one on first use.
func (a *App) ensurePrimary(ctx context.Context) (*account.Registration, error) {
	reg, err := a.store.Load(ctx)
	if err == nil {
		if reg.DeviceID != 0 {
			return nil, errors.New("this device is linked as a secondary and cannot host")
		}
		return reg, nil
	}
	if !errors.Is(err, account.ErrNotRegistered) {
		return nil, err
	}

	fmt.Println("No account on this device yet, creating one.")
	number, err := GetSimpleText(a.reader, "Phone number (e.g. +15550100)", os.Stdout)
	if err != nil {
		return nil, err
	}
	if number == "" {
		return nil, errors.New("a phone number is required")
	}
	passphrase, err := GetPassword("Account passphrase", os.Stdout)
	if err != nil {
		return nil, err
	}

	aciIdentity, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	pniIdentity, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	profileKey, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	mediaRootBackupKey, err := randomBytes(32)
	if err != nil {
		return nil, err
	}

	reg = &account.Registration{
		Number:             number,
		ACI:                uuid.NewString(),
		PNI:                uuid.NewString(),
		DeviceID:           0,
		DeviceName:         a.config.DeviceName,
		ACIIdentity:        aciIdentity,
		PNIIdentity:        pniIdentity,
		ProfileKey:         profileKey,
		MasterKey:          cryptox.DeriveMasterKey(passphrase, []byte(number)),
		MediaRootBackupKey: mediaRootBackupKey,
		ReadReceipts:       true,
		LinkedAt:           time.Now(),
	}
	if err := a.store.Commit(ctx, reg); err != nil {
		return nil, err
	}
	fmt.Println("Account created.")
	return reg, nil
}

func generateKeyPair() (account.KeyPair, error) {
	private, err := randomBytes(curve25519.ScalarSize)
	if err != nil {
		return account.KeyPair{}, err
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return account.KeyPair{}, err
	}
	return account.KeyPair{Public: public, Private: private}, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func hasCapability(caps []provurl.Capability, want provurl.Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
