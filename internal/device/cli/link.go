package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/devlink/internal/device/guard"
	"github.com/dmitrijs2005/devlink/internal/linksync"
	"github.com/dmitrijs2005/devlink/internal/linksync/progress"
	"github.com/dmitrijs2005/devlink/internal/provisioning/completion"
	"github.com/dmitrijs2005/devlink/internal/provisioning/orchestrator"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provurl"
)

// Link runs the secondary side: it opens a provisioning channel, shows the
// URL for the primary to scan, and completes registration once the
// provisioning message arrives.
func (a *App) Link(ctx context.Context) error {
	if reg := a.registration(ctx); reg != nil {
		fmt.Println("This device is already linked as", a.getStatus(ctx))
		return nil
	}

	orch := orchestrator.New(a.config.RelayWSURL,
		[]provurl.Capability{provurl.CapabilityLinkNSync}, a.log)
	defer orch.Reset()

	url, err := orch.Start(ctx)
	if err != nil {
		fmt.Println("Could not open a provisioning channel:", err)
		return err
	}

	fmt.Println("On your primary device, choose \"Link new device\" and enter:")
	fmt.Println()
	fmt.Println("  " + url)
	fmt.Println()
	fmt.Println("Waiting for the primary device...")

	msg, err := orch.AwaitMessage(ctx)
	if err != nil {
		fmt.Println("Provisioning failed:", err)
		return err
	}

	syncer := linksync.NewSecondary(a.relay, a.backup, a.store,
		guard.NewSleepBlocker(a.log), a.log)
	pipeline := completion.NewPipeline(a.relay, a.store, syncer, a.log)

	result := pipeline.Complete(ctx, msg, a.config.DeviceName, consoleProgress("restore"))
	switch result.Outcome {
	case completion.OutcomeSuccess:
		fmt.Printf("Linked as device %d.\n", result.DeviceID)
	case completion.OutcomeContinuedWithoutSync:
		fmt.Printf("Linked as device %d. The primary could not transfer its data; starting empty.\n", result.DeviceID)
	case completion.OutcomeDifferentAccount:
		fmt.Println("This device already belongs to a different account. Unlink it first.")
	case completion.OutcomeDeviceLimit:
		fmt.Println("The account has no free device slots. Remove a device on the primary and retry.")
	case completion.OutcomeUpdateApp:
		fmt.Println("This app is too old to link. Update it and retry.")
	case completion.OutcomeRetryStep:
		fmt.Println("A transient error interrupted linking, retry in a moment:", result.Err)
	default:
		fmt.Println("Linking failed, start over:", result.Err)
	}
	if result.Err != nil {
		return result.Err
	}
	return nil
}

// progressOut is a test seam for progress rendering.
var progressOut io.Writer = os.Stdout

// consoleProgress renders coarse progress for long operations, one line per
// ten percent.
func consoleProgress(label string) progress.SinkFunc {
	last := -1
	return func(totalPercent float64) {
		step := int(totalPercent) / 10 * 10
		if step > last {
			last = step
			fmt.Fprintf(progressOut, "%s: %d%%\n", label, step)
		}
	}
}
