package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

func (a *App) Root(ctx context.Context) {

	log.Println("Welcome to devlink (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("dvl %s> ", a.getStatus(ctx))
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]

		switch cmd {
		case "help":
			fmt.Println("Available commands: link, host, status, exit")
			fmt.Println("  link    join an existing account from this device")
			fmt.Println("  host    link a new device to the account on this device")
			fmt.Println("  status  show this device's registration")

		case "link":
			_ = a.Link(ctx)
		case "host":
			_ = a.Host(ctx)
		case "status":
			a.status(ctx)
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Println("Unknown command:", cmd)
		}
	}

}

func (a *App) status(ctx context.Context) {
	reg := a.registration(ctx)
	if reg == nil {
		fmt.Println("Not linked to any account.")
		return
	}
	role := "primary"
	if reg.DeviceID != 0 {
		role = fmt.Sprintf("device %d", reg.DeviceID)
	}
	fmt.Printf("Account %s (%s), %s, linked %s\n", reg.Number, reg.ACI, role, reg.LinkedAt.Format("2006-01-02 15:04"))
	if reg.BackupRestored {
		fmt.Println("Backup restored from the primary device.")
	}
}
