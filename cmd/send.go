// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendQuiet bool
	sendJSON  bool
)

var sendCmd = &cobra.Command{
	Use:   "cmd VERB [args...]",
	Short: "Send one command to the running daemon",
	Long: `Send a command line to the daemon and print its reply.

Board commands:
  nop | boot | init | config | feed | status | uuid | reset | recover | stats
  shutdown | hardshutdown
  wake MINUTES | irqwake on|off | watchdog SECONDS | fan SPEED
  led MODE [VALUE] | beep COUNT [TONE] [TIME] [PAUSE]
  timing [SHORT] [SPACE] [HOLD] [GRACE] | divisor N | pwmfreq HZ | output on|off

Daemon commands:
  reload | exit [reboot] | getkey KEY | setkey KEY VALUE...

Exit codes:
  0 - Command succeeded
  1 - Command failed
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVarP(&sendQuiet, "quiet", "q", false, "Print nothing, report through the exit code")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Print the raw JSON reply")
}

func runSend(cmd *cobra.Command, args []string) error {
	client, _, err := OpenClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raw, err := client.Send(ctx, strings.Join(args, " "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	reply := ParseReply(raw)
	switch {
	case sendQuiet:
	case sendJSON:
		fmt.Println(strings.TrimSpace(raw))
	default:
		fmt.Printf("%s => %s\n", resultMarker(reply.Result), reply.Text())
	}

	if !reply.Result {
		os.Exit(1)
	}
	return nil
}
