// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// ForwardSignals posts SIGHUP as a reload request and SIGTERM/SIGINT as a
// signal message until ctx is done
func (b *Bus) ForwardSignals(ctx context.Context, logger *slog.Logger) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				m := Message{Kind: KindSignal, Signal: sig}
				if sig == syscall.SIGHUP {
					m = Message{Kind: KindReload}
				}
				logger.Info("signal received", "signal", sig.String())
				if err := b.Post(ctx, m); err != nil {
					logger.Error("failed to queue signal", "signal", sig.String(), "error", err)
				}
			}
		}
	}()
}
