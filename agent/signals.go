// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"os"
	"syscall"
)

// handleSignals blocks until the agent receives an exit signal or ctx is
// done. SIGUSR1 purges the pool without stopping the agent.
func (a *Agent) handleSignals(ctx context.Context, signalCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context closed, stopping agent")
			return
		case sig := <-signalCh:
			a.logger.Info("caught signal", "signal", sig.String())

			// Check the signal we received. If it was a SIGUSR1 purge the
			// pool and then continue to wait for another signal. Everything
			// else means exit.
			switch sig {
			case syscall.SIGUSR1:
				go a.purge(ctx)
			default:
				return
			}
		}
	}
}
