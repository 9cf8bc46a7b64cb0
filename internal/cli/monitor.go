package cli

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print everything the device sends until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		arb, err := openArbiter()
		if err != nil {
			return err
		}
		defer arb.Close()

		var g run.Group

		stop := make(chan struct{})
		g.Add(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				data, ok, err := arb.Receive(time.Now().Add(100 * time.Millisecond))
				if err != nil {
					// The arbiter is reconnecting; keep listening.
					logger.Debug("receive", zap.Error(err))
					time.Sleep(100 * time.Millisecond)
					continue
				}
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s", data)
				}
			}
		}, func(error) {
			close(stop)
		})

		g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

		err = g.Run()
		st := arb.Stats()
		logger.Info("monitor stopped",
			zap.Uint64("bytes_received", st.BytesReceived),
			zap.Uint64("units_dropped", st.UnitsDropped),
			zap.Uint64("reconnects", st.Reconnects))

		var sig run.SignalError
		if errors.As(err, &sig) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
