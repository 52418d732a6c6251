package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inferload/internal/logging"
	"inferload/internal/mockserver"
)

var (
	mockPort          int
	mockTTFT          time.Duration
	mockTokenInterval time.Duration
	mockJitter        time.Duration
	mockMaxConc       int64
	mockFailureRate   float64
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run a local OpenAI-compatible mock inference server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.Setup("info", "text")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := mockserver.New(mockserver.Config{
			Port:           mockPort,
			TTFT:           mockTTFT,
			TokenInterval:  mockTokenInterval,
			Jitter:         mockJitter,
			MaxConcurrency: mockMaxConc,
			FailureRate:    mockFailureRate,
		}, logger)
		return srv.Run(ctx)
	},
}

func init() {
	mockCmd.Flags().IntVarP(&mockPort, "port", "p", 8000, "Port to listen on")
	mockCmd.Flags().DurationVar(&mockTTFT, "ttft", 50*time.Millisecond, "Delay before the first token")
	mockCmd.Flags().DurationVar(&mockTokenInterval, "token-interval", 10*time.Millisecond, "Gap between tokens")
	mockCmd.Flags().DurationVar(&mockJitter, "jitter", 0, "Random extra delay per token")
	mockCmd.Flags().Int64Var(&mockMaxConc, "max-concurrency", 0, "Reject streams above this many in flight (0 = unlimited)")
	mockCmd.Flags().Float64Var(&mockFailureRate, "failure-rate", 0, "Fraction of requests to fail with 500")
}
