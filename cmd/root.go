package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"inferload/internal/adapter"
	"inferload/internal/cli"
	"inferload/internal/config"
	"inferload/internal/datagen"
	"inferload/internal/logging"
	"inferload/internal/metrics"
	"inferload/internal/orchestrator"
	"inferload/internal/report"
	"inferload/internal/tui"
)

var (
	cfgFile string
	live    bool
)

var rootCmd = &cobra.Command{
	Use:   "inferload",
	Short: "Inferload - rate-controlled benchmark for LLM inference servers",
	Long: `
Inferload drives an OpenAI-compatible inference server with precisely
scheduled request arrivals (constant or Poisson), measures token-level
latency (TTFT, TPOT, ITL) and reports whether the requested rate was
actually delivered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBenchmark()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(mockCmd)
	rootCmd.AddCommand(historyCmd)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.Flags().BoolVar(&live, "live", false, "show the live TUI dashboard instead of plain progress")
}

func runBenchmark() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	var client adapter.Client
	switch cfg.Server.Type {
	case "mock":
		client = &adapter.MockClient{
			TTFT:   50 * time.Millisecond,
			Gap:    10 * time.Millisecond,
			Tokens: cfg.Data.OutputTokens,
		}
	default:
		client = adapter.NewOpenAIClient(adapter.OpenAIConfig{
			BaseURL:   cfg.Server.BaseURL,
			Model:     cfg.Server.Model,
			APIKey:    cfg.Server.APIKey,
			IgnoreEOS: cfg.Server.IgnoreEOS,
			MaxConns:  cfg.Load.WorkerMaxConns,
			Timeout:   cfg.Server.Timeout,
		})
	}

	var gen datagen.Generator
	switch cfg.Data.Type {
	case "fixed":
		gen = &datagen.FixedGenerator{
			Prompt:       cfg.Data.Prompt,
			InputTokens:  cfg.Data.InputTokens,
			OutputTokens: cfg.Data.OutputTokens,
		}
	default:
		gen = datagen.NewSyntheticGenerator(cfg.Data.InputTokens, cfg.Data.OutputTokens, cfg.Load.Seed)
	}

	opts := []orchestrator.Option{}

	sink, err := report.NewLocalSink(cfg.Storage.Path)
	if err != nil {
		return err
	}
	opts = append(opts, orchestrator.WithSink(sink))

	if cfg.Metrics.Prometheus != nil {
		prom, err := metrics.NewPromClient(cfg.Metrics.Prometheus.URL, cfg.Metrics.Prometheus.Metrics, logger)
		if err != nil {
			return err
		}
		opts = append(opts, orchestrator.WithPromClient(prom))
	}

	updates := make(orchestrator.SnapshotChan, 100)
	opts = append(opts, orchestrator.WithUpdates(updates))

	orch := orchestrator.New(cfg, client, gen, logger, opts...)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	type result struct {
		run *report.RunReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		run, err := orch.Run(ctx)
		close(updates)
		done <- result{run, err}
	}()

	if live {
		p := tea.NewProgram(tui.NewModel(cfg, updates), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return err
		}
		// Quitting the dashboard aborts any stage still running.
		cancel()
	} else {
		cli.PrintHeader(cfg)
		cli.Watch(updates)
	}

	res := <-done
	if res.err != nil {
		return res.err
	}

	cli.PrintSummary(res.run)
	fmt.Printf("\n💾 Reports saved to %s\n", sink.Dir())

	history, err := report.OpenHistory(cfg.Storage.History)
	if err != nil {
		logger.Warn("failed to open run history", "error", err)
		return nil
	}
	defer history.Close()
	if err := history.Save(*res.run); err != nil {
		logger.Warn("failed to record run history", "error", err)
	}
	return nil
}
