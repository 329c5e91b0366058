// Package cmd defines the qacollector CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/app"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/config"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/logging"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/pipeline"
	"github.com/JakeFAU/stackexchange-qa-collector/internal/report"
)

// Runner is the slice of the application the commands depend on.
type Runner interface {
	Run(ctx context.Context, mode pipeline.Mode) pipeline.Report
	Close()
}

// newApp is the application factory; tests replace it with a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// errRunFailed is returned when a stage ended in the failed state.
var errRunFailed = errors.New("run failed")

type cli struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:   "qacollector",
		Short: "Collects Stack Exchange questions and answers into a CSV table.",
		Long: `qacollector pages through Stack Exchange questions for a tag, stores them in a
JSON file, then fetches their answers in batches and writes one merged row per
question to a CSV table. Both stages resume from the files they left behind.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (YAML); env vars use the QACOLLECTOR_ prefix")

	cmd.AddCommand(newRunCmd(c))
	cmd.AddCommand(newStageCmd(c, pipeline.ModeCollect, "Collect questions into the questions file"))
	cmd.AddCommand(newStageCmd(c, pipeline.ModeJoin, "Join answers onto collected questions"))
	return cmd
}

// Execute runs the root command with SIGINT/SIGTERM wired to cancellation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func (c *cli) run(cmd *cobra.Command, mode pipeline.Mode) error {
	runner, err := newApp(cmd.Context(), c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer runner.Close()

	c.logger.Info("starting", zap.String("mode", string(mode)), zap.String("tag", c.cfg.API.Tag))
	rep := runner.Run(cmd.Context(), mode)
	report.Render(cmd.OutOrStdout(), rep)
	if rep.Failed() {
		c.logger.Error("run failed", zap.Error(rep.Err()))
		return errRunFailed
	}
	return nil
}
