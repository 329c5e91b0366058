package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/stackexchange-qa-collector/internal/pipeline"
)

func newRunCmd(c *cli) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the collect and/or join stages",
		Long: `Runs the stages selected by --mode. With "both" the join stage follows the
collection unless collection failed. Defaults to pipeline.mode from config.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw := c.cfg.Pipeline.Mode
			if cmd.Flags().Changed("mode") {
				raw = mode
			}
			parsed, err := pipeline.ParseMode(raw)
			if err != nil {
				return err
			}
			return c.run(cmd, parsed)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "both", "stages to run: collect, join or both")
	return cmd
}

func newStageCmd(c *cli, mode pipeline.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, mode)
		},
	}
}
