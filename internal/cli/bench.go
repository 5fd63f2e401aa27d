package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yairfalse/cyclictest/internal/output"
	"github.com/yairfalse/cyclictest/pkg/config"
	"github.com/yairfalse/cyclictest/pkg/shutdown"
)

func newBenchCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Time single heap allocations",
		Long: `Bench times slice appends, small heap objects and 4 MiB slice copies one
at a time with the monotonic clock and reports average and maximum in
microseconds. Treat the numbers as rules of thumb.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v.Set("modes.bench", true)
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			logger, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			handler := shutdown.NewHandler(cleanupTimeout, logger)
			handler.Start()
			defer func() { _ = handler.Shutdown() }()

			return runBench(handler.Context(), output.NewFormatterWithWriter(cfg.Output, cmd.OutOrStdout()), logger)
		},
	}
}
