// Package cli maps the cyclictest command line onto the measurement engine.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yairfalse/cyclictest/pkg/config"
)

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree around a fresh viper instance
func NewRootCommand() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "cyclictest",
		Short: "Measure OS scheduling latency of timed sleeps",
		Long: `cyclictest spawns measurement threads that sleep for a fixed interval,
records how late every wakeup was and prints a latency histogram per thread.

Run it as root on a PREEMPT_RT kernel for meaningful numbers. Without
privileges it still measures, in degraded mode.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	d := config.Default()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cyclictest.yaml)")
	flags.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	flags.StringP("output", "o", d.Output, "output format: human, json, yaml")
	bindFlags(v, flags, map[string]string{
		"log_level": "log-level",
		"output":    "output",
	})

	rootCmd.AddCommand(newRunCommand(v))
	rootCmd.AddCommand(newBenchCommand(v))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".cyclictest")
	}

	config.BindEnv(v)

	used, err := config.ReadFile(v)
	if err != nil {
		return err
	}
	if used != "" && v.GetString("log_level") == "debug" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
	}
	return nil
}
