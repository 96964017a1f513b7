package cmd

import (
	"github.com/bnema/drmcursor/internal/config"
	"github.com/bnema/drmcursor/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "drmcursor",
		Short: "drmcursor - hardware cursor planes for DRM displays",
		Long: `drmcursor shows a display server's cursor on a hardware plane of the
DRM device, with one worker per CRTC. Client cursor buffers are converted on
the GPU so overlay planes that only scan out AFBC can be used as well.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().StringP("device", "d", config.DefaultConfig.Device, "DRM device node")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("backend", config.DefaultConfig.Backend, "conversion backend (egl or cpu)")

	for _, name := range []string{"device", "debug", "backend"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// loadConfig layers flags over the configuration file.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.LoadFrom(viper.GetViper(), configPath)
	if err != nil {
		return err
	}
	cfg = c

	// the CLI logs to the terminal unless a log file is asked for
	logFile := ""
	if cmd.Flags().Changed("log-file") {
		logFile = cfg.LogFile
	}
	if err := logger.Setup(cfg.Debug, logFile); err != nil {
		logger.Warn("log file unavailable", "path", logFile, "error", err)
	}
	return nil
}
