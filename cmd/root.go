package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/zalouser/internal/config"
	"github.com/nextlevelbuilder/zalouser/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/zalouser/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "zalouser",
	Short: "Zalo personal-account channel bridge",
	Long: "zalouser bridges a Zalo personal account to an agent host over NDJSON on stdio.\n" +
		color.YellowString("Warning: the personal-account API is unofficial and accounts may be locked."),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $ZALOUSER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(bindingsCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zalouser %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// setupLogging sends logs to stderr; stdout carries protocol frames.
func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
