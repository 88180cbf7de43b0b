package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"radioftp/internal/config"
	"radioftp/internal/logger"
	"radioftp/internal/metrics"
)

var (
	cfg           *config.Config
	cfgFile       string
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "radioftp",
	Short: "radioftp - resumable file transfer over low-bandwidth radio links",
	Long: `radioftp moves files to a radio device in fixed-size segments over a lossy,
bandwidth-limited link. The device keeps a journal of received segments, asks
for what it is missing and applies the file once the CRC32 matches.

Usage:
  Receive on a device:  radioftp receive --link serial --device /dev/ttyUSB0
  Serve a file:         radioftp send --file firmware.bin --file-id 0x1000
  Try it locally:       radioftp simulate --file firmware.bin --loss 0.2

The send and receive commands pair over WebRTC; the simulate command runs
both ends in one process over a simulated radio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig(cmd)

		var err error
		cfg, err = config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		factory, err := logger.NewFactory(cfg.Log.Level, os.Stderr)
		if err != nil {
			return err
		}
		loggerFactory = factory
		log = factory.NewLogger("cli")

		if cfg.Metrics.Enabled {
			metrics.StartServer(cfg.Metrics.Addr, log)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.radioftp.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: error, warn, info, debug or trace")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().String("dir", "", "storage directory for received files and journals")
	rootCmd.PersistentFlags().Bool("progress", false, "show a progress bar")
	rootCmd.PersistentFlags().String("signal", "", "SDP exchange for the WebRTC bridge: manual or firebase")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("storage.dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("ui.progress", rootCmd.PersistentFlags().Lookup("progress"))
	viper.BindPFlag("webrtc.signal", rootCmd.PersistentFlags().Lookup("signal"))

	viper.SetEnvPrefix("RADIOFTP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())
}

// initConfig reads in config file and ENV variables
func initConfig(cmd *cobra.Command) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not find home directory: %v\n", err)
			return
		}

		// Search config in home directory with name ".radioftp" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".radioftp")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}

	// An explicit address turns the exporter on.
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		viper.Set("metrics.enabled", true)
		viper.Set("metrics.addr", addr)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
