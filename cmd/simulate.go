package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"radioftp/internal/app"
	"radioftp/internal/archive"
	"radioftp/internal/reporter"
	"radioftp/internal/store"
	"radioftp/pkg/utils"
)

var simulateFlags SendFlags

// simulateCmd runs both ends over the in-process radio
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Transfer a file over a simulated lossy radio in one process",
	Long: `Run a gateway and a device in one process joined by a simulated radio.
Downlinks are dropped and reordered at the configured rates; acknowledged
uplinks always arrive. The received file lands in the storage directory
like it would on a real device, so a second run with the same file ID and
version resumes from the journal.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSendFlags(&simulateFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := createContext()
		defer cancel()
		return runSimulation(ctx, &simulateFlags)
	},
}

func runSimulation(ctx context.Context, flags *SendFlags) error {
	dir, err := utils.EnsureDir(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	st, err := store.NewFileStore(dir, loggerFactory)
	if err != nil {
		return err
	}

	sim := &app.Simulation{Config: cfg, Store: st, LoggerFactory: loggerFactory}
	if cfg.UI.Progress {
		sim.Observer = reporter.NewProgressReporter(os.Stdout, "Simulated transfer")
	}
	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Region, loggerFactory)
		if err != nil {
			return err
		}
		sim.Archiver = archiver
	}

	log.Infof("Simulating loss=%.2f reorder=%.2f seed=%d", cfg.Simulate.Loss, cfg.Simulate.Reorder, cfg.Simulate.Seed)
	res, err := sim.Run(ctx, &app.SenderOptions{
		FilePath:    flags.FilePath,
		FileID:      flags.FileID,
		FileVersion: flags.FileVersion,
	})
	if err != nil {
		return err
	}

	printOutcome(res.Receiver)
	fmt.Printf("Channel: %d downlinks (%d lost, %d reordered), %d uplinks\n",
		res.Channel.Downlinks, res.Channel.DownlinksLost, res.Channel.Reordered, res.Channel.Uplinks)
	fmt.Printf("Device: %d segments written, %d duplicates, %d requests\n",
		res.Engine.SegmentsWritten, res.Engine.Duplicates, res.Engine.RequestsSent)

	if res.SenderErr != nil {
		return res.SenderErr
	}
	if res.Receiver.ExitCode() != 0 {
		return fmt.Errorf("receiver %s: %w", res.Receiver.Result, res.Receiver.Err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simulateFlags.FilePath, "file", "f", "", "Path to file to send (required)")
	simulateCmd.Flags().Uint32Var(&simulateFlags.FileID, "file-id", 1, "file identifier")
	simulateCmd.Flags().Uint32Var(&simulateFlags.FileVersion, "file-version", 1, "file version")
	simulateCmd.Flags().Float64("loss", 0, "probability a downlink is dropped")
	simulateCmd.Flags().Float64("reorder", 0, "probability a downlink is delivered late")
	simulateCmd.Flags().Uint64("seed", 0, "seed for the channel's random source")
	simulateCmd.Flags().Duration("tick", 0, "device poll interval")

	simulateCmd.MarkFlagRequired("file")

	viper.BindPFlag("simulate.loss", simulateCmd.Flags().Lookup("loss"))
	viper.BindPFlag("simulate.reorder", simulateCmd.Flags().Lookup("reorder"))
	viper.BindPFlag("simulate.seed", simulateCmd.Flags().Lookup("seed"))
	viper.BindPFlag("link.tick_interval", simulateCmd.Flags().Lookup("tick"))
}
