package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"radioftp/internal/app"
	"radioftp/internal/link"
	"radioftp/internal/link/rtc"
	"radioftp/internal/reporter"
)

type SendFlags struct {
	FilePath    string
	FileID      uint32
	FileVersion uint32
}

var sendFlags SendFlags

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Serve a file to a device through a WebRTC gateway bridge",
	Long: `Serve a file to a device. This will:

1. Create a WebRTC peer connection acting as the radio gateway
2. Generate an SDP offer and exchange it with the device
3. Announce the file with an Open frame and stream its segments
4. Resend whatever the device reports missing until it applies the file

Use --file to specify the path to the file you want to send. A device that
already holds part of the same file ID and version only asks for the rest.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateSendFlags(&sendFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := createContext()
		defer cancel()
		return runSenderApp(ctx, &sendFlags)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendFlags.FilePath, "file", "f", "", "Path to file to send (required)")
	sendCmd.Flags().Uint32Var(&sendFlags.FileID, "file-id", 1, "file identifier announced to the device")
	sendCmd.Flags().Uint32Var(&sendFlags.FileVersion, "file-version", 1, "file version announced to the device")

	sendCmd.MarkFlagRequired("file")
}

// validateSendFlags validates the send command flags
func validateSendFlags(flags *SendFlags) error {
	if flags.FilePath == "" {
		return fmt.Errorf("file path is required")
	}
	info, err := os.Stat(flags.FilePath)
	if err != nil {
		return fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("'%s' is a directory", flags.FilePath)
	}
	if info.Size() == 0 {
		return fmt.Errorf("'%s' is empty", flags.FilePath)
	}
	return nil
}

// runSenderApp pairs with the device and serves the file
func runSenderApp(ctx context.Context, flags *SendFlags) error {
	peer, err := createPeer("gateway")
	if err != nil {
		return err
	}
	gw, err := rtc.NewGateway(peer, cfg.WebRTC.ChannelLabel, link.DefaultQueueDepth, loggerFactory)
	if err != nil {
		peer.Close()
		return err
	}
	defer gw.Close()

	signaling, err := createSignaling(ctx)
	if err != nil {
		return err
	}
	code, err := signaling.Offer(ctx, peer.PeerConnection())
	if err != nil {
		return err
	}
	if code != "" {
		defer signaling.ClearSession(context.Background(), code)
	}
	if err := gw.WaitReady(ctx); err != nil {
		return err
	}

	senderApp := app.NewSenderApp(cfg, gw, loggerFactory)
	if cfg.UI.Progress {
		senderApp.SetProgress(reporter.NewProgressReporter(os.Stdout, "Send"))
	}
	res, err := senderApp.Run(ctx, &app.SenderOptions{
		FilePath:    flags.FilePath,
		FileID:      flags.FileID,
		FileVersion: flags.FileVersion,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Delivered %s: %d segments sent, %d resent after %d requests, %s\n",
		flags.FilePath, res.Sent, res.Resent, res.Requests, res.Elapsed)
	return nil
}
