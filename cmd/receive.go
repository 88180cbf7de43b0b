package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"radioftp/internal/app"
	"radioftp/internal/archive"
	"radioftp/internal/engine"
	"radioftp/internal/link"
	"radioftp/internal/link/hostifc"
	"radioftp/internal/link/rtc"
	"radioftp/internal/reporter"
	"radioftp/internal/store"
	"radioftp/internal/uplink"
	"radioftp/pkg/utils"
)

type ReceiveFlags struct {
	Code string
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Run the device side and apply the next file that arrives",
	Long: `Run the device side of a transfer. This will:

1. Open the radio link (a host-interface serial module or a WebRTC bridge)
2. Poll for downlinks on the transfer port
3. Write segments to the storage directory, journaling progress
4. Request missing segments and apply the file once its CRC32 checks out

An interrupted transfer resumes from its journal the next time the same
file ID and version is offered. The command exits 0 once a file is applied.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateReceiveFlags(&receiveFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := createContext()
		defer cancel()
		return runReceiverApp(ctx, &receiveFlags)
	},
}

func validateReceiveFlags(flags *ReceiveFlags) error {
	if flags.Code != "" && !utils.IsValidCode(flags.Code) {
		return fmt.Errorf("invalid session code %q", flags.Code)
	}
	return nil
}

func runReceiverApp(ctx context.Context, flags *ReceiveFlags) error {
	dir, err := utils.EnsureDir(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	st, err := store.NewFileStore(dir, loggerFactory)
	if err != nil {
		return err
	}

	lk, err := openDeviceLink(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to open %s link: %w", cfg.Link.Type, err)
	}
	defer lk.Close()

	eng, err := engine.New(st, uplink.New(lk), app.EngineOptions(cfg), loggerFactory)
	if err != nil {
		return err
	}
	if cfg.UI.Progress {
		eng.SetObserver(reporter.NewProgressReporter(os.Stdout, "Receive"))
	}

	receiver := app.NewReceiverApp(lk, eng, st, app.ReceiverOptionsFromConfig(cfg), loggerFactory)
	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Region, loggerFactory)
		if err != nil {
			return err
		}
		receiver.SetArchiver(archiver)
	}

	outcome := receiver.Run(ctx)
	printOutcome(outcome)
	if outcome.ExitCode() != 0 {
		if outcome.Err != nil {
			return fmt.Errorf("receiver %s: %w", outcome.Result, outcome.Err)
		}
		return fmt.Errorf("receiver %s", outcome.Result)
	}
	if outcome.Err != nil {
		log.Warnf("File applied but post-apply step failed: %v", outcome.Err)
	}
	return nil
}

// openDeviceLink connects to the radio named by link.type.
func openDeviceLink(ctx context.Context, flags *ReceiveFlags) (link.Link, error) {
	switch cfg.Link.Type {
	case "serial":
		client, err := hostifc.Dial(cfg.Link.Device, cfg.Link.Baud, cfg.Link.Timeout, loggerFactory)
		if err != nil {
			return nil, err
		}
		version, err := client.Version()
		if err != nil {
			client.Close()
			return nil, err
		}
		log.Infof("Radio module %s on %s", version, cfg.Link.Device)
		return client, nil

	case "webrtc":
		peer, err := createPeer("device")
		if err != nil {
			return nil, err
		}
		device := rtc.NewDevice(peer, cfg.WebRTC.ChannelLabel, cfg.Link.MailboxCheckEvery, link.DefaultQueueDepth, loggerFactory)

		signaling, err := createSignaling(ctx)
		if err != nil {
			device.Close()
			return nil, err
		}
		code := utils.NormalizeCode(flags.Code)
		if code == "" && cfg.WebRTC.Signal == "firebase" {
			if code, err = utils.AskForCode(ctx, os.Stdin, os.Stdout); err != nil {
				device.Close()
				return nil, err
			}
		}
		if err := signaling.Answer(ctx, peer.PeerConnection(), code); err != nil {
			device.Close()
			return nil, err
		}
		if err := device.WaitReady(ctx); err != nil {
			device.Close()
			return nil, err
		}
		return device, nil

	case "sim":
		return nil, fmt.Errorf("the simulated radio only runs under the simulate command")
	default:
		return nil, fmt.Errorf("unknown link type %q", cfg.Link.Type)
	}
}

func printOutcome(out app.Outcome) {
	fmt.Printf("Result: %s\n", out.Result)
	if out.Result != app.ResultCompleted {
		return
	}
	t := out.Completion.Transfer
	fmt.Printf("File %08x v%d: %s, crc32 %08x, %s\n", t.FileID, t.FileVersion,
		utils.FormatFileSize(int64(t.FileSize)), out.Completion.CRC32, out.Completion.Elapsed)
	if out.Artifact != "" {
		fmt.Printf("Stored at %s (sha256 %s)\n", out.Artifact, out.SHA256)
	}
	if out.ArchiveURI != "" {
		fmt.Printf("Archived to %s\n", out.ArchiveURI)
	}
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().String("link", "", "radio link: serial or webrtc")
	receiveCmd.Flags().String("device", "", "serial device of the radio module")
	receiveCmd.Flags().Int("baud", 0, "serial baud rate")
	receiveCmd.Flags().StringVar(&receiveFlags.Code, "code", "", "session code printed by send (firebase signalling)")

	viper.BindPFlag("link.type", receiveCmd.Flags().Lookup("link"))
	viper.BindPFlag("link.device", receiveCmd.Flags().Lookup("device"))
	viper.BindPFlag("link.baud", receiveCmd.Flags().Lookup("baud"))
}
