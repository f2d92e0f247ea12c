package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/engine"
)

var transmitAID string

var transmitCmd = &cobra.Command{
	Use:   "transmit <reader> <hex-apdu>",
	Short: "Send a raw diagnostic APDU on a reader's basic channel",
	Long: `transmit opens the basic channel (selecting --aid if given, otherwise
the already-selected default application) and sends one command APDU,
printing the response data and a human-readable status word.`,
	Args: cobra.ExactArgs(2),
	RunE: runTransmit,
}

func init() {
	transmitCmd.Flags().StringVar(&transmitAID, "aid", "", "hex AID to SELECT before transmitting")
}

func runTransmit(cmd *cobra.Command, args []string) error {
	registry, err := bindRegistry()
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	r, err := registry.GetReader(args[0])
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(strings.ReplaceAll(args[1], " ", ""))
	if err != nil {
		return fmt.Errorf("invalid apdu hex: %w", err)
	}
	command, err := apdu.Decode(raw)
	if err != nil {
		return fmt.Errorf("invalid apdu: %w", err)
	}

	ctx := context.Background()
	session, err := engine.NewSession(ctx, r)
	if err != nil {
		return err
	}
	access := engine.NewBasicChannelCardAccess(ctx, session)

	if transmitAID != "" {
		aid, err := hex.DecodeString(transmitAID)
		if err != nil {
			return fmt.Errorf("invalid --aid hex: %w", err)
		}
		if _, err := access.SelectByAID(aid); err != nil {
			return fmt.Errorf("SELECT %X: %w", aid, err)
		}
	}

	resp, err := access.Transmit(command)
	if err != nil {
		return err
	}
	fmt.Printf("Data: %X\n", resp.Data)
	fmt.Printf("SW:   %04X (%s)\n", resp.SW(), ace.Describe(resp.SW()))
	return nil
}
