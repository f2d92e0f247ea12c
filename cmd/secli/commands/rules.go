package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/engine"
	"github.com/barnettlynn/seaccess/pkg/reader"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// aidRefFor reconstructs the AidRef a DumpRule's flattened AID came from.
// DumpRule only ever surfaces the specific-AID and default-application
// (nil AID) cases the Cache stores; the ForAll sentinel has no Cache
// representation, so --encode never produces a 0x82 aidRef.
func aidRefFor(aid []byte) ace.AidRef {
	if len(aid) == 0 {
		return ace.AidRef{Kind: ace.AidRefForDefault}
	}
	return ace.AidRef{Kind: ace.AidRefSpecific, AID: aid}
}

var (
	rulesForce  bool
	rulesEncode bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect or refresh a reader's Access Rule Cache",
}

var rulesDumpCmd = &cobra.Command{
	Use:   "dump <reader>",
	Short: "Dump the loaded Access Rule Cache for a reader",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesDump,
}

var rulesRefreshCmd = &cobra.Command{
	Use:   "refresh <reader>",
	Short: "Force a reload of a reader's Access Rule Cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesRefresh,
}

func init() {
	rulesRefreshCmd.Flags().BoolVar(&rulesForce, "force", false, "skip the confirmation prompt")
	rulesDumpCmd.Flags().BoolVar(&rulesEncode, "encode", false, "also print each rule's wire-format STORE DATA payload")
	rulesCmd.AddCommand(rulesDumpCmd)
	rulesCmd.AddCommand(rulesRefreshCmd)
}

func runRulesDump(cmd *cobra.Command, args []string) error {
	registry, err := bindRegistry()
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	r, err := registry.GetReader(args[0])
	if err != nil {
		return err
	}
	rules := r.Cache().DumpRules()
	ace.WriteRulesTable(os.Stdout, rules)

	if !rulesEncode {
		return nil
	}
	for _, rule := range rules {
		payload, err := ace.EncodeStoreData(aidRefFor(rule.AID), ace.HashRef{Hash: rule.Hash}, rule.Access)
		if err != nil {
			return fmt.Errorf("encode rule for AID %X: %w", rule.AID, err)
		}
		fmt.Printf("%X: %X\n", rule.AID, payload)
	}
	return nil
}

func runRulesRefresh(cmd *cobra.Command, args []string) error {
	registry, err := bindRegistry()
	if err != nil {
		return err
	}
	defer registry.Shutdown()

	r, err := registry.GetReader(args[0])
	if err != nil {
		return err
	}

	if !rulesForce && !confirm(fmt.Sprintf("Reload Access Rule Cache for %s?", r.Name)) {
		fmt.Println("aborted")
		return nil
	}

	ctx := context.Background()
	if err := reloadOne(ctx, r); err != nil {
		return err
	}
	fmt.Printf("%s: cache reloaded, refresh tag %X\n", r.Name, r.Cache().RefreshTag())
	return nil
}

func reloadOne(ctx context.Context, r *reader.Reader) error {
	if !r.IsCardPresent() {
		return &seaerr.NotConnectedError{What: "no card present on " + r.Name}
	}
	session, err := engine.NewSession(ctx, r)
	if err != nil {
		return err
	}
	access := engine.NewBasicChannelCardAccess(ctx, session)
	return ace.NewLoader(access).Reload(r.Cache())
}

// confirm asks a y/n question in raw terminal mode, the same single-
// keypress idiom the permission editor uses for its menus.
func confirm(prompt string) bool {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		// Not an interactive terminal: fall back to a line-buffered read.
		fmt.Printf("%s [y/N] ", prompt)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		return line == "y\n" || line == "Y\n"
	}
	defer term.Restore(fd, oldState)

	fmt.Printf("%s [y/N] \r\n", prompt)
	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false
	}
	return buf[0] == 'y' || buf[0] == 'Y'
}
