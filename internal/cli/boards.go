package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/linkboard/internal/board"
)

// Board commands work directly on the stores, so they need the server
// stopped.
var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "Manage boards (server must be stopped)",
}

var boardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boards, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: withStores(func(cmd *cobra.Command, st *stores, args []string) error {
		printBoards(cmd.OutOrStdout(), st.reg.Boards())
		return nil
	}),
}

var boardsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a board and make it active",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStores(func(cmd *cobra.Command, st *stores, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		id := st.reg.CreateBoard(name)
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}),
}

var boardsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a board",
	Args:  cobra.ExactArgs(2),
	RunE: withStores(func(cmd *cobra.Command, st *stores, args []string) error {
		if !st.reg.RenameBoard(args[0], args[1]) {
			return fmt.Errorf("no board %s", args[0])
		}
		return nil
	}),
}

var boardsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a board and its stored payloads",
	Args:  cobra.ExactArgs(1),
	RunE: withStores(func(cmd *cobra.Command, st *stores, args []string) error {
		if !st.reg.DeleteBoard(cmd.Context(), args[0]) {
			return fmt.Errorf("board %s not deleted: unknown id or last remaining board", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s, active board is now %s\n", args[0], st.reg.ActiveID())
		return nil
	}),
}

var boardsUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Make a board active",
	Args:  cobra.ExactArgs(1),
	RunE: withStores(func(cmd *cobra.Command, st *stores, args []string) error {
		if args[0] == st.reg.ActiveID() {
			return nil
		}
		if !st.reg.SwitchBoard(args[0]) {
			return fmt.Errorf("no board %s", args[0])
		}
		return nil
	}),
}

func init() {
	boardsCmd.AddCommand(boardsListCmd, boardsCreateCmd, boardsRenameCmd, boardsDeleteCmd, boardsUseCmd)
}

// withStores opens the stores around fn with a quiet logger and saves on
// the way out.
func withStores(fn func(*cobra.Command, *stores, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStores(context.Background(), cfg, zap.NewNop(), nil)
		if err != nil {
			return err
		}
		runErr := fn(cmd, st, args)
		if err := st.Close(); err != nil && runErr == nil {
			runErr = fmt.Errorf("save boards: %w", err)
		}
		return runErr
	}
}

func printBoards(w io.Writer, boards []board.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTIVE\tID\tNAME\tITEMS\tCONNECTIONS\tUPDATED")
	for _, b := range boards {
		mark := ""
		if b.Active {
			mark = "*"
		}
		updated := time.UnixMilli(b.UpdatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", mark, b.ID, b.Name, b.Items, b.Connections, updated)
	}
	tw.Flush()
}
