package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:   "changes <db>",
	Short: "Show the changes feed",
	Long: `List documents changed after a sequence number, one line per document
in sequence order.`,
	Args: cobra.ExactArgs(1),
	Run:  runChanges,
}

var (
	changesSince     int64
	changesLimit     int
	changesConflicts bool
	changesDocs      bool
)

func init() {
	changesCmd.Flags().Int64Var(&changesSince, "since", 0, "Only show changes after this sequence")
	changesCmd.Flags().IntVarP(&changesLimit, "limit", "n", 0, "Limit the number of changes to show")
	changesCmd.Flags().BoolVar(&changesConflicts, "conflicts", false, "Show every leaf, not just the winner")
	changesCmd.Flags().BoolVar(&changesDocs, "include-docs", false, "Print each document body")
}

func runChanges(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	opts := models.ChangesOptions{
		Limit:            changesLimit,
		IncludeDocs:      changesDocs,
		IncludeConflicts: changesConflicts,
		SortBySequence:   true,
	}

	var changes models.RevisionList
	c.do(args[0], func(db *store.Database) error {
		var err error
		changes, err = db.ChangesSince(changesSince, opts, nil)
		return err
	})

	if len(changes) == 0 {
		fmt.Println("No changes")
		return
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	for _, rev := range changes {
		yellow.Printf("%6d ", rev.Sequence)
		fmt.Printf("%s %s", rev.DocID, shortRev(rev.RevID))
		if rev.Deleted {
			red.Print(" [deleted]")
		}
		fmt.Println()
		if changesDocs && rev.Body != nil {
			printBody(rev.Body)
		}
	}
}
