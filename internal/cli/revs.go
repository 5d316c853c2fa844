package cli

import (
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var revsCmd = &cobra.Command{
	Use:   "revs <db> <docid>",
	Short: "Show the revision tree of a document",
	Long: `List the leaf revisions of a document, winner first, with the ancestry
of each. Use --all to list every known revision instead.`,
	Args: cobra.ExactArgs(2),
	Run:  runRevs,
}

var revsAll bool

func init() {
	revsCmd.Flags().BoolVar(&revsAll, "all", false, "List every stored revision")
	rootCmd.AddCommand(revsCmd)
}

func runRevs(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var (
		revs    models.RevisionList
		history = make(map[string][]string)
	)
	c.do(args[0], func(db *store.Database) error {
		var err error
		if revs, err = db.AllRevisionsOfDocument(args[1], !revsAll); err != nil {
			return err
		}
		if revsAll {
			return nil
		}
		slices.SortStableFunc(revs, func(a, b *models.Revision) int {
			if a.Deleted != b.Deleted {
				if a.Deleted {
					return 1
				}
				return -1
			}
			return models.CompareRevIDs(b.RevID, a.RevID)
		})
		for _, rev := range revs {
			ancestry, err := db.RevisionHistory(rev)
			if err != nil {
				return err
			}
			history[rev.RevID] = ancestry.AllRevIDs()
		}
		return nil
	})

	if len(revs) == 0 {
		exitError("document '%s' not found", args[1])
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	for i, rev := range revs {
		yellow.Printf("%s", rev.RevID)
		if rev.Deleted {
			red.Print(" [deleted]")
		}
		if !revsAll && i == 0 {
			color.New(color.FgCyan).Print(" (winner)")
		}
		fmt.Println()
		for _, ancestor := range history[rev.RevID][min(1, len(history[rev.RevID])):] {
			fmt.Printf("    %s\n", ancestor)
		}
	}
}
