package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var allDocsCmd = &cobra.Command{
	Use:   "all-docs <db>",
	Short: "List documents by ID",
	Long: `List live documents ordered by document ID, optionally restricted to a
key range.`,
	Args: cobra.ExactArgs(1),
	Run:  runAllDocs,
}

var (
	allDocsStart      string
	allDocsEnd        string
	allDocsKeys       []string
	allDocsDescending bool
	allDocsSkip       int
	allDocsLimit      int
	allDocsInclude    bool
)

func init() {
	f := allDocsCmd.Flags()
	f.StringVar(&allDocsStart, "start", "", "First document ID")
	f.StringVar(&allDocsEnd, "end", "", "Last document ID")
	f.StringSliceVar(&allDocsKeys, "key", nil, "Fetch only these document IDs, repeat for multiple")
	f.BoolVar(&allDocsDescending, "descending", false, "Reverse the order")
	f.IntVar(&allDocsSkip, "skip", 0, "Skip this many rows")
	f.IntVarP(&allDocsLimit, "limit", "n", 0, "Limit the number of rows")
	f.BoolVar(&allDocsInclude, "include-docs", false, "Print each document body")
}

func runAllDocs(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	opts := models.DefaultQueryOptions()
	opts.StartKey = allDocsStart
	opts.EndKey = allDocsEnd
	opts.Keys = allDocsKeys
	opts.Descending = allDocsDescending
	opts.Skip = allDocsSkip
	opts.Limit = allDocsLimit
	opts.IncludeDocs = allDocsInclude
	opts.UpdateSeq = true

	var result *models.QueryResult
	c.do(args[0], func(db *store.Database) error {
		var err error
		result, err = db.AllDocs(opts)
		return err
	})

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	for _, row := range result.Rows {
		switch {
		case row.Error != "":
			red.Printf("%s %s\n", row.Key, row.Error)
		case row.Deleted:
			fmt.Printf("%s %s", row.DocID, shortRev(row.RevID))
			red.Println(" [deleted]")
		default:
			yellow.Printf("%s ", row.DocID)
			fmt.Println(shortRev(row.RevID))
		}
		if row.Doc != nil {
			printBody(row.Doc)
		}
	}
	fmt.Printf("\n%d rows of %d, update_seq %d\n", len(result.Rows), result.TotalRows, result.UpdateSeq)
}
