package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact <db>",
	Short: "Discard old revision bodies and unused attachments",
	Long: `Compact a database: bodies of non-leaf revisions are dropped, attachments
no remaining revision references are deleted, and the file is vacuumed.
Revision history is kept.`,
	Args: cobra.ExactArgs(1),
	Run:  runCompact,
}

func runCompact(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var result *store.GCResult
	c.do(args[0], func(db *store.Database) error {
		var err error
		result, err = db.Compact()
		return err
	})

	color.New(color.FgGreen).Printf("Compacted '%s'\n", args[0])
	fmt.Printf("  Attachment rows removed: %d\n", result.RowsDeleted)
	fmt.Printf("  Blobs scanned:           %d\n", result.BlobsScanned)
	fmt.Printf("  Blobs deleted:           %d\n", result.BlobsDeleted)
}
