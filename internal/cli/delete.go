package cli

import (
	"fmt"

	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <db> <docid>",
	Short: "Delete a document",
	Long:  `Add a deletion revision on top of the given current revision.`,
	Args:  cobra.ExactArgs(2),
	Run:   runDelete,
}

var deleteRev string

func init() {
	deleteCmd.Flags().StringVar(&deleteRev, "rev", "", "Current revision ID (required)")
	deleteCmd.MarkFlagRequired("rev")
}

func runDelete(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var result *models.Revision
	c.do(args[0], func(db *store.Database) error {
		var err error
		result, _, err = db.PutRevision(models.NewRevision(args[1], "", true), deleteRev, false)
		return err
	})
	fmt.Printf("Deleted %s (%s)\n", result.DocID, result.RevID)
}
