package cli

import (
	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <db> <docid>",
	Short: "Show a document",
	Long:  `Print a document revision as JSON. Without --rev the winning revision is shown.`,
	Args:  cobra.ExactArgs(2),
	Run:   runGet,
}

var (
	getRev         string
	getRevs        bool
	getRevsInfo    bool
	getConflicts   bool
	getAttachments bool
	getLocalSeq    bool
)

func init() {
	getCmd.Flags().StringVar(&getRev, "rev", "", "Revision ID to show")
	getCmd.Flags().BoolVar(&getRevs, "revs", false, "Include the revision history")
	getCmd.Flags().BoolVar(&getRevsInfo, "revs-info", false, "Include the status of every known ancestor")
	getCmd.Flags().BoolVar(&getConflicts, "conflicts", false, "Include conflicting revisions")
	getCmd.Flags().BoolVar(&getAttachments, "attachments", false, "Include attachment data inline")
	getCmd.Flags().BoolVar(&getLocalSeq, "local-seq", false, "Include the local sequence number")
}

func runGet(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var opts models.ContentOptions
	if getRevs {
		opts |= models.IncludeRevs
	}
	if getRevsInfo {
		opts |= models.IncludeRevsInfo
	}
	if getConflicts {
		opts |= models.IncludeConflicts
	}
	if getAttachments {
		opts |= models.IncludeAttachments
	}
	if getLocalSeq {
		opts |= models.IncludeLocalSeq
	}

	var rev *models.Revision
	c.do(args[0], func(db *store.Database) error {
		var err error
		rev, err = db.GetDocument(args[1], getRev, opts)
		return err
	})
	printBody(rev.Body)
}
