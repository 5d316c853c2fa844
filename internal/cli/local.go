package cli

import (
	"fmt"
	"strings"

	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Manage local documents",
	Long: `Commands for local documents. Local documents are never replicated and
have no revision history. The "_local/" prefix is added when missing.`,
}

var localGetCmd = &cobra.Command{
	Use:   "get <db> <docid>",
	Short: "Show a local document",
	Args:  cobra.ExactArgs(2),
	Run:   runLocalGet,
}

var localPutCmd = &cobra.Command{
	Use:   "put <db> <docid> [json]",
	Short: "Create or replace a local document",
	Args:  cobra.RangeArgs(2, 3),
	Run:   runLocalPut,
}

var localDeleteCmd = &cobra.Command{
	Use:   "delete <db> <docid>",
	Short: "Delete a local document",
	Args:  cobra.ExactArgs(2),
	Run:   runLocalDelete,
}

var (
	localRev  string
	localFile string
)

func init() {
	localCmd.AddCommand(localGetCmd, localPutCmd, localDeleteCmd)

	localPutCmd.Flags().StringVar(&localRev, "rev", "", "Current revision ID")
	localPutCmd.Flags().StringVarP(&localFile, "file", "f", "", "Read the body from a file")
	localDeleteCmd.Flags().StringVar(&localRev, "rev", "", "Current revision ID (required)")
	localDeleteCmd.MarkFlagRequired("rev")
}

func localDocID(id string) string {
	if strings.HasPrefix(id, store.LocalPrefix) {
		return id
	}
	return store.LocalPrefix + id
}

func runLocalGet(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var rev *models.Revision
	c.do(args[0], func(db *store.Database) error {
		var err error
		rev, err = db.GetLocalDocument(localDocID(args[1]), "")
		return err
	})
	printBody(rev.Body)
}

func runLocalPut(cmd *cobra.Command, args []string) {
	body, err := models.NewBodyFromJSON(readBodyArg(args[2:], localFile))
	if err != nil {
		exitError("invalid document body: %v", err)
	}

	c := initContext()
	defer c.Close()

	rev := &models.Revision{DocID: localDocID(args[1]), Body: body}
	c.do(args[0], func(db *store.Database) error {
		rev, err = db.PutLocalRevision(rev, localRev)
		return err
	})
	fmt.Printf("%s %s\n", rev.DocID, rev.RevID)
}

func runLocalDelete(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	docID := localDocID(args[1])
	c.do(args[0], func(db *store.Database) error {
		return db.DeleteLocalDocument(docID, localRev)
	})
	fmt.Printf("Deleted %s\n", docID)
}
