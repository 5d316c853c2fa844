package cli

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach <db> <docid> [file]",
	Short: "Add, replace or remove an attachment",
	Long: `Attach a file to a document as a new revision. The other attachments
of the parent revision carry over.

With --remove the named attachment is dropped instead.

Examples:
  revdb attach notes doc1 photo.jpg --rev 2-abc
  revdb attach notes doc1 --name photo.jpg --remove --rev 3-def`,
	Args: cobra.RangeArgs(2, 3),
	Run:  runAttach,
}

var catCmd = &cobra.Command{
	Use:   "cat <db> <docid> <name>",
	Short: "Write an attachment to standard output",
	Args:  cobra.ExactArgs(3),
	Run:   runCat,
}

var (
	attachRev    string
	attachName   string
	attachType   string
	attachRemove bool

	catRev string
)

func init() {
	attachCmd.Flags().StringVar(&attachRev, "rev", "", "Parent revision ID")
	attachCmd.Flags().StringVar(&attachName, "name", "", "Attachment name (default: file base name)")
	attachCmd.Flags().StringVar(&attachType, "type", "", "Content type (default: guessed from the extension)")
	attachCmd.Flags().BoolVar(&attachRemove, "remove", false, "Remove the attachment")

	catCmd.Flags().StringVar(&catRev, "rev", "", "Revision ID (default: winning revision)")
	rootCmd.AddCommand(catCmd)
}

func runAttach(cmd *cobra.Command, args []string) {
	name := attachName
	var (
		body        io.Reader
		contentType = attachType
	)
	if !attachRemove {
		if len(args) < 3 {
			exitError("a file to attach is required")
		}
		f, err := os.Open(args[2])
		if err != nil {
			exitError("failed to open %s: %v", args[2], err)
		}
		defer f.Close()
		body = f
		if name == "" {
			name = filepath.Base(args[2])
		}
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(name))
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}
	if name == "" {
		exitError("--name is required")
	}

	c := initContext()
	defer c.Close()

	var result *models.Revision
	c.do(args[0], func(db *store.Database) error {
		var err error
		result, _, err = db.UpdateAttachment(name, body, contentType, args[1], attachRev)
		return err
	})
	fmt.Printf("%s %s\n", result.DocID, result.RevID)
}

func runCat(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	c.do(args[0], func(db *store.Database) error {
		r, _, err := db.GetAttachment(args[1], catRev, args[2])
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(os.Stdout, r)
		return err
	})
}
