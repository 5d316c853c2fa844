package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revdb/internal/models"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <db> <docid> [json]",
	Short: "Create or update a document",
	Long: `Store a new revision of a document.

The body is taken from the json argument, the --file flag, or standard
input, in that order. Updating an existing document needs its current
revision, given with --rev or as "_rev" in the body.

Examples:
  revdb put notes doc1 '{"title":"hello"}'
  revdb put notes doc1 --rev 1-abc --file doc1.json`,
	Args: cobra.RangeArgs(2, 3),
	Run:  runPut,
}

var (
	putRev           string
	putFile          string
	putAllowConflict bool
)

func init() {
	putCmd.Flags().StringVar(&putRev, "rev", "", "Parent revision ID")
	putCmd.Flags().StringVarP(&putFile, "file", "f", "", "Read the body from a file")
	putCmd.Flags().BoolVar(&putAllowConflict, "allow-conflict", false, "Allow creating a conflicting branch")
}

func runPut(cmd *cobra.Command, args []string) {
	data := readBodyArg(args[2:], putFile)
	body, err := models.NewBodyFromJSON(data)
	if err != nil {
		exitError("invalid document body: %v", err)
	}
	rev := models.NewRevisionFromBody(body)
	rev.DocID = args[1]
	prevRevID := putRev
	if prevRevID == "" {
		prevRevID = rev.RevID
	}

	c := initContext()
	defer c.Close()

	var (
		result *models.Revision
		status models.Status
	)
	c.do(args[0], func(db *store.Database) error {
		result, status, err = db.PutRevision(rev, prevRevID, putAllowConflict)
		return err
	})
	color.New(color.FgGreen).Printf("%s ", status)
	color.New(color.FgYellow).Printf("%s ", result.DocID)
	fmt.Println(result.RevID)
}

// readBodyArg returns the inline argument if present, else the named file,
// else standard input.
func readBodyArg(inline []string, file string) []byte {
	if len(inline) > 0 {
		return []byte(inline[0])
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			exitError("failed to read %s: %v", file, err)
		}
		return data
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitError("failed to read standard input: %v", err)
	}
	return data
}
