package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/revdb/internal/store"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <db>",
	Short: "Show database information",
	Long:  `Show document count, last sequence, size and catalog details of a database.`,
	Args:  cobra.ExactArgs(1),
	Run:   runInfo,
}

func runInfo(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	name := args[0]
	var (
		docs    int
		lastSeq int64
		size    int64
		uuid    string
		digest  string
	)
	c.do(name, func(db *store.Database) error {
		var err error
		if docs, err = db.DocumentCount(); err != nil {
			return err
		}
		if lastSeq, err = db.LastSequence(); err != nil {
			return err
		}
		if size, err = db.TotalDataSize(); err != nil {
			return err
		}
		digest = db.DigestAlgorithm()
		uuid, err = db.PublicUUID()
		return err
	})

	yellow := color.New(color.FgYellow)
	yellow.Printf("database %s\n", name)
	fmt.Printf("  Documents:     %d\n", docs)
	fmt.Printf("  Last sequence: %d\n", lastSeq)
	fmt.Printf("  Size:          %d bytes\n", size)
	fmt.Printf("  UUID:          %s\n", uuid)
	fmt.Printf("  Digest:        %s\n", digest)

	if info, err := c.Server.Info(name); err == nil {
		fmt.Printf("  Created:       %s\n", info.Created.Format("Mon Jan 2 15:04:05 2006"))
		fmt.Printf("  Last opened:   %s\n", info.LastOpened.Format("Mon Jan 2 15:04:05 2006"))
		fmt.Printf("  Opened:        %d times\n", info.OpenCount)
	}
}
