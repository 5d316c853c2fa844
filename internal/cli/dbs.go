package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var dbsCmd = &cobra.Command{
	Use:   "dbs",
	Short: "List databases",
	Long:  `List every database in the data directory.`,
	Args:  cobra.NoArgs,
	Run:   runDbs,
}

var createCmd = &cobra.Command{
	Use:   "create <db>",
	Short: "Create a database",
	Long: `Create a new empty database.

Names start with a lowercase letter and may contain lowercase letters,
digits and any of _$()+-/.`,
	Args: cobra.ExactArgs(1),
	Run:  runCreate,
}

var dropCmd = &cobra.Command{
	Use:   "drop <db>",
	Short: "Delete a database",
	Long:  `Delete a database together with its attachments.`,
	Args:  cobra.ExactArgs(1),
	Run:   runDrop,
}

func runDbs(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	names, err := c.Server.AllDatabaseNames()
	if err != nil {
		exitError("failed to list databases: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No databases")
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func runCreate(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	name := args[0]
	if names, err := c.Server.AllDatabaseNames(); err == nil {
		for _, n := range names {
			if n == name {
				exitError("database '%s' already exists", name)
			}
		}
	}
	if _, err := c.Server.Database(name, true); err != nil {
		exitError("failed to create database: %v", err)
	}
	color.New(color.FgGreen).Printf("Created database '%s'\n", name)
}

func runDrop(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if err := c.Server.DeleteDatabase(args[0]); err != nil {
		exitStatus(err)
	}
	fmt.Printf("Deleted database '%s'\n", args[0])
}
