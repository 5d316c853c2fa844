package cli

import (
	"os"

	"github.com/kilupskalvis/revdb/internal/server"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a completion script for revdb. Database names are completed
from the data directory.

  $ source <(revdb completion bash)
  $ source <(revdb completion zsh)
  $ revdb completion fish > ~/.config/fish/completions/revdb.fish
  PS> revdb completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		default:
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

// completeDatabaseNames offers the databases in the data directory as the
// first positional argument.
func completeDatabaseNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	names, err := server.DatabaseNames(cfg.DataDir)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)
	for _, cmd := range []*cobra.Command{dropCmd, infoCmd, putCmd, getCmd, deleteCmd, changesCmd, allDocsCmd, attachCmd, catCmd, revsCmd, compactCmd, localGetCmd, localPutCmd, localDeleteCmd} {
		cmd.ValidArgsFunction = completeDatabaseNames
	}
}
