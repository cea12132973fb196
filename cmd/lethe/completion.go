package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for lethe.

  $ source <(lethe completion bash)
  $ lethe completion zsh > "${fpath[1]}/_lethe"
  $ lethe completion fish | source
  PS> lethe completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(stdout)
		case "fish":
			return rootCmd.GenFishCompletion(stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(stdout)
		default:
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
