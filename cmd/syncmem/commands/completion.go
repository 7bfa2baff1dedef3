package commands

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for syncmem.

To load completions:

Bash:
  $ syncmem completion bash > ~/.local/share/bash-completion/completions/syncmem
  $ source ~/.local/share/bash-completion/completions/syncmem

Zsh:
  $ syncmem completion zsh > ~/.zsh/completion/_syncmem

Fish:
  $ syncmem completion fish > ~/.config/fish/completions/syncmem.fish

PowerShell:
  PS> syncmem completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	PersistentPreRunE:     noSetup,
	RunE:                  runCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
	registerFlagCompletions()
}

func runCompletion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch args[0] {
	case "bash":
		return cmd.Root().GenBashCompletion(out)
	case "zsh":
		return cmd.Root().GenZshCompletion(out)
	case "fish":
		return cmd.Root().GenFishCompletion(out, true)
	case "powershell":
		return cmd.Root().GenPowerShellCompletionWithDesc(out)
	}
	return nil
}

func fixedCompletions(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

// registerFlagCompletions completes the enumerated root flags
func registerFlagCompletions() {
	rootCmd.RegisterFlagCompletionFunc("mode", fixedCompletions(
		"cpu\tHost memory only, never pinned",
		"gpu\tPinned host memory when a runtime is present",
	))
	rootCmd.RegisterFlagCompletionFunc("runtime", fixedCompletions(
		"auto\tCUDA if available, otherwise simulated",
		"cuda\tNVIDIA CUDA runtime (libcudart)",
		"sim\tIn-process simulated devices",
		"none\tNo accelerator",
	))
}
