package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"engram/internal/validation"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the git pre-commit validation hook",
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the pre-commit hook into .git/hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.InstallHook(workspace); err != nil {
			return err
		}
		fmt.Println("pre-commit hook installed")
		return nil
	},
}

var hookStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the pre-commit hook is installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		installed, err := validation.HookInstalled(workspace)
		if err != nil {
			return err
		}
		if installed {
			fmt.Println("pre-commit hook: installed")
		} else {
			fmt.Println("pre-commit hook: not installed")
		}
		return nil
	},
}

var hookUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the pre-commit hook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.UninstallHook(workspace); err != nil {
			return err
		}
		fmt.Println("pre-commit hook removed")
		return nil
	},
}

func init() {
	hookCmd.AddCommand(hookInstallCmd)
	hookCmd.AddCommand(hookStatusCmd)
	hookCmd.AddCommand(hookUninstallCmd)
}
