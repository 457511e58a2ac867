package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"engram/internal/types"
	"engram/internal/validation"
)

var (
	validateMessage     string
	validateMessageFile string
	validateDryRun      bool
	validateTaskID      string
	validateJSON        bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a commit message against the configured rule set",
	Long: `Validate a commit message: extract the task reference, check exemption
patterns, and verify that the referenced task carries the required
relationships (reasoning, context, file scope). Exit status is 0 when the
message passes and 1 when it fails, so the command slots directly into a
pre-commit hook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		message := validateMessage
		if validateMessageFile != "" {
			raw, err := os.ReadFile(validateMessageFile)
			if err != nil {
				return fmt.Errorf("failed to read message file: %w", err)
			}
			message = string(raw)
		}
		if strings.TrimSpace(message) == "" {
			return fmt.Errorf("%w: no commit message given, use --message or --message-file", types.ErrInvalid)
		}

		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		res, err := a.validator.Validate(ctx, message, validation.Options{
			DryRun: validateDryRun,
			TaskID: validateTaskID,
		})
		if err != nil {
			return err
		}
		if validateJSON {
			if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
				return err
			}
		} else {
			printResult(res)
		}
		if !res.Passed {
			// Silence cobra's usage dump; the failure report is the output.
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true
			for _, f := range res.Failures {
				if f.Rule == validation.ReqTaskReference {
					return fmt.Errorf("commit rejected: %w", types.ErrMissingTaskReference)
				}
			}
			return fmt.Errorf("commit rejected: %w", types.ErrMissingRelationship)
		}
		return nil
	},
}

func printResult(res *validation.Result) {
	switch {
	case res.Passed && res.Exempt:
		fmt.Println("PASS (exempt)")
	case res.Passed:
		fmt.Println("PASS")
	default:
		fmt.Println("FAIL")
	}
	if res.TaskID != "" {
		fmt.Printf("Task:   %s\n", res.TaskID)
	}
	if res.Cached {
		fmt.Println("Cached: yes")
	}
	for _, f := range res.Failures {
		fmt.Printf("  [%s] %s\n", f.Rule, f.Message)
		if f.Suggestion != "" {
			fmt.Printf("    %s\n", f.Suggestion)
		}
	}
}

var warmCacheCmd = &cobra.Command{
	Use:   "warm-cache [task-id...]",
	Short: "Pre-validate tasks so the next commit hits the cache",
	Long: `Run relationship validation for the given task IDs (or every open task
when none are given) and populate the validation cache, so the subsequent
pre-commit check is a cache hit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		taskIDs := args
		if len(taskIDs) == 0 {
			tasks, err := a.store.ListEntities(types.EntityFilter{
				Kind:   types.KindTask,
				Status: types.TaskOpen,
			})
			if err != nil {
				return err
			}
			for _, t := range tasks {
				taskIDs = append(taskIDs, t.ID)
			}
		}
		if err := a.validator.WarmCache(ctx, taskIDs); err != nil {
			return err
		}
		fmt.Printf("warmed %d tasks, cache holds %d entries\n", len(taskIDs), a.validator.CacheLen())
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateMessage, "message", "m", "", "commit message text")
	validateCmd.Flags().StringVar(&validateMessageFile, "message-file", "", "read the commit message from a file")
	validateCmd.Flags().BoolVar(&validateDryRun, "dry-run", false, "skip file scope checks")
	validateCmd.Flags().StringVar(&validateTaskID, "task", "", "override task ID extraction")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "emit JSON")
}
