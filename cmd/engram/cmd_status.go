package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"engram/internal/types"
	"engram/internal/validation"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the memory store for this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Workspace: %s\n", workspace)
		fmt.Printf("Database:  %s\n", a.cfg.DatabasePath())

		counts := map[types.EntityKind]int{}
		open := 0
		for _, kind := range []types.EntityKind{types.KindTask, types.KindContext, types.KindReasoning} {
			entities, err := a.store.ListEntities(types.EntityFilter{Kind: kind})
			if err != nil {
				return err
			}
			counts[kind] = len(entities)
			if kind == types.KindTask {
				for _, e := range entities {
					if e.Task != nil && e.Task.Status != types.TaskDone {
						open++
					}
				}
			}
		}
		fmt.Printf("Entities:  %d tasks (%d open), %d contexts, %d reasoning\n",
			counts[types.KindTask], open, counts[types.KindContext], counts[types.KindReasoning])
		fmt.Printf("Templates: %d registered\n", len(a.engine.Registry().List()))
		fmt.Printf("Rules:     version %s\n", a.validator.Rules().Version())

		installed, err := validation.HookInstalled(workspace)
		if err == nil && installed {
			fmt.Println("Hook:      installed")
		} else {
			fmt.Println("Hook:      not installed")
		}
		return nil
	},
}
