package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"engram/internal/store"
	"engram/internal/types"
)

var (
	entityKind       string
	entityBody       string
	entityAgent      string
	entityStatus     string
	entityTags       []string
	entityConfidence float64
	entityJSON       bool

	listKind   string
	listAgent  string
	listStatus string
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Create and inspect stored entities",
}

var entityCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task, context, or reasoning entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		e := &types.Entity{
			Kind:  types.EntityKind(entityKind),
			Title: args[0],
			Body:  entityBody,
			Agent: store.NormalizeAgent(entityAgent),
		}
		switch e.Kind {
		case types.KindTask:
			e.Task = &types.TaskFields{Status: types.TaskStatus(entityStatus)}
		case types.KindContext:
			e.Context = &types.ContextFields{Tags: entityTags}
		case types.KindReasoning:
			e.Reasoning = &types.ReasoningFields{Confidence: entityConfidence}
		}

		created, err := a.store.CreateEntity(e)
		if err != nil {
			return err
		}
		return printEntity(created, entityJSON)
	},
}

var entityGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch an entity by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.store.GetEntity(args[0])
		if err != nil {
			return err
		}
		return printEntity(e, entityJSON)
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities, optionally filtered by kind, agent, or status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entities, err := a.store.ListEntities(types.EntityFilter{
			Kind:   types.EntityKind(listKind),
			Agent:  listAgent,
			Status: types.TaskStatus(listStatus),
		})
		if err != nil {
			return err
		}
		if entityJSON {
			return json.NewEncoder(os.Stdout).Encode(entities)
		}
		for _, e := range entities {
			fmt.Printf("%s  %-9s  %s\n", e.ID, e.Kind, e.Title)
		}
		fmt.Printf("%d entities\n", len(entities))
		return nil
	},
}

func printEntity(e *types.Entity, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(e)
	}
	fmt.Printf("ID:      %s\n", e.ID)
	fmt.Printf("Kind:    %s\n", e.Kind)
	fmt.Printf("Title:   %s\n", e.Title)
	if e.Body != "" {
		fmt.Printf("Body:    %s\n", e.Body)
	}
	fmt.Printf("Agent:   %s\n", e.Agent)
	fmt.Printf("Version: %d\n", e.Version)
	fmt.Printf("Created: %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	switch {
	case e.Task != nil:
		fmt.Printf("Status:  %s\n", e.Task.Status)
	case e.Context != nil && len(e.Context.Tags) > 0:
		fmt.Printf("Tags:    %v\n", e.Context.Tags)
	case e.Reasoning != nil:
		fmt.Printf("Confidence: %.2f\n", e.Reasoning.Confidence)
	}
	return nil
}

func init() {
	entityCreateCmd.Flags().StringVarP(&entityKind, "kind", "k", "task", "entity kind (task|context|reasoning)")
	entityCreateCmd.Flags().StringVarP(&entityBody, "body", "b", "", "entity body text")
	entityCreateCmd.Flags().StringVarP(&entityAgent, "agent", "a", os.Getenv("USER"), "creating agent (defaults to $USER)")
	entityCreateCmd.Flags().StringVar(&entityStatus, "status", "open", "initial task status")
	entityCreateCmd.Flags().StringSliceVar(&entityTags, "tag", nil, "context tag (repeatable)")
	entityCreateCmd.Flags().Float64Var(&entityConfidence, "confidence", 1.0, "reasoning confidence in [0,1]")

	entityListCmd.Flags().StringVarP(&listKind, "kind", "k", "", "filter by kind")
	entityListCmd.Flags().StringVarP(&listAgent, "agent", "a", "", "filter by agent")
	entityListCmd.Flags().StringVar(&listStatus, "status", "", "filter by task status")

	entityCmd.PersistentFlags().BoolVar(&entityJSON, "json", false, "emit JSON")
	entityCmd.AddCommand(entityCreateCmd)
	entityCmd.AddCommand(entityGetCmd)
	entityCmd.AddCommand(entityListCmd)
}
