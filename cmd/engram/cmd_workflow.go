package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"engram/internal/types"
)

var (
	workflowTemplate string
	workflowData     []string
	workflowJSON     bool
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Drive per-task workflow state machines",
}

var workflowStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start a workflow instance for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		inst, err := a.engine.Start(workflowTemplate, args[0])
		if err != nil {
			return err
		}
		return printInstance(inst, workflowJSON)
	},
}

var workflowTransitionCmd = &cobra.Command{
	Use:   "transition <instance-id> <label>",
	Short: "Fire a named transition on a workflow instance",
	Long: `Fire a transition. Guard inputs are supplied with repeated --set key=value
flags; they are merged into the instance data before guards are evaluated
and persist with the instance afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := parseKeyValues(workflowData)
		if err != nil {
			return err
		}
		inst, err := a.engine.Transition(args[0], args[1], data)
		if err != nil {
			return err
		}
		return printInstance(inst, workflowJSON)
	},
}

var workflowStatusCmd = &cobra.Command{
	Use:   "status <instance-id>",
	Short: "Show the current state and history of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		inst, err := a.engine.Status(args[0])
		if err != nil {
			return err
		}
		return printInstance(inst, workflowJSON)
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list <task-id>",
	Short: "List workflow instances attached to a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		insts, err := a.engine.InstancesForTask(args[0])
		if err != nil {
			return err
		}
		if workflowJSON {
			return json.NewEncoder(os.Stdout).Encode(insts)
		}
		for _, inst := range insts {
			fmt.Printf("%s  %-20s  %s\n", inst.ID, inst.TemplateID, inst.CurrentState)
		}
		fmt.Printf("%d instances\n", len(insts))
		return nil
	},
}

var workflowTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List registered workflow templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, t := range a.engine.Registry().List() {
			fmt.Printf("%-24s  %d states, %d transitions\n", t.ID, len(t.States), len(t.Transitions))
		}
		return nil
	},
}

func printInstance(inst *types.WorkflowInstance, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(inst)
	}
	fmt.Printf("Instance: %s\n", inst.ID)
	fmt.Printf("Template: %s\n", inst.TemplateID)
	fmt.Printf("Task:     %s\n", inst.TaskID)
	fmt.Printf("State:    %s\n", inst.CurrentState)
	for _, rec := range inst.History {
		label := rec.Transition
		if label == "" {
			label = "(start)"
		}
		fmt.Printf("  %s  %-12s -> %s\n", rec.Timestamp.Format("15:04:05"), label, rec.State)
	}
	return nil
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set value %q, expected key=value", p)
		}
		data[k] = v
	}
	return data, nil
}

func init() {
	workflowStartCmd.Flags().StringVarP(&workflowTemplate, "template", "t", "task-lifecycle", "workflow template ID")
	workflowTransitionCmd.Flags().StringSliceVar(&workflowData, "set", nil, "instance data key=value (repeatable)")
	workflowCmd.PersistentFlags().BoolVar(&workflowJSON, "json", false, "emit JSON")

	workflowCmd.AddCommand(workflowStartCmd)
	workflowCmd.AddCommand(workflowTransitionCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowTemplatesCmd)
}
