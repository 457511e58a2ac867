package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"engram/internal/types"
)

var relateJSON bool

var relateCmd = &cobra.Command{
	Use:   "relate <type> <source-id> <target-id>",
	Short: "Create a typed relationship between two entities",
	Long: `Create a directed, typed edge from source to target. Built-in types:
references, validates, blocks, supersedes, annotates, reasoning, context.
Arbitrary type strings are accepted.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rel, err := a.store.CreateRelationship(types.RelationType(args[0]), args[1], args[2])
		if err != nil {
			return err
		}
		if relateJSON {
			return json.NewEncoder(os.Stdout).Encode(rel)
		}
		fmt.Printf("%s  %s --%s--> %s\n", rel.ID, rel.SourceID, rel.Type, rel.TargetID)
		return nil
	},
}

var relationsCmd = &cobra.Command{
	Use:   "relations <entity-id>",
	Short: "List relationships touching an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rels, err := a.store.RelationshipsOf(args[0])
		if err != nil {
			return err
		}
		if relateJSON {
			return json.NewEncoder(os.Stdout).Encode(rels)
		}
		for _, r := range rels {
			fmt.Printf("%s  %s --%s--> %s\n", r.ID, r.SourceID, r.Type, r.TargetID)
		}
		fmt.Printf("%d relationships\n", len(rels))
		return nil
	},
}

func init() {
	relateCmd.Flags().BoolVar(&relateJSON, "json", false, "emit JSON")
	relationsCmd.Flags().BoolVar(&relateJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(relationsCmd)
}
