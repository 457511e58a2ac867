package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"engram/internal/nlq"
)

var (
	queryBest bool
	queryJSON bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text...>",
	Short: "Run a natural-language query over stored entities",
	Long: `Resolve a free-text query against the entity index. Kind words
("tasks", "notes", "decisions") and status words ("open", "blocked") in the
query become filters; the remaining tokens are matched against entity titles
and bodies, with prefix and fuzzy fallback when exact matches are scarce.

  engram query show me tasks about authentication
  engram query --best what did we decide about caching`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		scope := nlq.ScopeAll
		if queryBest {
			scope = nlq.ScopeBest
		}
		matches, err := a.nlq.Query(ctx, strings.Join(args, " "), scope)
		if err != nil {
			return err
		}
		if queryJSON {
			return json.NewEncoder(os.Stdout).Encode(matches)
		}
		partial := false
		for _, m := range matches {
			fmt.Printf("%s  %-9s  %s\n", m.Entity.ID, m.Entity.Kind, m.Entity.Title)
			partial = partial || m.Partial
		}
		fmt.Printf("%d matches\n", len(matches))
		if partial {
			fmt.Fprintln(os.Stderr, "warning: query timed out, results are partial")
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().BoolVar(&queryBest, "best", false, "return only the single best match")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "emit JSON")
}
