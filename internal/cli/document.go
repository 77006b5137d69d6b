package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/fibo/internal/ports/secondary"
	"github.com/example/fibo/internal/wire"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Edit documents in the directory store",
	Long: `Write, remove, and list JSON documents in the directory-backed store.
Running "fibo watch" picks up every change live.`,
}

var docPutCmd = &cobra.Command{
	Use:   "put [path] [json]",
	Short: "Create or replace a document",
	Example: `  fibo doc put users/u1/projects/p1 '{"status":"FiboShare"}'
  fibo doc put providers/acme '{"members":["u1","u2"]}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer wire.Close()
		path := args[0]

		var data map[string]any
		if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
			return fmt.Errorf("document must be a JSON object: %w", err)
		}

		if err := wire.DocumentStore().Put(path, data); err != nil {
			return err
		}
		fmt.Printf("✓ Wrote %s\n", path)
		return nil
	},
}

var docRmCmd = &cobra.Command{
	Use:   "rm [path]",
	Short: "Remove a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer wire.Close()
		if err := wire.DocumentStore().Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed %s\n", args[0])
		return nil
	},
}

var docLsCmd = &cobra.Command{
	Use:   "ls [collection]",
	Short: "List the documents in a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer wire.Close()
		docs, err := wire.DocumentStore().Get(context.Background(), secondary.Query{Path: args[0]})
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", args[0], err)
		}

		if len(docs) == 0 {
			fmt.Println("No documents found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tDATA")
		fmt.Fprintln(w, "--\t----")
		for _, d := range docs {
			encoded, _ := json.Marshal(d.Data)
			fmt.Fprintf(w, "%s\t%s\n", d.ID, encoded)
		}
		return w.Flush()
	},
}

func init() {
	// Register subcommands
	docCmd.AddCommand(docPutCmd)
	docCmd.AddCommand(docRmCmd)
	docCmd.AddCommand(docLsCmd)
}

// DocCmd returns the doc command
func DocCmd() *cobra.Command {
	return docCmd
}
