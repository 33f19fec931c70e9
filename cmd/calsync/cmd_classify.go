package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/calsync/internal/classifier"
)

func classifyCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "classify <summary>",
		Short: "Show how an event title and description would be classified",
		Args:  cobra.MinimumNArgs(1),
		// Pure text processing: no config needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			summary := strings.Join(args, " ")
			c := classifier.NewClassifier(newLogger()).Classify(summary, description)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(c); err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "event description")
	return cmd
}
