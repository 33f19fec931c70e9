package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/calsync/internal/calendar"
	"github.com/ajitpratap0/calsync/internal/store"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check access to the calendar and every configured Notion database",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			st := newStore(logger)
			databases := []struct{ name, id string }{
				{"people", cfg.People.DatabaseID},
				{"entries", cfg.Entries.DatabaseID},
				{"relationships", cfg.Relationships.DatabaseID},
			}
			for _, db := range databases {
				if db.id == "" {
					fmt.Printf("Notion %s: SKIP (not configured)\n", db.name)
					continue
				}
				if _, err := st.Query(ctx, db.id, store.QueryRequest{PageSize: 1}); err != nil {
					fmt.Printf("Notion %s: FAIL (%v)\n", db.name, err)
					allOK = false
				} else {
					fmt.Printf("Notion %s: OK\n", db.name)
				}
			}

			src, err := newSource(ctx, logger)
			if err != nil {
				fmt.Printf("Calendar: FAIL (%v)\n", err)
				allOK = false
			} else if _, err := src.ListEvents(ctx, calendar.Query{CalendarID: cfg.Calendar.PrimaryID, PageSize: 1}); err != nil {
				fmt.Printf("Calendar: FAIL (%v)\n", err)
				allOK = false
			} else {
				fmt.Println("Calendar: OK")
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}
