package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/agora/internal/config"
	"github.com/h1v3-io/agora/internal/notes"
)

func newTranscriptCmd(root *rootFlags) *cobra.Command {
	var (
		dbPath string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "transcript <id>",
		Short: "Print a transcript from the SQLite archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, _, err := config.Load(root.configPath)
				if err != nil {
					return err
				}
				if cfg.Archive.Kind != "sqlite" {
					return fmt.Errorf("archive kind is %q; transcripts can only be read back from sqlite", cfg.Archive.Kind)
				}
				dbPath = cfg.Archive.Path
			}
			return printTranscript(cmd.Context(), dbPath, args[0], asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "archive database (default: archive.path from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func printTranscript(ctx context.Context, dbPath, id string, asJSON bool, out io.Writer) error {
	a, err := notes.NewSQLiteArchive(dbPath)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.Load(ctx, id)
	if errors.Is(err, notes.ErrNotFound) {
		return fmt.Errorf("no transcript %s in %s", id, dbPath)
	}
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Fprintf(out, "transcript %s (%s, %d entries)\n", rec.ID, rec.CreatedAt.Format(time.RFC3339), len(rec.Entries))
	for _, e := range rec.Entries {
		fmt.Fprintf(out, "%s %s: %s\n", e.Timestamp.Format("15:04:05.000"), e.Actor, e.Content)
	}
	return nil
}
