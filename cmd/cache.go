package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the enrichment cache",
}

var cacheMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the cache schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		// Open migrates.
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("cache schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var cachePruneAge time.Duration

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cache entries older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		if cachePruneAge <= 0 {
			return eris.New("--older-than must be positive")
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.Prune(cmd.Context(), time.Now().Add(-cachePruneAge))
		if err != nil {
			return eris.Wrap(err, "prune cache")
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
		return err
	},
}

var (
	cacheShowSource string
	cacheShowLimit  int
	cacheShowJSON   bool
)

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the most recently cached entries of a source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cache"); err != nil {
			return err
		}
		src, err := model.ParseSource(cacheShowSource)
		if err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.List(cmd.Context(), src, cacheShowLimit)
		if err != nil {
			return eris.Wrap(err, "list cache")
		}
		if cacheShowJSON {
			return printEntriesJSON(cmd.OutOrStdout(), entries)
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

func printEntries(w io.Writer, entries []store.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MINER\tSOURCE\tCACHED AT\tPAYLOAD") //nolint:errcheck
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", //nolint:errcheck
			e.EntityID, e.Source, e.CachedAt.UTC().Format(time.RFC3339), e.Payload)
	}
	return tw.Flush()
}

type entryJSON struct {
	Miner    string          `json:"miner"`
	Source   string          `json:"source"`
	CachedAt time.Time       `json:"cached_at"`
	Payload  json.RawMessage `json:"payload"`
}

func printEntriesJSON(w io.Writer, entries []store.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(entryJSON{
			Miner:    e.EntityID,
			Source:   string(e.Source),
			CachedAt: e.CachedAt.UTC(),
			Payload:  e.Payload,
		}); err != nil {
			return eris.Wrap(err, "write entry")
		}
	}
	return nil
}

func init() {
	cachePruneCmd.Flags().DurationVar(&cachePruneAge, "older-than", 7*24*time.Hour, "prune entries cached longer ago than this")
	cacheShowCmd.Flags().StringVar(&cacheShowSource, "source", string(model.SourceAsk), "source to list")
	cacheShowCmd.Flags().IntVar(&cacheShowLimit, "limit", 20, "maximum entries")
	cacheShowCmd.Flags().BoolVar(&cacheShowJSON, "json", false, "print JSON lines")

	cacheCmd.AddCommand(cacheMigrateCmd, cachePruneCmd, cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
