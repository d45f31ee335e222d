package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/scheduler"
)

var selectSources []string

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Show the next batch each source would refresh, without refreshing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("select"); err != nil {
			return err
		}
		sources, err := parseSources(selectSources)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Group.Warm(ctx); err != nil {
			return eris.Wrap(err, "warm from cache")
		}
		return printSelection(cmd.OutOrStdout(), env.Group, sources)
	},
}

type selection struct {
	Source string   `json:"source"`
	Never  int      `json:"never"`
	Stale  int      `json:"stale"`
	IDs    []string `json:"ids"`
}

func parseSources(names []string) ([]model.Source, error) {
	out := make([]model.Source, 0, len(names))
	for _, n := range names {
		src, err := model.ParseSource(n)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// printSelection writes one JSON line per source. An empty sources list
// means every scheduler in the group.
func printSelection(w io.Writer, g *scheduler.Group, sources []model.Source) error {
	schedulers := g.Schedulers()
	if len(sources) > 0 {
		schedulers = schedulers[:0:0]
		for _, src := range sources {
			s, ok := g.Get(src)
			if !ok {
				return eris.Errorf("source %s is not enabled", src)
			}
			schedulers = append(schedulers, s)
		}
	}

	enc := json.NewEncoder(w)
	for _, s := range schedulers {
		b, err := s.Select()
		if err != nil {
			return eris.Wrapf(err, "select %s", s.Source())
		}
		ids := b.IDs
		if ids == nil {
			ids = []string{}
		}
		if err := enc.Encode(selection{Source: string(s.Source()), Never: b.Never, Stale: b.Stale, IDs: ids}); err != nil {
			return eris.Wrap(err, "write selection")
		}
	}
	return nil
}

func init() {
	selectCmd.Flags().StringSliceVar(&selectSources, "source", nil, "sources to select for (default all enabled)")
	rootCmd.AddCommand(selectCmd)
}
