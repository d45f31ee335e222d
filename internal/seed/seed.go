// Package seed builds the initial miner rows from the static inputs: the
// hand-maintained annotation map, the retrieval-success list, and any
// number of miner lists.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-cli/internal/fetcher"
	"github.com/sells-group/market-cli/internal/model"
	"github.com/sells-group/market-cli/internal/resilience"
)

var annotationPattern = regexp.MustCompile(`^([^,]*), (.*)`)

// ParseAnnotation splits "state, free text". Annotations without a
// ", " separator yield empty state and extra.
func ParseAnnotation(s string) (state, extra string) {
	m := annotationPattern.FindStringSubmatch(s)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

// Options lists the seed locations. Each may be an http(s) URL, a file://
// URL or a local path; empty locations are skipped.
type Options struct {
	AnnotationsURL string
	RetrievalsURL  string
	MinerListURLs  []string
	Retry          resilience.RetryConfig
}

// Loader downloads and merges the seed inputs.
type Loader struct {
	fetcher fetcher.Fetcher
	opts    Options
}

// NewLoader creates a loader.
func NewLoader(f fetcher.Fetcher, opts Options) *Loader {
	return &Loader{fetcher: f, opts: opts}
}

// Load downloads every input and returns one row per distinct miner.
func (l *Loader) Load(ctx context.Context) ([]model.Miner, error) {
	annotations := map[string]string{}
	if l.opts.AnnotationsURL != "" {
		data, err := l.fetch(ctx, l.opts.AnnotationsURL)
		if err != nil {
			return nil, eris.Wrap(err, "seed: annotations")
		}
		m, err := fetcher.DecodeJSONObject[map[string]string](bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "seed: annotations")
		}
		annotations = *m
	}

	var retrieved []string
	if l.opts.RetrievalsURL != "" {
		refs, err := l.list(ctx, l.opts.RetrievalsURL)
		if err != nil {
			return nil, eris.Wrap(err, "seed: retrievals")
		}
		retrieved = refs
	}

	var listed []string
	for _, loc := range l.opts.MinerListURLs {
		refs, err := l.list(ctx, loc)
		if err != nil {
			return nil, eris.Wrapf(err, "seed: miner list %s", loc)
		}
		listed = append(listed, refs...)
	}

	rows := Build(annotations, retrieved, listed)
	zap.L().Info("seed loaded",
		zap.Int("annotations", len(annotations)),
		zap.Int("retrieved", len(retrieved)),
		zap.Int("listed", len(listed)),
		zap.Int("miners", len(rows)),
	)
	return rows, nil
}

// list downloads a JSON array of miner references.
func (l *Loader) list(ctx context.Context, loc string) ([]string, error) {
	data, err := l.fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	refs, err := fetcher.CollectJSONArray[minerRef](ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = string(r)
	}
	return out, nil
}

// fetch downloads loc, retrying transient failures.
func (l *Loader) fetch(ctx context.Context, loc string) ([]byte, error) {
	cfg := l.opts.Retry
	cfg.OnRetry = resilience.RetryLogger("seed", loc)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		rc, err := fetcher.Open(ctx, l.fetcher, loc)
		if err != nil {
			return nil, err
		}
		defer rc.Close() //nolint:errcheck
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
		}
		return buf.Bytes(), nil
	})
}

// Build merges the inputs into rows sorted by ordinal. Every ID that
// appears in any input gets a row; invalid IDs are logged and skipped.
func Build(annotations map[string]string, retrieved, listed []string) []model.Miner {
	retrievedSet := make(map[string]bool, len(retrieved))
	for _, id := range retrieved {
		retrievedSet[id] = true
	}

	seen := map[string]bool{}
	var rows []model.Miner
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		m, err := model.NewMiner(id)
		if err != nil {
			zap.L().Warn("seed: skipping invalid miner id", zap.String("miner", id), zap.Error(err))
			return
		}
		state, extra := ParseAnnotation(annotations[id])
		m.Annotation = model.NewAnnotation(state, extra, retrievedSet[id])
		rows = append(rows, m)
	}

	for id := range annotations {
		add(id)
	}
	for _, id := range retrieved {
		add(id)
	}
	for _, id := range listed {
		add(id)
	}

	slices.SortFunc(rows, func(a, b model.Miner) int {
		switch {
		case a.Ordinal < b.Ordinal:
			return -1
		case a.Ordinal > b.Ordinal:
			return 1
		}
		return 0
	})
	return rows
}

// minerRef is a miner list element: a bare address, {"address": ...} or
// an ask record {"miner": {"address": ...}}.
type minerRef string

func (r *minerRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = minerRef(s)
		return nil
	}
	var obj struct {
		Address string `json:"address"`
		Miner   *struct {
			Address string `json:"address"`
		} `json:"miner"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return eris.Wrap(err, "seed: miner list element")
	}
	switch {
	case obj.Address != "":
		*r = minerRef(obj.Address)
	case obj.Miner != nil && obj.Miner.Address != "":
		*r = minerRef(obj.Miner.Address)
	default:
		return eris.Errorf("seed: miner list element has no address: %s", b)
	}
	return nil
}
