package api

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/market-cli/internal/table"
)

// DefaultViewName is served when no view file overrides it.
const DefaultViewName = "default"

// DefaultView shows retrievable miners holding stored data, cheapest first.
func DefaultView() table.Query {
	return table.Query{
		Columns: []string{
			"miner", "priceRaw", "priceFil", "verifiedPrice", "annotationState", "annotationExtra",
			"stored", "retrieved", "minPieceSize", "maxPieceSize", "score",
		},
		Filters: []table.Filter{
			{Column: "retrieved", Op: table.OpEq, Value: true},
			{Column: "stored", Op: table.OpEq, Value: true},
		},
		Sort: []table.SortKey{
			{Column: "priceRaw"},
			{Column: "minerNum"},
		},
	}
}

type viewFile struct {
	Views map[string]table.Query `yaml:"views"`
}

// LoadViews reads named views from a YAML file. A missing file yields just
// the default view; a file may redefine it.
func LoadViews(path string) (map[string]table.Query, error) {
	views := map[string]table.Query{DefaultViewName: DefaultView()}
	if path == "" {
		return views, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return views, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "api: read views %s", path)
	}

	var vf viewFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, eris.Wrapf(err, "api: parse views %s", path)
	}
	for name, q := range vf.Views {
		if err := validateView(q); err != nil {
			return nil, eris.Wrapf(err, "api: view %q", name)
		}
		views[name] = q
	}
	return views, nil
}

// validateView resolves every column a view names so mistakes surface at
// startup instead of on first request.
func validateView(q table.Query) error {
	for _, c := range q.Columns {
		if _, err := table.Lookup(c); err != nil {
			return err
		}
	}
	for _, k := range q.Sort {
		if _, err := table.Lookup(k.Column); err != nil {
			return err
		}
	}
	t := table.New()
	_, err := t.Snapshot(table.Query{Filters: q.Filters})
	return err
}
