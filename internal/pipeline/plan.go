package pipeline

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Plan is the discovery query plan: every keyword is searched in every
// city. The default covers Newfoundland and Labrador.
type Plan struct {
	Cities   []string `yaml:"cities"`
	Keywords []string `yaml:"keywords"`
}

// DefaultPlan returns the built-in province-wide plan.
func DefaultPlan() Plan {
	return Plan{
		Cities: []string{
			"St. John's NL",
			"Mount Pearl NL",
			"Paradise NL",
			"Conception Bay South NL",
			"Gander NL",
			"Grand Falls-Windsor NL",
			"Corner Brook NL",
			"Stephenville NL",
			"Deer Lake NL",
			"Labrador City NL",
			"Happy Valley-Goose Bay NL",
			"Channel-Port aux Basques NL",
			"Clarenville NL",
			"Bay Roberts NL",
		},
		Keywords: []string{
			"plumber",
			"electrician",
			"hvac",
			"industrial services",
			"property maintenance",
			"logistics",
			"warehouse",
			"construction company",
			"towing service",
			"locksmith",
			"security system supplier",
			"marine services",
			"fisheries",
		},
	}
}

// LoadPlan reads a plan from a YAML file. An empty path returns the
// default plan.
func LoadPlan(path string) (Plan, error) {
	if path == "" {
		return DefaultPlan(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, eris.Wrapf(err, "pipeline: read plan %s", path)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, eris.Wrapf(err, "pipeline: parse plan %s", path)
	}
	if len(p.Cities) == 0 || len(p.Keywords) == 0 {
		return Plan{}, eris.Errorf("pipeline: plan %s must list cities and keywords", path)
	}

	return p, nil
}

// Queries expands the plan into text search queries, city-major so a
// partial run still covers every trade in the first cities.
func (p Plan) Queries() []string {
	out := make([]string, 0, len(p.Cities)*len(p.Keywords))
	for _, city := range p.Cities {
		for _, kw := range p.Keywords {
			out = append(out, fmt.Sprintf("%s in %s", kw, city))
		}
	}
	return out
}
