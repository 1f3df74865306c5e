package rules

import (
	"fmt"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/shimmeringbee/tuyadp/mapping"
)

// Input is the identity of a device being classified.
type Input struct {
	Model        string
	Manufacturer string
	Driver       string
}

func (i Input) haystack() string {
	return strings.ToLower(strings.Join([]string{i.Model, i.Manufacturer, i.Driver}, " "))
}

// Rule tags devices matching its predicates with a device type. Keywords are
// matched case insensitively as substrings of the devices identifiers, Filter
// is an expr expression evaluated against Input.
type Rule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Priority    int      `yaml:"priority"`
	DeviceType  string   `yaml:"type"`
	Any         []string `yaml:"any,omitempty"`
	All         []string `yaml:"all,omitempty"`
	None        []string `yaml:"none,omitempty"`
	Filter      string   `yaml:"filter,omitempty"`
	Settings    Settings `yaml:"settings,omitempty"`
}

type CompiledRule struct {
	Name        string
	Description string
	Priority    int
	DeviceType  mapping.DeviceType
	Any         []string
	All         []string
	None        []string
	Filter      *vm.Program
	Settings    Settings
}

func compileRule(r Rule) (CompiledRule, error) {
	if r.Name == "" {
		return CompiledRule{}, fmt.Errorf("rule has no name")
	}

	if r.DeviceType == "" {
		return CompiledRule{}, fmt.Errorf("%s: rule has no device type", r.Name)
	}

	if len(r.Any) == 0 && len(r.All) == 0 && r.Filter == "" {
		return CompiledRule{}, fmt.Errorf("%s: rule has no predicate", r.Name)
	}

	cr := CompiledRule{
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		DeviceType:  mapping.DeviceType(r.DeviceType),
		Any:         lowered(r.Any),
		All:         lowered(r.All),
		None:        lowered(r.None),
		Settings:    r.Settings,
	}

	if r.Filter != "" {
		p, err := expr.Compile(r.Filter, expr.Env(Input{}), expr.AsBool())
		if err != nil {
			return CompiledRule{}, fmt.Errorf("%s: filter compilation: %w", r.Name, err)
		}

		cr.Filter = p
	}

	return cr, nil
}

func (r CompiledRule) matches(in Input, haystack string) (bool, error) {
	if len(r.Any) > 0 && !containsAny(haystack, r.Any) {
		return false, nil
	}

	for _, k := range r.All {
		if !strings.Contains(haystack, k) {
			return false, nil
		}
	}

	if containsAny(haystack, r.None) {
		return false, nil
	}

	if r.Filter == nil {
		return true, nil
	}

	out, err := expr.Run(r.Filter, in)
	if err != nil {
		return false, err
	}

	b, _ := out.(bool)
	return b, nil
}

func containsAny(haystack string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(haystack, k) {
			return true
		}
	}

	return false
}

func lowered(in []string) []string {
	if len(in) == 0 {
		return nil
	}

	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}

	return out
}
