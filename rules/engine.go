package rules

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/shimmeringbee/tuyadp/mapping"
	"gopkg.in/yaml.v3"
)

//go:embed default/*.yaml
var Embedded embed.FS

type RuleSet struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Rules     []Rule   `yaml:"rules"`
}

// Match is the outcome of classifying a device.
type Match struct {
	Rule       string
	DeviceType mapping.DeviceType
	Settings   Settings
}

type Engine struct {
	RuleSets map[string]RuleSet
	// Rules are in evaluation order once compiled.
	Rules []CompiledRule
}

func New() *Engine {
	return &Engine{RuleSets: map[string]RuleSet{}}
}

// Default returns an engine with the embedded rule sets loaded and compiled.
func Default() (*Engine, error) {
	e := New()

	if err := e.LoadFS(Embedded); err != nil {
		return nil, err
	}

	if err := e.CompileRules(); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) LoadString(s string) error {
	return e.LoadReader(strings.NewReader(s))
}

func (e *Engine) LoadReader(r io.Reader) error {
	var rs RuleSet

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&rs); err != nil {
		return fmt.Errorf("parse ruleset: %w", err)
	}

	if rs.Name == "" {
		return errors.New("ruleset has no name")
	}

	if e.RuleSets == nil {
		e.RuleSets = map[string]RuleSet{}
	}

	if _, found := e.RuleSets[rs.Name]; found {
		return fmt.Errorf("ruleset already loaded: %s", rs.Name)
	}

	e.RuleSets[rs.Name] = rs
	return nil
}

// LoadFS loads every .yaml file in fsys as a rule set.
func (e *Engine) LoadFS(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || (path.Ext(p) != ".yaml" && path.Ext(p) != ".yml") {
			return nil
		}

		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := e.LoadReader(f); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}

		return nil
	})
}

func (e *Engine) CompileRules() error {
	e.Rules = nil

	alreadyLoaded := map[string]bool{}

	for k := range e.RuleSets {
		alreadyLoaded[k] = false
	}

	names := make([]string, 0, len(e.RuleSets))
	for k := range e.RuleSets {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, []string{}, k); err != nil {
				return err
			}
		}
	}

	seen := map[string]bool{}
	for _, r := range e.Rules {
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name: %s", r.Name)
		}
		seen[r.Name] = true
	}

	sort.SliceStable(e.Rules, func(i, j int) bool {
		if e.Rules[i].Priority != e.Rules[j].Priority {
			return e.Rules[i].Priority > e.Rules[j].Priority
		}

		return e.Rules[i].Name < e.Rules[j].Name
	})

	return nil
}

func (e *Engine) compileRuleSet(alreadyLoaded map[string]bool, trail []string, name string) error {
	rs, ok := e.RuleSets[name]
	if !ok {
		return fmt.Errorf("ruleset missing dependency: %s->%s", strings.Join(trail, "->"), name)
	}

	trail = append(trail, rs.Name)

	for _, k := range rs.DependsOn {
		for _, t := range trail {
			if k == t {
				return fmt.Errorf("ruleset circular dependency: %s->%s", strings.Join(trail, "->"), k)
			}
		}

		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, trail, k); err != nil {
				return err
			}
		}
	}

	for _, r := range rs.Rules {
		cr, err := compileRule(r)
		if err != nil {
			return fmt.Errorf("ruleset compilation: %s: %w", strings.Join(trail, "->"), err)
		}

		e.Rules = append(e.Rules, cr)
	}

	alreadyLoaded[name] = true

	return nil
}

// Detect returns the first rule matching in, in priority order. Unmatched
// devices are classified as mapping.Common.
func (e *Engine) Detect(in Input) (Match, bool) {
	haystack := in.haystack()

	for _, r := range e.Rules {
		if ok, err := r.matches(in, haystack); err == nil && ok {
			return Match{Rule: r.Name, DeviceType: r.DeviceType, Settings: r.Settings}, true
		}
	}

	return Match{DeviceType: mapping.Common, Settings: Settings{}}, false
}
