package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"pintrainer/internal/domain"
)

//go:embed default.yaml
var defaultYAML []byte

//go:embed schema.json
var schemaJSON []byte

type fileCatalog struct {
	ExtraFunctions  []string            `yaml:"extra_functions"`
	MCU             fileMCU             `yaml:"mcu"`
	InterfaceGroups map[string][]string `yaml:"interface_groups"`
	Sensors         []fileSensor        `yaml:"sensors"`
}

type fileMCU struct {
	Name string    `yaml:"name"`
	Pins []filePin `yaml:"pins"`
}

type filePin struct {
	Name      string   `yaml:"name"`
	Functions []string `yaml:"functions"`
	Group     string   `yaml:"group"`
}

type fileSensor struct {
	Name               string                  `yaml:"name"`
	Description        string                  `yaml:"description"`
	Interfaces         []string                `yaml:"interfaces"`
	Pins               []string                `yaml:"pins"`
	PinPositions       map[string]domain.Point `yaml:"pin_positions"`
	CorrectConnections map[string]string       `yaml:"correct_connections"`
	Layout             map[string]domain.Point `yaml:"layout"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		schema, schemaErr = compiler.Compile(schemaJSON)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile catalog schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Default returns the built-in catalog. It panics if the embedded data is
// inconsistent, which a test guards against.
func Default() *Catalog {
	c, err := Parse("default.yaml", defaultYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog file. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse("default.yaml", defaultYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes and checks catalog YAML. Structural problems and semantic
// inconsistencies are both reported as a single *domain.ConfigError.
func Parse(source string, data []byte) (*Catalog, error) {
	if err := checkSchema(source, data); err != nil {
		return nil, err
	}

	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, &domain.ConfigError{Source: source, Problems: []string{err.Error()}}
	}

	c, cerr := build(source, fc)
	if cerr.HasProblems() {
		return nil, cerr
	}
	return c, nil
}

// checkSchema validates the document shape. yaml.v3 produces Go values that
// are not all JSON types, so the document is normalized through encoding/json.
func checkSchema(source string, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &domain.ConfigError{Source: source, Problems: []string{err.Error()}}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return &domain.ConfigError{Source: source, Problems: []string{fmt.Sprintf("not representable as JSON: %v", err)}}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return &domain.ConfigError{Source: source, Problems: []string{err.Error()}}
	}

	s, err := compiledSchema()
	if err != nil {
		return err
	}
	if result := s.Validate(v); !result.IsValid() {
		return &domain.ConfigError{Source: source, Problems: []string{fmt.Sprintf("schema: %s", result.Error())}}
	}
	return nil
}

func build(source string, fc fileCatalog) (*Catalog, *domain.ConfigError) {
	cerr := &domain.ConfigError{Source: source}
	c := &Catalog{
		mcuName:   fc.MCU.Name,
		functions: make(map[domain.PinFunction]bool),
	}
	for _, fn := range domain.BuiltinFunctions {
		c.functions[fn] = true
	}
	for _, fn := range fc.ExtraFunctions {
		c.functions[domain.PinFunction(fn)] = true
	}

	seenPins := make(map[string]bool, len(fc.MCU.Pins))
	for _, fp := range fc.MCU.Pins {
		if seenPins[fp.Name] {
			cerr.Add("mcu pin %q defined more than once", fp.Name)
			continue
		}
		seenPins[fp.Name] = true

		if len(fp.Functions) == 0 {
			cerr.Add("mcu pin %q has no functions", fp.Name)
		}
		pin := domain.McuPin{Name: fp.Name, Group: domain.GroupKey(fp.Group)}
		for _, f := range fp.Functions {
			fn := domain.PinFunction(f)
			if !c.functions[fn] {
				cerr.Add("mcu pin %q: unknown function %q", fp.Name, f)
				continue
			}
			pin.Functions = append(pin.Functions, fn)
		}
		if pin.Group == "" {
			g, ok := DeriveGroup(fp.Name)
			if !ok {
				cerr.Add("mcu pin %q has no group: name does not match P<letter><digits> and no explicit group is set", fp.Name)
			}
			pin.Group = g
		}
		c.pins = append(c.pins, pin)
	}

	seenSensors := make(map[string]bool, len(fc.Sensors))
	for _, fs := range fc.Sensors {
		if seenSensors[fs.Name] {
			cerr.Add("sensor %q defined more than once", fs.Name)
			continue
		}
		seenSensors[fs.Name] = true
		c.sensors = append(c.sensors, buildSensor(fs, c.functions, cerr))
	}

	c.rebuildMaps()

	for _, s := range c.sensors {
		for g := range s.Layout {
			if _, ok := c.byGroup[g]; !ok {
				cerr.Add("sensor %q: layout names unknown group %q", s.Name, g)
			}
		}
	}

	if len(fc.InterfaceGroups) > 0 {
		c.ifaceGroups = make(map[string][]domain.GroupKey, len(fc.InterfaceGroups))
		for iface, keys := range fc.InterfaceGroups {
			for _, k := range keys {
				g := domain.GroupKey(k)
				if !c.HasGroup(g) {
					cerr.Add("interface_groups[%s] names unknown group %q", iface, k)
					continue
				}
				c.ifaceGroups[iface] = append(c.ifaceGroups[iface], g)
			}
		}
	}
	return c, cerr
}

func buildSensor(fs fileSensor, known map[domain.PinFunction]bool, cerr *domain.ConfigError) domain.SensorDefinition {
	s := domain.SensorDefinition{
		Name:               fs.Name,
		Description:        fs.Description,
		Interfaces:         fs.Interfaces,
		Pins:               fs.Pins,
		PinPositions:       fs.PinPositions,
		CorrectConnections: make(map[string]domain.PinFunction, len(fs.CorrectConnections)),
	}
	if len(fs.Interfaces) == 0 {
		cerr.Add("sensor %q lists no interfaces", fs.Name)
	}

	seen := make(map[string]bool, len(fs.Pins))
	for _, p := range fs.Pins {
		if seen[p] {
			cerr.Add("sensor %q: duplicate pin %q", fs.Name, p)
			continue
		}
		seen[p] = true
		if _, ok := fs.CorrectConnections[p]; !ok {
			cerr.Add("sensor %q: pin %q has no required function", fs.Name, p)
		}
		if _, ok := fs.PinPositions[p]; !ok {
			cerr.Add("sensor %q: pin %q has no position", fs.Name, p)
		}
	}

	for p, f := range fs.CorrectConnections {
		if !seen[p] {
			cerr.Add("sensor %q: required connection for unknown pin %q", fs.Name, p)
			continue
		}
		fn := domain.PinFunction(f)
		if !known[fn] {
			cerr.Add("sensor %q: pin %q requires unknown function %q", fs.Name, p, f)
			continue
		}
		s.CorrectConnections[p] = fn
	}
	for p := range fs.PinPositions {
		if !seen[p] {
			cerr.Add("sensor %q: position for unknown pin %q", fs.Name, p)
		}
	}

	if len(fs.Layout) > 0 {
		s.Layout = make(map[domain.GroupKey]domain.Point, len(fs.Layout))
		for g, pt := range fs.Layout {
			s.Layout[domain.GroupKey(g)] = pt
		}
	}
	return s
}
