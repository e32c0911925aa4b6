package dynamixel

import (
	"cmp"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var builtinModels []byte

// Field describes one control table entry.
type Field struct {
	Name     string `yaml:"-"`
	Address  int    `yaml:"address"`
	Width    int    `yaml:"width"`
	Signed   bool   `yaml:"signed,omitempty"`
	ReadOnly bool   `yaml:"read_only,omitempty"`
}

// Model describes a servo model: its control table and the constants that
// relate raw ticks to physical units.
type Model struct {
	Name        string           `yaml:"name"`
	Number      int              `yaml:"number"`
	Protocol    Version          `yaml:"protocol"`
	Calibration Calibration      `yaml:"calibration"`
	Fields      map[string]Field `yaml:"fields"`
}

// Field returns the named field descriptor.
func (m *Model) Field(name string) (Field, error) {
	f, ok := m.Fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: %s has no field %q", ErrUnknownField, m.Name, name)
	}
	return f, nil
}

// HasField reports whether the model defines the named field.
func (m *Model) HasField(name string) bool {
	_, ok := m.Fields[name]
	return ok
}

// FieldNames returns the field names ordered by address.
func (m *Model) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(m.Fields[a].Address, m.Fields[b].Address); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return names
}

func (m *Model) validate() error {
	if m.Name == "" {
		return fmt.Errorf("model %d: name is required", m.Number)
	}
	proto, err := NewProtocol(m.Protocol)
	if err != nil {
		return fmt.Errorf("model %s: %w", m.Name, err)
	}
	for name, f := range m.Fields {
		switch f.Width {
		case 1, 2, 4:
		default:
			return fmt.Errorf("model %s: field %s: invalid width %d", m.Name, name, f.Width)
		}
		if f.Width > proto.MaxValueWidth() {
			return fmt.Errorf("model %s: field %s: %w", m.Name, name, ErrUnsupportedWidth)
		}
		if err := checkAddress(proto, m.Name, name, f.Address); err != nil {
			return err
		}
		f.Name = name
		m.Fields[name] = f
	}
	if c := m.Calibration; c.MaxTick == c.MinTick || c.MaxDeg == c.MinDeg {
		return fmt.Errorf("model %s: calibration range is empty", m.Name)
	}
	return nil
}

type modelFile struct {
	Models []*Model `yaml:"models"`
}

// Registry maps model numbers to model descriptions.
type Registry struct {
	mu       sync.RWMutex
	byNumber map[int]*Model
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byNumber: make(map[int]*Model)}
}

// DefaultRegistry returns a registry holding the built-in models.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.Load(builtinModels); err != nil {
		panic(fmt.Sprintf("dynamixel: built-in models: %v", err))
	}
	return r
}

// Load adds the models in a YAML document, replacing models with the same
// number.
func (r *Registry) Load(data []byte) error {
	var file modelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse models: %w", err)
	}
	for _, m := range file.Models {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile adds the models in a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read models file: %w", err)
	}
	return r.Load(data)
}

// Register validates m and adds it to the registry.
func (r *Registry) Register(m *Model) error {
	if err := m.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byNumber[m.Number] = m
	return nil
}

// Lookup returns the model with the given model number.
func (r *Registry) Lookup(number int) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("%w: model number %d", ErrUnknownModel, number)
	}
	return m, nil
}

// ByName returns the model with the given name.
func (r *Registry) ByName(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.byNumber {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// Models returns every registered model ordered by model number.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]*Model, 0, len(r.byNumber))
	for _, m := range r.byNumber {
		models = append(models, m)
	}
	slices.SortFunc(models, func(a, b *Model) int { return a.Number - b.Number })
	return models
}
