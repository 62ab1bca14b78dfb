package instances

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/cmadac/internal/optimization"
)

// DefaultInitialSigma is used when an instance spec leaves the step size out.
const DefaultInitialSigma = 0.5

// Instance is one episode's problem.
type Instance struct {
	Name         string
	Objective    optimization.ObjectiveFunction
	Dimension    int
	InitialSigma float64
	InitialMean  []float64
}

// Validate checks the instance invariants.
func (in Instance) Validate() error {
	switch {
	case in.Objective == nil:
		return optimization.NewError(optimization.ErrInvalidConfig, "instance has no objective").WithComponent("instances")
	case in.Dimension <= 0:
		return optimization.NewErrorf(optimization.ErrInvalidConfig, "dimension must be positive, got %d", in.Dimension).WithComponent("instances")
	case len(in.InitialMean) != in.Dimension:
		return optimization.NewErrorf(optimization.ErrInvalidConfig, "initial mean has %d entries, dimension is %d",
			len(in.InitialMean), in.Dimension).WithComponent("instances")
	case !(in.InitialSigma > 0):
		return optimization.NewErrorf(optimization.ErrInvalidConfig, "initial sigma must be positive, got %v", in.InitialSigma).WithComponent("instances")
	}
	return nil
}

// Spec is the serialized form of an instance.
type Spec struct {
	Function     string    `yaml:"function" json:"function"`
	Dimension    int       `yaml:"dimension" json:"dimension"`
	InitialSigma float64   `yaml:"initial_sigma,omitempty" json:"initial_sigma,omitempty"`
	InitialMean  []float64 `yaml:"initial_mean,omitempty" json:"initial_mean,omitempty"`
}

// Build resolves the spec into an Instance.
func (s Spec) Build() (Instance, error) {
	fn, err := Lookup(s.Function, s.Dimension)
	if err != nil {
		return Instance{}, err
	}
	in := Instance{
		Name:         s.Function,
		Objective:    fn,
		Dimension:    s.Dimension,
		InitialSigma: s.InitialSigma,
		InitialMean:  append([]float64(nil), s.InitialMean...),
	}
	if in.InitialSigma == 0 {
		in.InitialSigma = DefaultInitialSigma
	}
	if len(in.InitialMean) == 0 && in.Dimension > 0 {
		in.InitialMean = make([]float64, in.Dimension)
	}
	return in, in.Validate()
}

// Set is a named, ordered list of instance specs.
type Set struct {
	Name      string `yaml:"name" json:"name"`
	Instances []Spec `yaml:"instances" json:"instances"`
}

// ParseSet decodes a YAML instance set and validates every entry.
func ParseSet(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, optimization.WrapError(err, "parse instance set").WithComponent("instances")
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Validate checks that the set is non-empty and every entry builds.
func (s *Set) Validate() error {
	if s == nil || len(s.Instances) == 0 {
		return optimization.NewError(optimization.ErrInvalidConfig, "instance set is empty").WithComponent("instances")
	}
	for i, spec := range s.Instances {
		if _, err := spec.Build(); err != nil {
			return optimization.WrapErrorf(err, "instance %d", i).WithComponent("instances")
		}
	}
	return nil
}

// LoadSet reads a YAML instance set from path.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instance set: %w", err)
	}
	return ParseSet(data)
}

// Marshal encodes the set as YAML.
func (s *Set) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// DefaultSet is a small mixed set used when no file is configured.
func DefaultSet() *Set {
	return &Set{
		Name: "default",
		Instances: []Spec{
			{Function: "sphere", Dimension: 5, InitialSigma: 1.0, InitialMean: []float64{3, 3, 3, 3, 3}},
			{Function: "ellipsoid", Dimension: 5, InitialSigma: 1.0, InitialMean: []float64{1, 1, 1, 1, 1}},
			{Function: "rosenbrock", Dimension: 5, InitialSigma: 0.5},
			{Function: "rastrigin", Dimension: 5, InitialSigma: 2.0, InitialMean: []float64{2, 2, 2, 2, 2}},
			{Function: "ackley", Dimension: 5, InitialSigma: 1.5, InitialMean: []float64{1, -1, 1, -1, 1}},
		},
	}
}

// Provider hands out instances from a set in round-robin order, optionally
// shuffled once per pass. It is safe for concurrent use.
type Provider struct {
	mu      sync.Mutex
	set     *Set
	order   []int
	cursor  int
	shuffle bool
	rng     *rand.Rand
}

// NewProvider creates a provider over set. When shuffle is true the order
// is permuted with seed at the start of every pass.
func NewProvider(set *Set, shuffle bool, seed uint64) (*Provider, error) {
	if set == nil || len(set.Instances) == 0 {
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "instance set is empty").WithComponent("instances")
	}
	p := &Provider{
		set:     set,
		order:   make([]int, len(set.Instances)),
		shuffle: shuffle,
		rng:     rand.New(rand.NewPCG(seed, seed+1)),
	}
	for i := range p.order {
		p.order[i] = i
	}
	return p, nil
}

// Next returns the instance under the cursor and advances it.
func (p *Provider) Next() (Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cursor == 0 && p.shuffle {
		p.rng.Shuffle(len(p.order), func(i, j int) {
			p.order[i], p.order[j] = p.order[j], p.order[i]
		})
	}
	spec := p.set.Instances[p.order[p.cursor]]
	p.cursor = (p.cursor + 1) % len(p.order)
	return spec.Build()
}

// Len returns the number of instances in the set.
func (p *Provider) Len() int {
	return len(p.set.Instances)
}

// Fixed always returns the same instance.
type Fixed Instance

// Next returns the fixed instance.
func (f Fixed) Next() (Instance, error) {
	in := Instance(f)
	in.InitialMean = append([]float64(nil), f.InitialMean...)
	return in, in.Validate()
}
