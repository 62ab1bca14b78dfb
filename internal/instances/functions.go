// Package instances supplies per-episode problem instances: a benchmark
// objective, its dimension, the initial step size and the initial mean.
package instances

import (
	"math"
	"sort"

	"github.com/copyleftdev/cmadac/internal/optimization"
)

// Function builds an objective for a given dimension.
type Function func(dim int) optimization.ObjectiveFunction

var registry = map[string]Function{
	"sphere":       func(int) optimization.ObjectiveFunction { return Sphere },
	"ellipsoid":    func(int) optimization.ObjectiveFunction { return Ellipsoid },
	"rosenbrock":   func(int) optimization.ObjectiveFunction { return Rosenbrock },
	"rastrigin":    func(int) optimization.ObjectiveFunction { return Rastrigin },
	"ackley":       func(int) optimization.ObjectiveFunction { return Ackley },
	"schwefel":     func(int) optimization.ObjectiveFunction { return Schwefel },
	"linear_slope": func(int) optimization.ObjectiveFunction { return LinearSlope },
}

// Lookup returns the objective registered under name for dimension dim.
func Lookup(name string, dim int) (optimization.ObjectiveFunction, error) {
	build, ok := registry[name]
	if !ok {
		return nil, optimization.NewErrorf(optimization.ErrInvalidConfig, "unknown function %q", name).
			WithComponent("instances")
	}
	return build(dim), nil
}

// Names lists the registered function names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sphere computes sum x_i^2. Minimum 0 at the origin.
func Sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// Ellipsoid is an axis-parallel ill-conditioned quadratic with condition 1e6.
func Ellipsoid(x []float64) (float64, error) {
	if len(x) == 1 {
		return x[0] * x[0], nil
	}
	sum := 0.0
	for i, v := range x {
		w := math.Pow(1e6, float64(i)/float64(len(x)-1))
		sum += w * v * v
	}
	return sum, nil
}

// Rosenbrock has its minimum 0 at (1, ..., 1).
func Rosenbrock(x []float64) (float64, error) {
	if len(x) == 1 {
		d := x[0] - 1
		return d * d, nil
	}
	sum := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum, nil
}

// Rastrigin is highly multimodal with minimum 0 at the origin.
func Rastrigin(x []float64) (float64, error) {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum, nil
}

// Ackley has minimum 0 at the origin.
func Ackley(x []float64) (float64, error) {
	n := float64(len(x))
	sq, cs := 0.0, 0.0
	for _, v := range x {
		sq += v * v
		cs += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E, nil
}

// Schwefel is deceptive, with minimum near 420.9687 in every coordinate.
func Schwefel(x []float64) (float64, error) {
	sum := 418.9829 * float64(len(x))
	for _, v := range x {
		sum -= v * math.Sin(math.Sqrt(math.Abs(v)))
	}
	return sum, nil
}

// LinearSlope is unbounded below; with box constraints its optimum sits
// on the upper corner. Values are negative over most of the space.
func LinearSlope(x []float64) (float64, error) {
	sum := 0.0
	for i, v := range x {
		sum -= math.Pow(10, float64(i)/math.Max(1, float64(len(x)-1))) * v
	}
	return sum, nil
}
