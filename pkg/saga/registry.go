package saga

import "fmt"

// Registry is the immutable ordered catalogue of step definitions for one
// saga type. Ordering determines forward execution and reverse compensation.
type Registry struct {
	steps  []StepDefinition
	byName map[string]int
}

// NewRegistry builds a registry from the given steps in order. Step names
// must be non-empty and unique.
func NewRegistry(steps ...StepDefinition) (*Registry, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("registry requires at least one step")
	}
	byName := make(map[string]int, len(steps))
	for i, step := range steps {
		if step == nil {
			return nil, fmt.Errorf("step at index %d is nil", i)
		}
		name := step.Name()
		if name == "" {
			return nil, fmt.Errorf("step at index %d has empty name", i)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate step name %q", name)
		}
		byName[name] = i
	}
	out := make([]StepDefinition, len(steps))
	copy(out, steps)
	return &Registry{steps: out, byName: byName}, nil
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.steps)
}

// Step returns the step at the given index.
func (r *Registry) Step(index int) (StepDefinition, error) {
	if index < 0 || index >= len(r.steps) {
		return nil, fmt.Errorf("step index %d out of range [0,%d)", index, len(r.steps))
	}
	return r.steps[index], nil
}

// IndexOf returns the index of the step with the given name.
func (r *Registry) IndexOf(name string) (int, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// Steps returns a copy of the ordered step list.
func (r *Registry) Steps() []StepDefinition {
	out := make([]StepDefinition, len(r.steps))
	copy(out, r.steps)
	return out
}

// Names returns the ordered step names.
func (r *Registry) Names() []string {
	out := make([]string, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.Name()
	}
	return out
}
