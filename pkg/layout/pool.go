package layout

// Pool threads values between the stages of a single render. It is
// private to that render and never shared.
type Pool struct {
	values map[string]any
}

// NewPool creates a pool seeded with the caller's per-call values.
func NewPool(input map[string]any) *Pool {
	p := &Pool{values: make(map[string]any, len(input)+4)}
	for k, v := range input {
		p.values[k] = v
	}
	return p
}

// Insert stores v under name. A name can be written once per render.
func (p *Pool) Insert(stage, name string, v any) error {
	if _, exists := p.values[name]; exists {
		return newBindingConflict(stage, name)
	}
	p.values[name] = v
	return nil
}

// Lookup returns the value stored under name.
func (p *Pool) Lookup(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Len returns the number of entries.
func (p *Pool) Len() int {
	return len(p.values)
}

// Snapshot copies the current contents.
func (p *Pool) Snapshot() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// bind intersects the pool with params. Unknown pool entries are ignored;
// a required parameter that is absent fails with MissingInput.
func (p *Pool) bind(stage string, params []Param) (Args, error) {
	args := make(Args, len(params))
	for _, param := range params {
		if v, ok := p.values[param.Name]; ok {
			args[param.Name] = v
			continue
		}
		if param.HasDefault {
			args[param.Name] = param.Default
			continue
		}
		return nil, newMissingInput(stage, param.Name)
	}
	return args, nil
}
