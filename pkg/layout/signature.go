package layout

import "strings"

// Signature is the parameter list a composed page advertises to its host.
type Signature []Param

// Project computes the advertised signature of page handler h: the
// handler's parameters with the client and request context parameters
// guaranteed present, minus every parameter supplied internally by a
// section. A missing request is prepended first, then a missing client,
// so declared context parameters keep the position the author gave them.
func Project(h Handler, sectionNames []string) Signature {
	params := h.Params()

	if !hasParam(params, RequestParam) {
		params = append([]Param{Required(RequestParam)}, params...)
	}
	if !hasParam(params, ClientParam) {
		params = append([]Param{Required(ClientParam)}, params...)
	}

	hidden := make(map[string]struct{}, len(sectionNames))
	for _, name := range sectionNames {
		hidden[name] = struct{}{}
	}

	sig := make(Signature, 0, len(params))
	for _, p := range params {
		if _, ok := hidden[p.Name]; ok {
			continue
		}
		sig = append(sig, p)
	}
	return sig
}

// Names returns the parameter names in order.
func (s Signature) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// Has reports whether the signature contains a parameter called name.
func (s Signature) Has(name string) bool {
	return hasParam(s, name)
}

// String renders the signature like "(client, request, id=<default>)".
func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		if p.HasDefault {
			parts[i] = p.Name + "=<default>"
		} else {
			parts[i] = p.Name
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func hasParam(params []Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}
