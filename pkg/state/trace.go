package state

import "encoding/json"

// Trace captures provenance for one key across the domains of a
// LayeredStore, strongest first.
type Trace struct {
	Key    string       `json:"key"`
	Layers []Provenance `json:"layers"`
}

// Provenance details how a single domain contributed to a traced key.
type Provenance struct {
	Domain   string `json:"domain"`
	Label    string `json:"label,omitempty"`
	Priority int    `json:"priority"`
	Value    any    `json:"value,omitempty"`
	Found    bool   `json:"found"`
}

// Effective returns the layer that supplies the resolved value.
func (t Trace) Effective() (Provenance, bool) {
	for _, layer := range t.Layers {
		if layer.Found {
			return layer, true
		}
	}
	return Provenance{}, false
}

// ToJSON serialises the trace for logging or transport.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a payload produced by ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
