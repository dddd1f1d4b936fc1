package classifier

// Encoder one-hot encodes device families over a fixed category list.
// Unknown families, and any family when no categories exist, encode to a
// single zero.
type Encoder struct {
	families []string
	index    map[string]int
}

// NewEncoder builds an encoder over families. Duplicate names keep their
// first position.
func NewEncoder(families []string) *Encoder {
	e := &Encoder{
		families: families,
		index:    make(map[string]int, len(families)),
	}
	for i, f := range families {
		if _, ok := e.index[f]; !ok {
			e.index[f] = i
		}
	}
	return e
}

// Width is the length of a known-family encoding.
func (e *Encoder) Width() int {
	if len(e.families) == 0 {
		return 1
	}
	return len(e.families)
}

// Families returns the category list.
func (e *Encoder) Families() []string {
	return e.families
}

// Encode returns the one-hot vector of family.
func (e *Encoder) Encode(family string) []float64 {
	i, ok := e.index[family]
	if !ok {
		return []float64{0}
	}
	v := make([]float64, len(e.families))
	v[i] = 1
	return v
}
