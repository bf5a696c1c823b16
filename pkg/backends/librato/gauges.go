package librato

type gauge struct {
	Name        string  `json:"name"`
	Source      string  `json:"source"`
	MeasureTime int64   `json:"measure_time"`
	Value       float64 `json:"value"`
}

// gauges accumulates the latest value per name and source between flushes. Iteration follows
// first insertion.
type gauges struct {
	byKey map[string]*gauge
	order []*gauge
}

func newGauges() *gauges {
	return &gauges{byKey: map[string]*gauge{}}
}

func gaugeKey(name, source string) string {
	return name + "\t" + source
}

// add records value for name and source. The measure time of the first value for a key is kept.
func (g *gauges) add(name, source string, measureTime int64, value float64) {
	key := gaugeKey(name, source)
	if existing, ok := g.byKey[key]; ok {
		existing.Value = value
		return
	}
	gg := &gauge{
		Name:        name,
		Source:      source,
		MeasureTime: measureTime,
		Value:       value,
	}
	g.byKey[key] = gg
	g.order = append(g.order, gg)
}

func (g *gauges) len() int {
	return len(g.order)
}

func (g *gauges) values() []*gauge {
	return g.order
}

func (g *gauges) reset() {
	g.byKey = map[string]*gauge{}
	g.order = nil
}
