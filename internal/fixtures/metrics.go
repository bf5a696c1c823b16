package fixtures

import (
	"github.com/graphios/graphios"
)

type MetricOpt func(m *graphios.Metric)

// MakeMetric provides a way to build a metric for tests. The defaults describe a load check on
// web1 at 1700000000.
func MakeMetric(opts ...MetricOpt) *graphios.Metric {
	m := &graphios.Metric{
		Label:          "load1",
		Value:          "1.5",
		UOM:            "",
		DataType:       "SERVICEPERFDATA",
		Timestamp:      "1700000000",
		Hostname:       "web1",
		ServiceDesc:    "Load",
		Perfdata:       "load1=1.5;5;10;0",
		GraphitePrefix: "nagios",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func Label(l string) MetricOpt {
	return func(m *graphios.Metric) {
		m.Label = l
	}
}

func Value(v string) MetricOpt {
	return func(m *graphios.Metric) {
		m.Value = v
	}
}

func Timestamp(ts string) MetricOpt {
	return func(m *graphios.Metric) {
		m.Timestamp = ts
	}
}

func Hostname(h string) MetricOpt {
	return func(m *graphios.Metric) {
		m.Hostname = h
	}
}

func ServiceDesc(s string) MetricOpt {
	return func(m *graphios.Metric) {
		m.ServiceDesc = s
	}
}

func BasePath(p string) MetricOpt {
	return func(m *graphios.Metric) {
		m.MetricBasePath = p
	}
}

func Prefix(p string) MetricOpt {
	return func(m *graphios.Metric) {
		m.GraphitePrefix = p
	}
}

func Postfix(p string) MetricOpt {
	return func(m *graphios.Metric) {
		m.GraphitePostfix = p
	}
}

func MetricType(t string) MetricOpt {
	return func(m *graphios.Metric) {
		m.MetricType = t
	}
}
