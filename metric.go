package graphios

import (
	"fmt"
	"strconv"
	"strings"
)

// Metric is a single performance data point together with the check context it was collected in.
// All fields are text as produced by the perfdata parser; any of them may be empty except Label,
// Value and Timestamp.
type Metric struct {
	Label               string `json:"label"`
	Value               string `json:"value"`
	UOM                 string `json:"uom"`
	DataType            string `json:"datatype"`
	Timestamp           string `json:"timestamp"` // Seconds since the epoch
	Hostname            string `json:"hostname"`
	ServiceDesc         string `json:"service_description"`
	Perfdata            string `json:"perfdata"`
	ServiceCheckCommand string `json:"service_check_command"`
	HostCheckCommand    string `json:"host_check_command"`
	HostState           string `json:"host_state"`
	HostStateType       string `json:"host_state_type"`
	ServiceState        string `json:"service_state"`
	ServiceStateType    string `json:"service_state_type"`
	MetricBasePath      string `json:"metric_base_path"`
	GraphitePrefix      string `json:"graphite_prefix"`
	GraphitePostfix     string `json:"graphite_postfix"`
	MetricType          string `json:"metric_type"`
}

// Field names as they appear in configuration, e.g. librato_namevals = "GRAPHITEPREFIX,LABEL".
const (
	FieldLabel               = "LABEL"
	FieldValue               = "VALUE"
	FieldUOM                 = "UOM"
	FieldDataType            = "DATATYPE"
	FieldTimestamp           = "TIMET"
	FieldHostname            = "HOSTNAME"
	FieldServiceDesc         = "SERVICEDESC"
	FieldPerfdata            = "PERFDATA"
	FieldServiceCheckCommand = "SERVICECHECKCOMMAND"
	FieldHostCheckCommand    = "HOSTCHECKCOMMAND"
	FieldHostState           = "HOSTSTATE"
	FieldHostStateType       = "HOSTSTATETYPE"
	FieldServiceState        = "SERVICESTATE"
	FieldServiceStateType    = "SERVICESTATETYPE"
	FieldMetricBasePath      = "METRICBASEPATH"
	FieldGraphitePrefix      = "GRAPHITEPREFIX"
	FieldGraphitePostfix     = "GRAPHITEPOSTFIX"
	FieldMetricType          = "METRICTYPE"
)

// Field returns the value of the named field. ok is false if the name is not a known field.
func (m *Metric) Field(name string) (value string, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case FieldLabel:
		return m.Label, true
	case FieldValue:
		return m.Value, true
	case FieldUOM:
		return m.UOM, true
	case FieldDataType:
		return m.DataType, true
	case FieldTimestamp:
		return m.Timestamp, true
	case FieldHostname:
		return m.Hostname, true
	case FieldServiceDesc:
		return m.ServiceDesc, true
	case FieldPerfdata:
		return m.Perfdata, true
	case FieldServiceCheckCommand:
		return m.ServiceCheckCommand, true
	case FieldHostCheckCommand:
		return m.HostCheckCommand, true
	case FieldHostState:
		return m.HostState, true
	case FieldHostStateType:
		return m.HostStateType, true
	case FieldServiceState:
		return m.ServiceState, true
	case FieldServiceStateType:
		return m.ServiceStateType, true
	case FieldMetricBasePath:
		return m.MetricBasePath, true
	case FieldGraphitePrefix:
		return m.GraphitePrefix, true
	case FieldGraphitePostfix:
		return m.GraphitePostfix, true
	case FieldMetricType:
		return m.MetricType, true
	}
	return "", false
}

// ValidateFields returns an error naming the first entry of fields that is not a known field.
func ValidateFields(fields []string) error {
	var m Metric
	for _, f := range fields {
		if _, ok := m.Field(f); !ok {
			return fmt.Errorf("unknown metric field %q", f)
		}
	}
	return nil
}

// Unix parses the timestamp as seconds since the epoch.
func (m *Metric) Unix() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(m.Timestamp), 10, 64)
}

// Float parses the value as a float64.
func (m *Metric) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(m.Value), 64)
}

func (m *Metric) String() string {
	return fmt.Sprintf("{%s, %s, %s, %s, %s}", m.Hostname, m.ServiceDesc, m.Label, m.Value, m.Timestamp)
}
