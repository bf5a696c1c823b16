package util

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the inspected environment variables.
const EnvPrefix = "GRAPHIOS"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InitViper sets up env var handling for a viper. A key such as carbon_servers is read from
// GRAPHIOS_CARBON_SERVERS.
func InitViper(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.SetTypeByDefaultValue(true)
	v.AutomaticEnv()
}

// GetStringList returns the comma-separated value of key as a list of trimmed, non-empty entries.
// Values that are already lists are trimmed the same way.
func GetStringList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case nil:
		return nil
	case []string:
		raw = val
	case []interface{}:
		raw = v.GetStringSlice(key)
	default:
		raw = strings.Split(v.GetString(key), ",")
	}
	list := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	return list
}

// GetJSONStringList decodes the value of key as a JSON list of strings. The value may also be a
// list already (for example from a YAML or TOML configuration file). ok is false if key is unset.
func GetJSONStringList(v *viper.Viper, key string) (list []string, ok bool, err error) {
	if !v.IsSet(key) {
		return nil, false, nil
	}
	switch val := v.Get(key).(type) {
	case []string:
		return val, true, nil
	case []interface{}:
		return v.GetStringSlice(key), true, nil
	}
	list = []string{}
	if err := json.UnmarshalFromString(v.GetString(key), &list); err != nil {
		return nil, true, err
	}
	return list, true, nil
}

// GetJSONStringMap decodes the value of key as a JSON object with string values. The value may also
// be a map already. ok is false if key is unset.
func GetJSONStringMap(v *viper.Viper, key string) (m map[string]string, ok bool, err error) {
	if !v.IsSet(key) {
		return nil, false, nil
	}
	switch v.Get(key).(type) {
	case map[string]interface{}, map[string]string:
		return v.GetStringMapString(key), true, nil
	}
	m = map[string]string{}
	if err := json.UnmarshalFromString(v.GetString(key), &m); err != nil {
		return nil, true, err
	}
	return m, true, nil
}
