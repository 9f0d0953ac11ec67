package cluster

import (
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"

	operatorerrors "github.com/dc-tec/kafka-cluster-operator/internal/errors"
)

type settingKind int

const (
	settingString settingKind = iota
	settingInt
	settingBool
)

// setting is a configuration value that is read from the desired-state ConfigMap and
// handed to the container as an environment variable of the same name. Live values
// missing from a container fall back to Default, the same way ConfigMap parsing does.
type setting struct {
	Name    string
	Default string
	kind    settingKind
}

func stringSetting(name, def string) setting {
	return setting{Name: name, Default: def, kind: settingString}
}

func intSetting(name string, def int) setting {
	return setting{Name: name, Default: strconv.Itoa(def), kind: settingInt}
}

func boolSetting(name string, def bool) setting {
	return setting{Name: name, Default: strconv.FormatBool(def), kind: settingBool}
}

// canonical normalizes raw for comparison, e.g. "True" and "true" are the same boolean.
func (s setting) canonical(raw string) (string, error) {
	switch s.kind {
	case settingInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("%s: invalid integer %q", s.Name, raw)
		}
		return strconv.Itoa(v), nil
	case settingBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return "", fmt.Errorf("%s: invalid boolean %q", s.Name, raw)
		}
		return strconv.FormatBool(v), nil
	default:
		return raw, nil
	}
}

// resolve returns the canonical value of s from values, falling back to its default.
func (s setting) resolve(values map[string]string) (string, error) {
	raw, ok := values[s.Name]
	if !ok {
		raw = s.Default
	}
	return s.canonical(raw)
}

// resolveSettings resolves settings from a ConfigMap's data.
func resolveSettings(settings []setting, data map[string]string) ([]corev1.EnvVar, error) {
	env := make([]corev1.EnvVar, 0, len(settings))
	for _, s := range settings {
		v, err := s.resolve(data)
		if err != nil {
			return nil, operatorerrors.WrapPermanentConfig(err)
		}
		env = append(env, corev1.EnvVar{Name: s.Name, Value: v})
	}
	return env, nil
}

// intValue reads a non-negative integer from data, falling back to def.
func intValue(data map[string]string, key string, def int32) (int32, error) {
	raw, ok := data[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return 0, operatorerrors.WrapPermanentConfig(fmt.Errorf("%s: invalid non-negative integer %q", key, raw))
	}
	return int32(v), nil
}

// stringValue reads a string from data, falling back to def.
func stringValue(data map[string]string, key, def string) string {
	if v, ok := data[key]; ok && v != "" {
		return v
	}
	return def
}

// envMap indexes a container's literal environment variables by name.
func envMap(container corev1.Container) map[string]string {
	out := make(map[string]string, len(container.Env))
	for _, e := range container.Env {
		if e.ValueFrom == nil {
			out[e.Name] = e.Value
		}
	}
	return out
}
