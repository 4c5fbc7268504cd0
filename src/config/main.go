package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/InVisionApp/conjungo"
	"github.com/kerberos-io/timecodes/src/models"
)

// Environment variables are prefixed with TIMECODES_.
const environmentPrefix = "TIMECODES_"

// OpenConfig returns the default settings overridden with the ones found in
// the environment. Environment variables with an empty value are ignored.
func OpenConfig(environment []string) (models.Config, error) {
	configuration := models.DefaultConfig()
	overrides := OverrideWithEnvironmentVariables(environment)

	opts := conjungo.NewOptions()
	opts.SetTypeMergeFunc(
		reflect.TypeOf(""),
		func(t, s reflect.Value, o *conjungo.Options) (reflect.Value, error) {
			targetStr, _ := t.Interface().(string)
			sourceStr, _ := s.Interface().(string)
			finalStr := targetStr
			if sourceStr != "" {
				finalStr = sourceStr
			}
			return reflect.ValueOf(finalStr), nil
		},
	)

	if err := conjungo.Merge(&configuration, overrides, opts); err != nil {
		return models.DefaultConfig(), err
	}
	return configuration, nil
}

// OverrideWithEnvironmentVariables reads the TIMECODES_* variables of the
// given environment (formatted as os.Environ) into a config. Unknown keys
// are skipped.
func OverrideWithEnvironmentVariables(environment []string) (configuration models.Config) {
	for _, env := range environment {
		if !strings.HasPrefix(env, environmentPrefix) {
			continue
		}
		key, value, found := strings.Cut(env, "=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "TIMECODES_LOG_LEVEL":
			configuration.LogLevel = strings.ToLower(value)
		case "TIMECODES_LOG_OUTPUT":
			configuration.LogOutput = strings.ToLower(value)
		case "TIMECODES_LOG_DIRECTORY":
			configuration.LogDirectory = value
		case "TIMECODES_TIMEZONE":
			configuration.Timezone = value
		case "TIMECODES_PROGRESS":
			configuration.Progress = strings.ToLower(value)
		}
	}
	return
}

// GetTimezone resolves the configured timezone. UTC is returned with the
// error when the name is unknown.
func GetTimezone(configuration models.Config) (*time.Location, error) {
	timezone, err := time.LoadLocation(configuration.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("unknown timezone %s: %w", configuration.Timezone, err)
	}
	return timezone, nil
}
