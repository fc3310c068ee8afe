// Package config implements the server's parameter record and
// its loading pipeline: a tab-separated key<TAB>value file, layered with
// RAMFSD_-prefixed environment variable overrides and defaults via
// spf13/viper, decoded into a typed struct with mitchellh/mapstructure, and
// validated with go-playground/validator, following a
// file-then-env-then-default precedence with validate-after-load.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Recognised config keys. Unknown keys are ignored.
const (
	keyThreadPool    = "tpool"
	keyMaxMem        = "maxmem"
	keyMaxFiles      = "maxfiles"
	keySockPath      = "sock_path"
	keyLogPath       = "log_path"
	keyQueueCapacity = "queue_capacity"
	keyMetricsAddr   = "metrics_addr"
)

// Defaults for every recognised parameter, including the fields added
// beyond the original tab-separated parameter file (queue capacity, metrics
// address).
const (
	DefaultThreadPool    = 10
	DefaultMaxMemBytes   = 32 * 1024 * 1024
	DefaultMaxFiles      = 100
	DefaultSockPath      = "./server.sock"
	DefaultLogPath       = "./server.log"
	DefaultQueueCapacity = 0
	DefaultMetricsAddr   = ""
)

// Params is the parameter record produced by loading a configuration file
//, expanded with QueueCapacity and MetricsAddr.
type Params struct {
	ThreadPoolSize int    `mapstructure:"tpool" validate:"required,gt=0"`
	MaxMemBytes    int64  `mapstructure:"maxmem" validate:"required,gt=0"`
	MaxFiles       int    `mapstructure:"maxfiles" validate:"required,gt=0"`
	SockPath       string `mapstructure:"sock_path" validate:"required"`
	LogPath        string `mapstructure:"log_path" validate:"required"`
	QueueCapacity  int    `mapstructure:"queue_capacity" validate:"gte=0"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// parseParamFile parses the tab-separated "key<TAB>value" parameter file
// format. Malformed or unrecognised lines are skipped rather than
// rejected, so the rest of a partially-valid file still loads.
func parseParamFile(r io.Reader) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimRight(parts[1], "\r\n")
		if key == "" || value == "" {
			continue
		}
		values[key] = value
	}
	return values
}

// Load reads path (falling back to defaults entirely if it cannot be
// opened), layers RAMFSD_-prefixed environment overrides on top, decodes
// into Params, and validates the result.
func Load(path string) (*Params, error) {
	v := viper.New()
	v.SetEnvPrefix("RAMFSD")
	v.AutomaticEnv()

	v.SetDefault(keyThreadPool, DefaultThreadPool)
	v.SetDefault(keyMaxMem, DefaultMaxMemBytes)
	v.SetDefault(keyMaxFiles, DefaultMaxFiles)
	v.SetDefault(keySockPath, DefaultSockPath)
	v.SetDefault(keyLogPath, DefaultLogPath)
	v.SetDefault(keyQueueCapacity, DefaultQueueCapacity)
	v.SetDefault(keyMetricsAddr, DefaultMetricsAddr)

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		raw := parseParamFile(f)
		merged := make(map[string]interface{}, len(raw))
		for k, val := range raw {
			switch k {
			case keyThreadPool, keyMaxMem, keyMaxFiles, keyQueueCapacity:
				n, convErr := strconv.ParseInt(val, 10, 64)
				if convErr != nil || n <= 0 && k != keyQueueCapacity {
					continue // invalid numeric value: keep the default
				}
				merged[k] = n
			default:
				merged[k] = val
			}
		}
		if err := v.MergeConfigMap(merged); err != nil {
			return nil, fmt.Errorf("config: merging %s: %w", path, err)
		}
	}

	// Environment overrides arrive as strings, so numeric fields need
	// weakly-typed decoding ("99" -> 99).
	var p Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return nil, fmt.Errorf("config: decoding settings: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("config: decoding settings: %w", err)
	}

	if err := validator.New().Struct(&p); err != nil {
		return nil, fmt.Errorf("config: invalid parameters: %w", err)
	}
	return &p, nil
}
