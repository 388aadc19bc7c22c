// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/recall-engine/pkg/types"
)

const envPrefix = "RECALL"

// loadConfig layers the built-in defaults, the config file (if any) and
// RECALL_* environment variables, in that order. Nested keys map to
// variables with underscores, e.g. RECALL_PIPELINE_TARGET_ROOM.
func loadConfig() (types.Config, error) {
	defaults, err := yaml.Marshal(types.DefaultConfig())
	if err != nil {
		return types.Config{}, fmt.Errorf("encoding default config: %w", err)
	}

	file := viper.ConfigFileUsed()
	v := viper.GetViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return types.Config{}, fmt.Errorf("loading default config: %w", err)
	}
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
