// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ParseConfigFile returns an agent.Config parsed from a YAML file. Keys
// absent from the file stay at their zero value so the result can be merged
// over another Config.
func ParseConfigFile(path string) (*Config, error) {
	// slurp
	var buf bytes.Buffer
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, err
	}

	return ParseConfig(buf.Bytes())
}

// ParseConfig parses a YAML document into a Config.
func ParseConfig(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadConfiguration builds the effective configuration: built-in defaults,
// then the main config file, then every overlay in the extra config
// directory. A missing main file is tolerated so a bare install still
// starts; a missing overlay directory is too.
func LoadConfiguration(configFile string) (*Config, error) {
	config := DefaultConfig()

	fileConfig, err := LoadConfig(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		config = config.Merge(fileConfig)
	}

	if dir := config.ExtraConfigFiles; dir != "" {
		extraConfig, err := LoadConfigDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			config = config.Merge(extraConfig)
		}
	}

	config.normalize()
	return config, nil
}
