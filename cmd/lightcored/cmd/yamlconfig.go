// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cmd

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML overlay (§6+ "persisted node
// configuration additionally loads an optional YAML file"). Every field
// is optional; an absent field leaves the corresponding flag default in
// place.
type fileConfig struct {
	Chain              string   `yaml:"chain"`
	DefaultPeer        string   `yaml:"default_peer"`
	DNSSeeds           []string `yaml:"dns_seeds"`
	TargetPeerCount    int      `yaml:"target_peer_count"`
	MaxConcurrentDials int64    `yaml:"max_concurrent_dials"`
	MetricsListen      string   `yaml:"metrics_listen"`
	BlockStoragePolicy string   `yaml:"block_storage_policy"`
}

func loadYAMLConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}
