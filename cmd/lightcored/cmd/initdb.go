// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lightcore-labs/lightcore/internal/config"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/kv/mdbxkv"
)

const defaultMdbxSize = 64 << 30 // 64 GiB map size ceiling; mdbx grows into it lazily.

var initdbStoragePolicy string

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "create and initialize a fresh datadir",
	RunE: func(c *cobra.Command, args []string) error {
		policy, err := parseStoragePolicy(initdbStoragePolicy)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(flagDataDir, 0o700); err != nil {
			return fmt.Errorf("create datadir: %w", err)
		}

		lock, err := acquireDataDirLock(flagDataDir)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := mdbxkv.Open(filepath.Join(flagDataDir, "chaindata"), kv.ChaindataTablesCfg, defaultMdbxSize)
		if err != nil {
			return fmt.Errorf("open chaindata: %w", err)
		}
		defer db.Close()

		if err := config.EnsureInitialized(context.Background(), db, policy); err != nil {
			return fmt.Errorf("initialize config: %w", err)
		}
		fmt.Fprintf(c.OutOrStdout(), "initialized datadir %s\n", flagDataDir)
		return nil
	},
}

func init() {
	initdbCmd.Flags().StringVar(&initdbStoragePolicy, "block-storage-policy", "cache", "block storage policy: none, cache, all")
}

func parseStoragePolicy(s string) (config.StoragePolicy, error) {
	switch s {
	case "none":
		return config.PolicyNone, nil
	case "cache":
		return config.PolicyCache, nil
	case "all":
		return config.PolicyAll, nil
	default:
		return config.PolicyNone, fmt.Errorf("unknown block storage policy %q", s)
	}
}
