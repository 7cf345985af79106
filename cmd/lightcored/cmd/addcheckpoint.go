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
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/headeroracle"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/kv/mdbxkv"
	"github.com/lightcore-labs/lightcore/internal/reorg"
)

var addCheckpointDelete bool

var addCheckpointCmd = &cobra.Command{
	Use:   "addcheckpoint <height> <hash>",
	Short: "pin (or, with --delete, remove) a trusted header checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		height, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid height %q: %w", args[0], err)
		}
		hash, err := chainhash.NewHashFromStr(args[1])
		if err != nil {
			return fmt.Errorf("invalid hash %q: %w", args[1], err)
		}

		params, err := resolvedChain()
		if err != nil {
			return err
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

		ctx := context.Background()
		oracle, err := headeroracle.Open(ctx, db, chainID(params), reorg.NewBus())
		if err != nil {
			return fmt.Errorf("open header oracle: %w", err)
		}

		if addCheckpointDelete {
			if err := oracle.DeleteCheckpoint(ctx, chainhash.Height(height)); err != nil {
				return fmt.Errorf("delete checkpoint: %w", err)
			}
			fmt.Fprintf(c.OutOrStdout(), "deleted checkpoint at height %d\n", height)
			return nil
		}

		if err := oracle.AddCheckpoint(ctx, chainhash.Height(height), hash); err != nil {
			return fmt.Errorf("add checkpoint: %w", err)
		}
		fmt.Fprintf(c.OutOrStdout(), "added checkpoint %s at height %d\n", hash, height)
		return nil
	},
}

func init() {
	addCheckpointCmd.Flags().BoolVar(&addCheckpointDelete, "delete", false, "remove the checkpoint at <height> instead of adding one")
}
