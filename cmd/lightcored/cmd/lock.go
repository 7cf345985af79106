// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// acquireDataDirLock takes an exclusive, non-blocking lock on the datadir
// so two lightcored processes never open the same mdbx environment at
// once (the teacher's own mdbx backend assumes a single writer process).
func acquireDataDirLock(dataDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dataDir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock datadir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("datadir %s is locked by another process", dataDir)
	}
	return lock, nil
}
