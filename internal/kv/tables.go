// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package kv

import (
	"fmt"
	"sort"
)

// Table names (§6 "Storage path layout"). Naming follows the teacher's own
// convention of a Go string constant per logical table rather than a typed
// enum, so a new table is one line to add and trivially greppable.
const (
	// Headers: hash -> serialized BlockHeader (§3, §4.6).
	Headers = "Headers"
	// HeaderByHeight: height_u64(big-endian) -> hash, best-chain only.
	HeaderByHeight = "HeaderByHeight"
	// Siblings: hash -> "" (presence set of alternate-chain tips).
	Siblings = "Siblings"
	// Disconnected: parent_hash -> child_hash, dup-sorted (§4.6 state).
	Disconnected = "Disconnected"
	// Checkpoint: single key "checkpoint" -> (height,hash).
	Checkpoint = "Checkpoint"

	// Filters: flavor_byte+hash -> encoded GCS filter bytes (§4.7).
	Filters = "Filters"
	// FilterHeaders: flavor_byte+hash -> (prevHeader, filterHash, header).
	FilterHeaders = "FilterHeaders"
	// FilterTips: flavor_byte -> Position, filter content tip (§4.7).
	FilterTips = "FilterTips"
	// FilterHeaderTips: flavor_byte -> Position, filter header chain tip.
	FilterHeaderTips = "FilterHeaderTips"

	// BlockIndex: blockHash -> (offset_u64, size_u64, storedSize_u64,
	// compressed_u8) (§4.2, §4.2+).
	BlockIndex = "BlockIndex"

	// Peers: peer id -> serialized PeerAddress record (§4.5).
	Peers = "Peers"
	// PeerByChain: chain as u64 big-endian -> peer id, dup-sorted.
	PeerByChain = "PeerByChain"
	// PeerByProtocol: protocol as u64 big-endian -> peer id, dup-sorted.
	PeerByProtocol = "PeerByProtocol"
	// PeerByService: service bit index as u64 big-endian -> peer id,
	// dup-sorted.
	PeerByService = "PeerByService"
	// PeerByNetwork: network as u64 big-endian -> peer id, dup-sorted.
	PeerByNetwork = "PeerByNetwork"
	// PeerByLastConnected: unixSeconds_u64 -> peer id, dup-sorted.
	PeerByLastConnected = "PeerByLastConnected"

	// Config: arbitrary string key -> bytes (§6 configuration keys).
	Config = "Config"
)

// ChaindataTables lists every table an opened environment must create.
// Kept sorted at init, mirroring the teacher's ChaindataTables/reinit
// pattern so iteration order is deterministic across runs.
var ChaindataTables = []string{
	Headers,
	HeaderByHeight,
	Siblings,
	Disconnected,
	Checkpoint,
	Filters,
	FilterHeaders,
	FilterTips,
	FilterHeaderTips,
	BlockIndex,
	Peers,
	PeerByChain,
	PeerByProtocol,
	PeerByService,
	PeerByNetwork,
	PeerByLastConnected,
	Config,
}

// ChaindataTablesCfg assigns physical layout flags per table. Tables absent
// from this map get TableCfgItem{} (Default) by reinit.
var ChaindataTablesCfg = TableCfg{
	Disconnected:        {Flags: DupSort},
	PeerByChain:         {Flags: DupSort | IntegerKey},
	PeerByProtocol:      {Flags: DupSort | IntegerKey},
	PeerByService:       {Flags: DupSort | IntegerKey},
	PeerByNetwork:       {Flags: DupSort | IntegerKey},
	PeerByLastConnected: {Flags: DupSort | IntegerKey},
	HeaderByHeight:      {Flags: IntegerKey},
}

func init() {
	reinit()
}

func reinit() {
	sort.Strings(ChaindataTables)
	for _, name := range ChaindataTables {
		if _, ok := ChaindataTablesCfg[name]; !ok {
			ChaindataTablesCfg[name] = TableCfgItem{}
		}
	}
}

// MustHaveTable panics if name is not a recognized table; callers use it to
// fail fast on a typo'd table constant rather than silently opening a stray
// sub-database (erigon's "App will panic if some bucket is not in this
// list" policy from its ChaindataTables doc comment).
func MustHaveTable(name string) {
	if _, ok := ChaindataTablesCfg[name]; !ok {
		panic(fmt.Sprintf("kv: unknown table %q", name))
	}
}
