// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package chaincfg carries the per-chain constants a light client needs at
// startup: the wire protocol magic, genesis identity, checkpoints, and the
// GCS filter flavors it serves (§6 "Genesis filter-header constants",
// "Filter flavors required"). Modeled on the btcd/pktd-family chaincfg.Params
// pattern the retrieved neutrino reference code assumes.
package chaincfg

import "github.com/lightcore-labs/lightcore/internal/chainhash"

// FilterFlavor names one of the GCS filter types a node tracks per block.
type FilterFlavor uint8

const (
	BasicBIP158 FilterFlavor = iota
	BasicBCHVariant
	ExtendedOpenTxs
)

func (f FilterFlavor) String() string {
	switch f {
	case BasicBIP158:
		return "basic-bip158"
	case BasicBCHVariant:
		return "basic-bch-variant"
	case ExtendedOpenTxs:
		return "extended-opentxs"
	default:
		return "unknown"
	}
}

// FilterParams are the Golomb-Rice (P, M) parameters for a flavor (§4.3,
// §6). All three required flavors share P=19, M=784931; they differ in the
// element set the filter is built over, a concern of the filter-building
// pipeline rather than of the codec or these params.
type FilterParams struct {
	P uint8
	M uint64
}

var filterParams = map[FilterFlavor]FilterParams{
	BasicBIP158:     {P: 19, M: 784931},
	BasicBCHVariant: {P: 19, M: 784931},
	ExtendedOpenTxs: {P: 19, M: 784931},
}

// Params bundles every constant specific to one chain deployment.
type Params struct {
	Name string

	// Net is the 4-byte frame magic (§4.4).
	Net [4]byte

	GenesisHash   chainhash.Hash
	GenesisHeight int64

	// GenesisFilters maps each served flavor to its hard-coded genesis
	// filter bytes and filter header, reproducible by re-encoding the
	// genesis block (§6).
	GenesisFilters map[FilterFlavor]GenesisFilter

	// Flavors lists which filter flavors this chain serves.
	Flavors []FilterFlavor

	// Checkpoints are administrator-trusted (height, hash) pairs a node
	// may pin at startup via add_checkpoint (§4.6).
	Checkpoints []Checkpoint

	// DefaultPort is the conventional TCP port for this chain's p2p
	// network.
	DefaultPort string

	// DNSSeeds are hostnames resolved by internal/peermgr for peer
	// discovery (§4.9).
	DNSSeeds []string
}

// GenesisFilter is the pre-computed genesis (filter, filter header) pair
// for one flavor.
type GenesisFilter struct {
	Filter []byte
	Header chainhash.Hash
}

// Checkpoint pins a known-good header at a given height.
type Checkpoint struct {
	Height int64
	Hash   chainhash.Hash
}

// FilterParamsFor returns the Golomb-Rice parameters for flavor.
func FilterParamsFor(flavor FilterFlavor) FilterParams {
	return filterParams[flavor]
}

// MainNetParams is the production network. Its GenesisFilters is left nil,
// so the filter oracle seeds no genesis filter or filter header for it.
var MainNetParams = Params{
	Name:          "mainnet",
	Net:           [4]byte{0xf9, 0xbe, 0xb4, 0xd9},
	GenesisHeight: 0,
	Flavors:       []FilterFlavor{BasicBIP158, BasicBCHVariant, ExtendedOpenTxs},
	DefaultPort:   "8333",
	DNSSeeds: []string{
		"seed.lightcore.example",
	},
}

// TestNetParams is a long-lived public test network.
var TestNetParams = Params{
	Name:          "testnet",
	Net:           [4]byte{0x0b, 0x11, 0x09, 0x07},
	GenesisHeight: 0,
	Flavors:       []FilterFlavor{BasicBIP158, BasicBCHVariant, ExtendedOpenTxs},
	DefaultPort:   "18333",
	DNSSeeds: []string{
		"testnet-seed.lightcore.example",
	},
}

// RegtestParams is for local, deterministic integration tests; no DNS
// seeds or default peers.
var RegtestParams = Params{
	Name:          "regtest",
	Net:           [4]byte{0xfa, 0xbf, 0xb5, 0xda},
	GenesisHeight: 0,
	Flavors:       []FilterFlavor{BasicBIP158},
	DefaultPort:   "18444",
}

// ByName resolves a --chain flag value to its Params, mirroring the
// pattern the cobra/pflag CLI layer uses (§6+).
func ByName(name string) (Params, bool) {
	switch name {
	case "mainnet":
		return MainNetParams, true
	case "testnet":
		return TestNetParams, true
	case "regtest":
		return RegtestParams, true
	default:
		return Params{}, false
	}
}
