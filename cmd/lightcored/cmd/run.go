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
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/spf13/cobra"

	"github.com/lightcore-labs/lightcore/internal/addrbook"
	"github.com/lightcore-labs/lightcore/internal/chaincfg"
	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/config"
	"github.com/lightcore-labs/lightcore/internal/filteroracle"
	"github.com/lightcore-labs/lightcore/internal/headeroracle"
	"github.com/lightcore-labs/lightcore/internal/kv"
	"github.com/lightcore-labs/lightcore/internal/kv/mdbxkv"
	"github.com/lightcore-labs/lightcore/internal/metrics"
	"github.com/lightcore-labs/lightcore/internal/peer"
	"github.com/lightcore-labs/lightcore/internal/peermgr"
	"github.com/lightcore-labs/lightcore/internal/reorg"
	"github.com/lightcore-labs/lightcore/internal/wire"
)

var (
	runDefaultPeer     string
	runTargetPeerCount int
	runMaxDials        int64
	runMetricsListen   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the node: header sync, filter sync, and peer management",
	RunE: func(c *cobra.Command, args []string) error {
		return runNode(c.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runDefaultPeer, "default-peer", "", "always-preferred peer address (host:port)")
	runCmd.Flags().IntVar(&runTargetPeerCount, "target-peer-count", 8, "number of peers to maintain")
	runCmd.Flags().Int64Var(&runMaxDials, "max-concurrent-dials", 4, "maximum concurrent outbound dial attempts")
	runCmd.Flags().StringVar(&runMetricsListen, "metrics-listen", "", "address to serve Prometheus metrics on (empty disables)")
}

// protocolVersion is the node's own wire protocol version, sent in every
// handshake and recorded against addresses the node learns about.
const protocolVersion uint32 = 70015

// chainID derives the uint32 chain identifier the storage layer keys on
// from the chain's 4-byte wire magic (§4.4), so internal/headeroracle,
// internal/addrbook, and internal/peermgr all agree on one number per
// configured chain without a second lookup table.
func chainID(params chaincfg.Params) uint32 {
	return binary.BigEndian.Uint32(params.Net[:])
}

// ipv4MappedPrefix is the standard ::ffff:0:0/96 prefix wire.NetAddr's
// 16-byte IP field uses to carry an IPv4 address (§3 NetAddress).
var ipv4MappedPrefix = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff}

// classifyNetAddr maps a wire.NetAddr's fixed 16-byte IP field to the
// (network, address-bytes) pair internal/addrbook.Record expects.
func classifyNetAddr(a wire.NetAddr) (network uint8, addrBytes []byte) {
	if [12]byte(a.IP[:12]) == ipv4MappedPrefix {
		b := make([]byte, 4)
		copy(b, a.IP[12:16])
		return 1, b
	}
	b := make([]byte, 16)
	copy(b, a.IP[:])
	return 2, b
}

// classifyHostPort splits a dialed "host:port" address (as recorded in
// peer.Peer.ID for outbound connections) into the same (network,
// addrBytes, port) shape classifyNetAddr derives from a wire.NetAddr, so
// a handshake response can be folded back into the same addrbook.Record.
func classifyHostPort(addr string) (network uint8, addrBytes []byte, port uint16, ok bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, nil, 0, false
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0, nil, 0, false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return 0, nil, 0, false
	}
	if v4 := ip.To4(); v4 != nil {
		return 1, v4, uint16(p), true
	}
	return 2, ip.To16(), uint16(p), true
}

// servicesBitset converts a wire service bitfield (wire.MsgVersion.Services,
// wire.NetAddr.Services) into the bits-and-blooms/bitset addrbook.Record
// stores its Services in.
func servicesBitset(services uint64) *bitset.BitSet {
	bs := bitset.New(64)
	for i := uint(0); i < 64; i++ {
		if services&(1<<i) != 0 {
			bs.Set(i)
		}
	}
	return bs
}

func runNode(ctx context.Context) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	params, err := resolvedChain()
	if err != nil {
		return err
	}

	fileCfg, _ := loadYAMLConfig(flagConfigFile)
	if fileCfg.DefaultPeer != "" {
		runDefaultPeer = fileCfg.DefaultPeer
	}
	if fileCfg.TargetPeerCount != 0 {
		runTargetPeerCount = fileCfg.TargetPeerCount
	}
	if fileCfg.MaxConcurrentDials != 0 {
		runMaxDials = fileCfg.MaxConcurrentDials
	}
	if fileCfg.MetricsListen != "" {
		runMetricsListen = fileCfg.MetricsListen
	}
	dnsSeeds := params.DNSSeeds
	if len(fileCfg.DNSSeeds) > 0 {
		dnsSeeds = fileCfg.DNSSeeds
	}
	policy := config.PolicyCache
	if fileCfg.BlockStoragePolicy != "" {
		if p, err := parseStoragePolicy(fileCfg.BlockStoragePolicy); err == nil {
			policy = p
		}
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

	if err := config.EnsureInitialized(ctx, db, policy); err != nil {
		return fmt.Errorf("initialize config: %w", err)
	}

	chain := chainID(params)
	bus := reorg.NewBus()

	headerOracle, err := headeroracle.Open(ctx, db, chain, bus)
	if err != nil {
		return fmt.Errorf("open header oracle: %w", err)
	}
	for _, cp := range params.Checkpoints {
		if err := headerOracle.AddCheckpoint(ctx, chainhash.Height(cp.Height), cp.Hash); err != nil {
			log.Warnw("configured checkpoint rejected", "height", cp.Height, "err", err)
		}
	}

	filterOracle, err := filteroracle.Open(ctx, db, params)
	if err != nil {
		return fmt.Errorf("open filter oracle: %w", err)
	}
	bus.Subscribe(filterOracle)

	book, err := addrbook.Open(ctx, db)
	if err != nil {
		return fmt.Errorf("open address book: %w", err)
	}

	m := metrics.New()
	tip := headerOracle.BestTip()
	m.BestChainHeight.Set(float64(tip.Height))
	for _, flavor := range params.Flavors {
		m.SetFilterTip(flavor.String(), int64(filterOracle.FilterTip(flavor).Height))
	}

	handlers := peer.Handlers{
		OnVersion: func(p *peer.Peer, msg *wire.MsgVersion) error {
			network, bytes, port, ok := classifyHostPort(p.ID)
			if !ok {
				return nil
			}
			id := addrbook.DeriveID(protocolVersion, network, bytes, port, chain)
			rec := &addrbook.Record{
				ID:            id,
				Chain:         chain,
				Protocol:      protocolVersion,
				Network:       network,
				Bytes:         bytes,
				Port:          port,
				LastConnected: time.Now(),
				Services:      servicesBitset(msg.Services),
			}
			if err := book.AddOrUpdate(context.Background(), rec); err != nil {
				log.Warnw("address book service update failed", "peer", p.ID, "err", err)
			}
			return nil
		},
		OnHeaders: func(p *peer.Peer, msg *wire.MsgHeaders) error {
			batch := make([]headeroracle.Raw, 0, len(msg.Headers))
			for _, h := range msg.Headers {
				batch = append(batch, headeroracle.Raw{
					Version:    h.Version,
					Prev:       h.PrevBlock,
					MerkleRoot: h.MerkleRoot,
					Timestamp:  h.Timestamp,
					Bits:       h.Bits,
					Nonce:      h.Nonce,
				})
			}
			if err := headerOracle.AddHeaders(context.Background(), batch); err != nil {
				log.Warnw("reject header batch", "peer", p.ID, "err", err)
				return nil
			}
			tip := headerOracle.BestTip()
			m.BestChainHeight.Set(float64(tip.Height))
			return nil
		},
		OnAddr: func(p *peer.Peer, msg *wire.MsgAddr) error {
			recs := make([]*addrbook.Record, 0, len(msg.Addrs))
			for _, a := range msg.Addrs {
				network, bytes := classifyNetAddr(a)
				recs = append(recs, &addrbook.Record{
					Chain:         chain,
					Protocol:      protocolVersion,
					Network:       network,
					Bytes:         bytes,
					Port:          a.Port,
					LastConnected: time.Unix(int64(a.Timestamp), 0),
					Services:      servicesBitset(a.Services),
				})
			}
			n, err := book.Import(context.Background(), recs)
			if err != nil {
				return err
			}
			log.Infow("imported addresses", "peer", p.ID, "new", n, "total", len(recs))
			return nil
		},
	}

	mgrCfg := peermgr.Config{
		Chain:              chain,
		ProtocolVersion:    protocolVersion,
		Magic:              params.Net,
		TargetPeerCount:    runTargetPeerCount,
		MaxConcurrentDials: runMaxDials,
		DefaultPeer:        runDefaultPeer,
		DNSSeeds:           dnsSeeds,
		DefaultPort:        params.DefaultPort,
		Handlers:           handlers,
	}
	mgr := peermgr.New(mgrCfg, book, log)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if runMetricsListen != "" {
		srv := &http.Server{Addr: runMetricsListen, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	log.Infow("starting node", "chain", params.Name, "datadir", flagDataDir)
	return mgr.Run(ctx)
}
