// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package metrics registers the node's Prometheus collectors (§6+++):
// best-chain height, reorg count, connected-peer gauge, and per-flavor
// filter tip height. Serving the registry is the enclosing application's
// concern (lightcored starts an HTTP listener); this package only owns
// the collectors themselves.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lightcore"

// Metrics holds the node's collectors. lightcored run sets BestChainHeight
// and FilterTipHeight; ReorgsTotal and ConnectedPeers are registered and
// exported, but no component in the node updates them.
type Metrics struct {
	BestChainHeight prometheus.Gauge
	ReorgsTotal     prometheus.Counter
	ConnectedPeers  prometheus.Gauge
	FilterTipHeight *prometheus.GaugeVec
	registry        *prometheus.Registry
}

// New creates and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		BestChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "headeroracle",
			Name:      "best_chain_height",
			Help:      "Height of the current best header chain tip.",
		}),
		ReorgsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "headeroracle",
			Name:      "reorgs_total",
			Help:      "Number of chain reorganizations processed.",
		}),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peermgr",
			Name:      "connected_peers",
			Help:      "Number of peers currently tracked by the peer manager.",
		}),
		FilterTipHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "filteroracle",
			Name:      "filter_tip_height",
			Help:      "Height of the filter tip, labeled by filter flavor.",
		}, []string{"flavor"}),
		registry: reg,
	}
	reg.MustRegister(m.BestChainHeight, m.ReorgsTotal, m.ConnectedPeers, m.FilterTipHeight)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReorg records a reorg event (best-chain height plus a reorg tick).
func (m *Metrics) ObserveReorg(newHeight int64) {
	m.ReorgsTotal.Inc()
	m.BestChainHeight.Set(float64(newHeight))
}

// SetFilterTip updates the per-flavor filter tip height gauge.
func (m *Metrics) SetFilterTip(flavor string, height int64) {
	m.FilterTipHeight.WithLabelValues(flavor).Set(float64(height))
}
