// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	m := New()
	m.ObserveReorg(42)
	m.ConnectedPeers.Set(3)
	m.SetFilterTip("basic-bip158", 42)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"lightcore_headeroracle_best_chain_height 42",
		"lightcore_headeroracle_reorgs_total 1",
		"lightcore_peermgr_connected_peers 3",
		`lightcore_filteroracle_filter_tip_height{flavor="basic-bip158"} 42`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}
