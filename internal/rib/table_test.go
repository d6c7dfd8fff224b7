package rib_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ripd-project/ripd/internal/rib"
)

func TestTableInsertLookupRemove(t *testing.T) {
	tbl := rib.NewTable()
	e := &rib.Entry{Network: 0xC0A80100, Mask: 0xFFFFFF00, NextHop: 0x0A000002, Metric: 2}
	tbl.Insert(e)

	got, ok := tbl.Lookup(e.Network, e.Mask)
	require.True(t, ok)
	require.Same(t, e, got)

	tbl.Remove(e.Key())
	_, ok = tbl.Lookup(e.Network, e.Mask)
	require.False(t, ok)
}

func TestTableAtMostOneEntryPerKey(t *testing.T) {
	tbl := rib.NewTable()
	k := rib.Key{Network: 10, Mask: 0xFFFFFF00}
	tbl.Insert(&rib.Entry{Network: k.Network, Mask: k.Mask, Metric: 1})
	tbl.Insert(&rib.Entry{Network: k.Network, Mask: k.Mask, Metric: 5})
	require.Equal(t, 1, tbl.Len())
	got, _ := tbl.Lookup(k.Network, k.Mask)
	require.Equal(t, 5, got.Metric)
}

func TestEntryImportedNeverHasTimeout(t *testing.T) {
	e := &rib.Entry{Imported: true}
	e.ResetTimeout(time.Now())
	require.False(t, e.HasTimeout())
	require.True(t, e.Timeout.IsZero())
}

func TestEntryEnterGarbageRestartsWindow(t *testing.T) {
	e := &rib.Entry{Metric: 3}
	now := time.Now()
	e.EnterGarbage(now)
	require.True(t, e.Garbage)
	require.Equal(t, rib.InfinityMetric, e.Metric)

	// A second raw call restarts the GC window; the at-most-once guard
	// lives in the callers, not here.
	later := now.Add(time.Second)
	e.EnterGarbage(later)
	require.Equal(t, rib.InfinityMetric, e.Metric)
	require.Equal(t, later, e.Timeout)
}
