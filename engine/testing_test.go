package engine

import (
	"testing"

	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move the engine's notion of wall-clock seconds.
type fakeClock struct {
	t int64
}

func (c *fakeClock) now() int64 { return c.t }

const testEpoch = int64(1_700_000_000)

func newSetsForTest(t *testing.T) (*SetsEngine, *db.MockStore, *fakeClock) {
	t.Helper()
	store := db.NewMockStore(memberCF)
	e, err := NewSetsEngine(store, logger.Nop(), EngineOptions{})
	require.NoError(t, err)
	clk := &fakeClock{t: testEpoch}
	e.now = clk.now
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	return e, store, clk
}

func newHashesForTest(t *testing.T) (*HashesEngine, *db.MockStore, *fakeClock) {
	t.Helper()
	store := db.NewMockStore(dataCF)
	e, err := NewHashesEngine(store, logger.Nop(), EngineOptions{})
	require.NoError(t, err)
	clk := &fakeClock{t: testEpoch}
	e.now = clk.now
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	return e, store, clk
}

func newZSetsForTest(t *testing.T) (*ZSetsEngine, *db.MockStore, *fakeClock) {
	t.Helper()
	store := db.NewMockStore(memberCF, scoreCF)
	e, err := NewZSetsEngine(store, logger.Nop(), EngineOptions{})
	require.NoError(t, err)
	clk := &fakeClock{t: testEpoch}
	e.now = clk.now
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	return e, store, clk
}

func newListsForTest(t *testing.T) (*ListsEngine, *db.MockStore, *fakeClock) {
	t.Helper()
	store := db.NewMockStore(dataCF)
	e, err := NewListsEngine(store, logger.Nop(), EngineOptions{})
	require.NoError(t, err)
	clk := &fakeClock{t: testEpoch}
	e.now = clk.now
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	return e, store, clk
}

func newStringsForTest(t *testing.T) (*StringsEngine, *db.MockStore, *fakeClock) {
	t.Helper()
	store := db.NewMockStore()
	e, err := NewStringsEngine(store, logger.Nop(), EngineOptions{})
	require.NoError(t, err)
	clk := &fakeClock{t: testEpoch}
	e.now = clk.now
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	return e, store, clk
}

func newDBForTest(t *testing.T) (*DB, Stores) {
	t.Helper()
	st := Stores{
		Strings: db.NewMockStore(),
		Hashes:  db.NewMockStore(dataCF),
		Sets:    db.NewMockStore(memberCF),
		Lists:   db.NewMockStore(dataCF),
		ZSets:   db.NewMockStore(memberCF, scoreCF),
	}
	d, err := New(st, nil, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d, st
}

func bmembers(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}
