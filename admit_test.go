package eonclos

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type engineFixture struct {
	fab      *Fabric
	ledger   *SpectrumLedger
	registry *ConnRegistry
	engine   *AdmissionEngine
}

func newEngineFixture(t *testing.T, w, s, p, slots int) *engineFixture {
	t.Helper()
	fab := newTestFabric(t, w, s, p, slots)
	ledger := CreateSpectrumLedger(fab.NumLinks(), fab.SpectrumSlots())
	registry := CreateConnRegistry()
	return &engineFixture{fab: fab, ledger: ledger, registry: registry,
		engine: CreateAdmissionEngine(fab, ledger, registry, zaptest.NewLogger(t))}
}

func (ef *engineFixture) linkID(t *testing.T, name string) int {
	t.Helper()
	id, err := ef.fab.LinkByName(name)
	require.NoError(t, err)
	return id
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "admitted", Admitted.String())
	assert.Equal(t, "external-blocked", ExternallyBlocked.String())
	assert.Equal(t, "internal-blocked", InternallyBlocked.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "unknown", Outcome(17).String())
}

func TestAdmitFirstFitOnEmptyFabric(t *testing.T) {
	ef := newEngineFixture(t, 2, 3, 2, 8)

	dcsn, err := ef.engine.Admit(CreateRequest(0, 1, 2, 5, 0, 4))
	require.NoError(t, err)
	assert.Equal(t, Admitted, dcsn.Outcome)
	assert.Equal(t, 0, dcsn.Start)
	assert.Equal(t, 0, dcsn.Path.Spine)

	conn, live := ef.registry.Get(0)
	require.True(t, live)
	assert.Equal(t, 4, conn.Expiry)
	assert.Equal(t, SlotRange{Start: 0, End: 5}, conn.Slots())
	for _, linkID := range dcsn.Path.Links {
		assert.Equal(t, 5, ef.ledger.Occupied(linkID))
	}
}

func TestAdmitTriesSpinesInOrder(t *testing.T) {
	ef := newEngineFixture(t, 2, 3, 2, 4)

	// fill the uplink to spine 0 from W1_0 so the next request has to cross spine 1
	p0 := testPath(ef.fab, t, 1, 3, 0)
	require.NoError(t, ef.ledger.Allocate(p0, 0, 4, 100))
	require.Equal(t, ef.linkID(t, "W1_0->S_0"), p0.Links[1])

	dcsn, err := ef.engine.Admit(CreateRequest(1, 0, 2, 2, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, Admitted, dcsn.Outcome)
	assert.Equal(t, 1, dcsn.Path.Spine)
	assert.Equal(t, 0, dcsn.Start)
	assert.Equal(t, "in_0,W1_0,S_1,W2_1,out_0", ef.fab.ShowPath(dcsn.Path))
}

func TestAdmitExternalBlockingTakesPrecedence(t *testing.T) {
	ef := newEngineFixture(t, 2, 2, 2, 4)

	// occupy the middle of the egress link towards port 1 and nothing else
	egress := ef.linkID(t, "W2_0->out_1")
	ef.ledger.links[egress][1] = 50
	ef.ledger.links[egress][2] = 50

	// every interior link of the candidates from port 0 is free, but no three
	// contiguous slots are free at egress
	dcsn, err := ef.engine.Admit(CreateRequest(1, 0, 1, 3, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, ExternallyBlocked, dcsn.Outcome)
	_, live := ef.registry.Get(1)
	assert.False(t, live)
}

func TestAdmitWiderThanLinkIsExternallyBlocked(t *testing.T) {
	ef := newEngineFixture(t, 2, 2, 2, 4)
	dcsn, err := ef.engine.Admit(CreateRequest(0, 0, 1, 5, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, ExternallyBlocked, dcsn.Outcome)
}

func TestAdmitSharedIngressIsInternallyBlocked(t *testing.T) {
	ef := newEngineFixture(t, 2, 2, 2, 4)

	first, err := ef.engine.Admit(CreateRequest(0, 0, 0, 2, 0, 5))
	require.NoError(t, err)
	require.Equal(t, Admitted, first.Outcome)
	assert.Equal(t, 0, first.Start)

	// both candidate paths from port 0 start on in_0->W1_0, which holds
	// request 0 on slots 0..1; egress W2_0->out_1 is untouched
	shared := ef.linkID(t, "in_0->W1_0")
	assert.Equal(t, []int{0, 0, FreeSlot, FreeSlot}, ef.ledger.Snapshot(shared))
	assert.Equal(t, 0, ef.ledger.Occupied(ef.linkID(t, "W2_0->out_1")))

	second, err := ef.engine.Admit(CreateRequest(1, 0, 1, 3, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, InternallyBlocked, second.Outcome)
	assert.Equal(t, 1, ef.registry.Len())
}

func TestAdmitRejectsInvalidRequests(t *testing.T) {
	ef := newEngineFixture(t, 2, 2, 2, 4)
	_, err := ef.engine.Admit(CreateRequest(3, 0, 1, 1, 0, 5))
	require.NoError(t, err)

	tests := map[string]Request{
		"zero width":       CreateRequest(0, 0, 1, 0, 0, 5),
		"negative width":   CreateRequest(0, 0, 1, -2, 0, 5),
		"zero holding":     CreateRequest(0, 0, 1, 1, 0, 0),
		"negative arrival": CreateRequest(0, 0, 1, 1, -1, 5),
		"negative id":      CreateRequest(-4, 0, 1, 1, 0, 5),
		"source range":     CreateRequest(0, 4, 1, 1, 0, 5),
		"dest range":       CreateRequest(0, 0, 9, 1, 0, 5),
		"live id":          CreateRequest(3, 1, 2, 1, 0, 5),
	}
	before := snapshotAll(ef.ledger)
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			dcsn, err := ef.engine.Admit(req)
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
			assert.Equal(t, Rejected, dcsn.Outcome)
		})
	}
	assert.Equal(t, before, snapshotAll(ef.ledger))
	assert.Equal(t, 1, ef.registry.Len())
}

func TestReleaseFreesEveryLink(t *testing.T) {
	ef := newEngineFixture(t, 2, 2, 2, 4)
	dcsn, err := ef.engine.Admit(CreateRequest(0, 0, 3, 2, 0, 5))
	require.NoError(t, err)
	require.Equal(t, Admitted, dcsn.Outcome)

	expiring, err := ef.registry.Expiring(5)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	ef.engine.Release(expiring[0])
	for _, linkID := range dcsn.Path.Links {
		assert.Equal(t, 0, ef.ledger.Occupied(linkID))
	}
}
