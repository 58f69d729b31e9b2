package eonclos

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseTrafficBothForms(t *testing.T) {
	input := `0: 3 5 2 0 17
1: 4 1 6 12 3 40

2: 0 0 1 9 9
`
	reqs, err := ParseTraffic(strings.NewReader(input), nil)
	require.NoError(t, err)

	want := []Request{
		{ID: 0, Src: 3, Dst: 5, Width: 2, Arrival: 0, Holding: 17, SlotHint: NoSlotHint},
		{ID: 1, Src: 4, Dst: 1, Width: 6, Arrival: 3, Holding: 40, SlotHint: 12},
		{ID: 2, Src: 0, Dst: 0, Width: 1, Arrival: 9, Holding: 9, SlotHint: NoSlotHint},
	}
	if diff := cmp.Diff(want, reqs); diff != "" {
		t.Errorf("parsed requests mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 18, reqs[2].Expiry())
	assert.Equal(t, 43, MaxTime(reqs))
}

func TestParseTrafficSkipsMalformedLines(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	input := `0: 1 2 3 4 5
garbage
1: 1 2 3
2: 1 x 3 4 5
3: 2 1 1 0 1
`
	reqs, err := ParseTraffic(strings.NewReader(input), zap.New(core))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, 0, reqs[0].ID)
	assert.Equal(t, 3, reqs[1].ID)

	warnings := logs.FilterMessage("ignoring invalid traffic record").All()
	require.Len(t, warnings, 3)
	assert.Equal(t, int64(2), warnings[0].ContextMap()["line"])
}

func TestReadTrafficMissingFile(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reqs, err := ReadTraffic(filepath.Join(t.TempDir(), "none.txt"), zap.New(core))
	assert.True(t, errors.Is(err, ErrSourceUnreadable))
	assert.NotNil(t, reqs)
	assert.Empty(t, reqs)
	assert.Equal(t, 1, logs.FilterMessage("traffic file cannot be read").Len())
}

func TestWriteTrafficReadsBack(t *testing.T) {
	reqs := []Request{
		CreateRequest(0, 1, 2, 3, 0, 10),
		{ID: 1, Src: 2, Dst: 0, Width: 4, Arrival: 6, Holding: 2, SlotHint: 7},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteTraffic(&buf, reqs))
	assert.Equal(t, "0: 1 2 3 0 10\n1: 2 0 4 7 6 2\n", buf.String())

	back, err := ParseTraffic(&buf, nil)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(reqs, back))
}

func TestBucketByArrivalOrdersByID(t *testing.T) {
	buckets := bucketByArrival([]Request{
		CreateRequest(9, 0, 0, 1, 2, 1),
		CreateRequest(4, 0, 0, 1, 0, 1),
		CreateRequest(7, 0, 0, 1, 2, 1),
		CreateRequest(1, 0, 0, 1, 2, 1),
	})
	require.Len(t, buckets, 2)
	ids := []int{}
	for _, req := range buckets[2] {
		ids = append(ids, req.ID)
	}
	assert.Equal(t, []int{1, 7, 9}, ids)
	assert.Len(t, buckets[0], 1)
}

func TestMaxTimeCoversLateArrivals(t *testing.T) {
	assert.Equal(t, 0, MaxTime(nil))
	assert.Equal(t, 12, MaxTime([]Request{CreateRequest(0, 0, 0, 1, 2, 3), CreateRequest(1, 0, 0, 1, 12, 0)}))
}
