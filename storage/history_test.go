package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/sweepr/pkg/resource"
)

func TestHistory_RecordAndList(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "history.db"))

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Record(RunRecord{Time: base.Add(time.Duration(i) * time.Hour), Scanned: i}))
	}

	records, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 2, records[0].Scanned, "newest first")
	assert.Equal(t, 0, records[2].Scanned)

	records, err = h.List(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHistory_SameTimestamp(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "history.db"))

	now := time.Now()
	require.NoError(t, h.Record(RunRecord{Time: now, Scanned: 1}))
	require.NoError(t, h.Record(RunRecord{Time: now, Scanned: 2}))

	records, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].Scanned)
}

func TestHistory_Manifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	m := resource.NewManifest([]resource.Resource{resource.New("ec2", "i-1"), resource.New("ec2", "i-2")})
	require.NoError(t, NewHistory(path).Record(RunRecord{Time: time.Now(), Deleted: 2, Manifest: ManifestRecord(m)}))

	records, err := NewHistory(path).List(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []ManifestKind{{Kind: "ec2", IDs: []string{"i-1", "i-2"}}}, records[0].Manifest)
}

func TestHistory_ReadableBetweenWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	writer := NewHistory(path)
	require.NoError(t, writer.Init())

	reader := NewHistory(path)
	records, err := reader.List(0)
	require.NoError(t, err)
	assert.Empty(t, records)

	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		require.NoError(t, writer.Record(RunRecord{Time: base.Add(time.Duration(i) * time.Minute), Scanned: i}))

		start := time.Now()
		records, err := reader.List(0)
		require.NoError(t, err)
		assert.Len(t, records, i)
		assert.Equal(t, i, records[0].Scanned)
		assert.Less(t, time.Since(start), time.Second, "reader must not wait on the writer lock")
	}
}

func TestHistory_ListMissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	records, err := NewHistory(path).List(0)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "listing must not create the database")
}

func TestHistory_InitInvalidPath(t *testing.T) {
	err := NewHistory(filepath.Join(t.TempDir(), "missing", "history.db")).Init()
	require.Error(t, err)
}
