package bindings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", DefaultFileName)
	p := NewFilePersister(path)
	s := NewStore(WithPersister(p))

	s.Bind(bindReq("group:7", "sess-a"))
	req := bindReq("user:8", "sess-b")
	req.Label = "research"
	req.TTL = time.Hour
	s.Bind(req)
	require.NoError(t, s.Flush(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, FileVersion, snap.Version)
	assert.Len(t, snap.Bindings, 2)

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock released after save")

	restored := NewStore(WithPersister(NewFilePersister(path)))
	assert.Equal(t, 2, restored.Load(context.Background()))
	rec, ok := restored.ResolveOriginBySession("sess-b", "acc")
	require.True(t, ok)
	assert.Equal(t, "research", rec.Label)
	assert.Equal(t, int64(time.Hour/time.Millisecond), rec.TTLMs)
}

func TestFilePersisterMissingFile(t *testing.T) {
	p := NewFilePersister(filepath.Join(t.TempDir(), "absent.json"))
	records, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFilePersisterSkipsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	raw := `{"version":1,"bindings":[
		{"accountId":"acc","to":"user:1","childSessionKey":"s","agentId":"a"},
		{"accountId":"acc","to":42},
		"nonsense"
	]}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	records, err := NewFilePersister(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "user:1", records[0].To)
}

func TestFilePersisterRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":9,"bindings":[]}`), 0o600))

	_, err := NewFilePersister(path).Load(context.Background())
	assert.Error(t, err)

	s := NewStore(WithPersister(NewFilePersister(path)))
	assert.Equal(t, 0, s.Load(context.Background()))
}

func TestLockReclaimsStaleOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	stale, err := json.Marshal(lockOwner{PID: 1, CreatedAt: time.Now().Add(-time.Hour).UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".lock", stale, 0o600))

	require.NoError(t, NewFilePersister(path).Save(context.Background(), nil))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLockTimesOutOnLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	live, err := json.Marshal(lockOwner{PID: 1, CreatedAt: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".lock", live, 0o600))

	err = NewFilePersister(path).Save(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLockHonorsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	require.NoError(t, os.WriteFile(path+".lock", []byte("{}"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := acquireLock(ctx, path, time.Now)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsOwnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.json")
	p := NewFilePersister(path)
	require.NoError(t, p.Save(context.Background(), []Record{{AccountID: "acc", To: "user:1"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, p.IsOwnWrite(data))
	assert.False(t, p.IsOwnWrite([]byte(`{"version":1,"bindings":[]}`)))
}
