package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mantonx/playserver/internal/play"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := New(db)
	require.NoError(t, err)
	return store
}

func testSession(id string) *play.Session {
	return &play.Session{
		ID:         id,
		ScratchDir: "/tmp/" + id,
		Capability: play.CapabilityDescriptor{SourceIndex: 1},
		Decision: play.Decision{
			CanCopyVideo:     true,
			CanCopyAudio:     false,
			OutputVideoCodec: "h264",
			OutputAudioCodec: "aac",
		},
		CreatedAt: time.Now(),
	}
}

func TestStoreRecordStartAndList(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordStart(testSession("sess-1"), "play-abc"))

	records, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "sess-1", r.ID)
	assert.Equal(t, "play-abc", r.PlayID)
	assert.Equal(t, 1, r.SourceIndex)
	assert.True(t, r.CopyVideo)
	assert.False(t, r.CopyAudio)
	assert.Equal(t, "h264", r.VideoCodec)
	assert.Equal(t, "aac", r.AudioCodec)
	assert.Nil(t, r.ClosedAt)
}

func TestStoreRecordCloseStampsReasonAndTime(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RecordStart(testSession("sess-1"), "play-abc"))

	require.NoError(t, store.RecordClose("sess-1", "client_close"))

	records, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].ClosedAt)
	assert.Equal(t, "client_close", records[0].CloseReason)
}

func TestStoreListActiveOnlyExcludesClosed(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RecordStart(testSession("open"), "play-a"))
	require.NoError(t, store.RecordStart(testSession("closed"), "play-b"))
	require.NoError(t, store.RecordClose("closed", "idle_timeout"))

	active, err := store.List(ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "open", active[0].ID)

	all, err := store.List(ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoreRecordStartUpsertsOnSameID(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RecordStart(testSession("dup"), "play-first"))
	require.NoError(t, store.RecordStart(testSession("dup"), "play-second"))

	records, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "play-second", records[0].PlayID)
}

func TestStoreListLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		s := testSession(string(rune('a' + i)))
		s.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.RecordStart(s, "play"))
	}

	records, err := store.List(ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStorePruneOlderThan(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordStart(testSession("still-open"), "play"))
	require.NoError(t, store.RecordStart(testSession("recently-closed"), "play"))
	require.NoError(t, store.RecordClose("recently-closed", "client_close"))

	require.NoError(t, store.RecordStart(testSession("long-closed"), "play"))
	require.NoError(t, store.RecordClose("long-closed", "idle_timeout"))
	oldTime := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, store.db.Model(&Record{}).Where("id = ?", "long-closed").
		Update("closed_at", &oldTime).Error)

	n, err := store.PruneOlderThan(time.Now().Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := store.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.NotEqual(t, "long-closed", r.ID)
	}
}
