package sqlitestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternelee/forge-agent/chat"
	"github.com/sternelee/forge-agent/persistence"
)

const testSession = "session-1"

func TestSQLiteStoreBasics(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	record := persistence.Record{
		Role:         chat.UserRole,
		Contents:     []chat.Content{{Text: "Test message"}},
		Live:         true,
		Status:       persistence.RecordStatusSuccess,
		InputTokens:  7,
		OutputTokens: 3,
		Timestamp:    time.Now(),
	}

	id, err := store.AddRecord(testSession, record)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	records, err := store.GetAllRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "Test message", records[0].GetText())
	assert.Equal(t, chat.UserRole, records[0].Role)
	assert.True(t, records[0].Live)

	liveRecords, err := store.GetLiveRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, liveRecords, 1)
}

func TestSQLiteStoreRoundTripsToolCallsAndResults(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	record := persistence.Record{
		Role: chat.AssistantRole,
		Contents: []chat.Content{
			{Text: "running it"},
			{ToolCall: &chat.ToolCall{ID: "call_1", Name: "shell", Arguments: []byte(`{"cmd":"ls"}`)}},
		},
		Live:      true,
		Status:    persistence.RecordStatusSuccess,
		Timestamp: time.Now(),
	}
	id, err := store.AddRecord(testSession, record)
	require.NoError(t, err)

	toolResult := persistence.Record{
		Role:      chat.ToolRole,
		Contents:  []chat.Content{{ToolResult: &chat.ToolResult{ToolCallID: "call_1", Content: "file.txt"}}},
		Live:      true,
		Status:    persistence.RecordStatusSuccess,
		Timestamp: time.Now(),
	}
	_, err = store.AddRecord(testSession, toolResult)
	require.NoError(t, err)

	records, err := store.GetAllRecords(testSession)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assistant := records[0]
	assert.Equal(t, id, assistant.ID)
	require.Len(t, assistant.GetToolCalls(), 1)
	assert.Equal(t, "shell", assistant.GetToolCalls()[0].Name)

	tool := records[1]
	require.True(t, tool.HasToolResults())
	require.Len(t, tool.GetToolResults(), 1)
	assert.Equal(t, "file.txt", tool.GetToolResults()[0].Content)
}

func TestSQLiteStoreUpdateRecord(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	record := persistence.Record{
		Role:         chat.UserRole,
		Contents:     []chat.Content{{Text: "Original"}},
		Live:         true,
		Status:       persistence.RecordStatusSuccess,
		InputTokens:  3,
		OutputTokens: 2,
		Timestamp:    time.Now(),
	}

	id, err := store.AddRecord(testSession, record)
	require.NoError(t, err)

	record.Contents = []chat.Content{{Text: "Updated"}}
	record.InputTokens = 5
	record.OutputTokens = 2
	err = store.UpdateRecord(testSession, id, record)
	require.NoError(t, err)

	records, err := store.GetAllRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "Updated", records[0].GetText())
	assert.Equal(t, 5, records[0].InputTokens)
	assert.Equal(t, 2, records[0].OutputTokens)
}

func TestSQLiteStoreMarkLiveDead(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	var firstID int64
	for i := 0; i < 3; i++ {
		record := persistence.Record{
			Role:         chat.UserRole,
			Contents:     []chat.Content{{Text: "Message"}},
			Live:         true,
			Status:       persistence.RecordStatusSuccess,
			InputTokens:  6,
			OutputTokens: 4,
			Timestamp:    time.Now(),
		}
		id, err := store.AddRecord(testSession, record)
		require.NoError(t, err)
		if i == 0 {
			firstID = id
		}
	}

	err = store.MarkRecordDead(testSession, firstID)
	require.NoError(t, err)

	liveRecords, err := store.GetLiveRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, liveRecords, 2)

	allRecords, err := store.GetAllRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, allRecords, 3)
	assert.False(t, allRecords[0].Live)
	assert.True(t, allRecords[1].Live)
	assert.True(t, allRecords[2].Live)

	err = store.MarkRecordLive(testSession, firstID)
	require.NoError(t, err)

	liveRecords, err = store.GetLiveRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, liveRecords, 3)
}

func TestSQLiteStoreDelete(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	var ids []int64
	for i := 0; i < 3; i++ {
		record := persistence.Record{
			Role:         chat.UserRole,
			Contents:     []chat.Content{{Text: "Message"}},
			Live:         true,
			Status:       persistence.RecordStatusSuccess,
			InputTokens:  6,
			OutputTokens: 4,
			Timestamp:    time.Now(),
		}
		id, err := store.AddRecord(testSession, record)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	err = store.DeleteRecord(testSession, ids[1])
	require.NoError(t, err)

	records, err := store.GetAllRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, ids[0], records[0].ID)
	assert.Equal(t, ids[2], records[1].ID)
}

func TestSQLiteStoreClear(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		record := persistence.Record{
			Role:         chat.UserRole,
			Contents:     []chat.Content{{Text: "Message"}},
			Live:         true,
			Status:       persistence.RecordStatusSuccess,
			InputTokens:  6,
			OutputTokens: 4,
			Timestamp:    time.Now(),
		}
		_, err := store.AddRecord(testSession, record)
		require.NoError(t, err)
	}

	err = store.Clear(testSession)
	require.NoError(t, err)

	records, err := store.GetAllRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, records, 0)
}

func TestSQLiteStoreMetrics(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	metrics := persistence.SessionMetrics{
		CompactionCount:     5,
		LastCompaction:      time.Now(),
		CumulativeTokens:    1000,
		CompactionThreshold: 0.75,
	}

	err = store.SaveMetrics(testSession, metrics)
	require.NoError(t, err)

	loaded, err := store.LoadMetrics(testSession)
	require.NoError(t, err)

	assert.Equal(t, metrics.CompactionCount, loaded.CompactionCount)
	assert.Equal(t, metrics.CumulativeTokens, loaded.CumulativeTokens)
	assert.Equal(t, metrics.CompactionThreshold, loaded.CompactionThreshold)
	assert.WithinDuration(t, metrics.LastCompaction, loaded.LastCompaction, time.Second)
}

func TestSQLiteStorePersistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store1, err := New(dbPath)
	require.NoError(t, err)

	record := persistence.Record{
		Role:         chat.AssistantRole,
		Contents:     []chat.Content{{Text: "Persisted message"}},
		Live:         true,
		Status:       persistence.RecordStatusSuccess,
		InputTokens:  9,
		OutputTokens: 6,
		Timestamp:    time.Now(),
	}

	id, err := store1.AddRecord(testSession, record)
	require.NoError(t, err)

	metrics := persistence.SessionMetrics{
		CompactionCount:  3,
		CumulativeTokens: 500,
	}
	err = store1.SaveMetrics(testSession, metrics)
	require.NoError(t, err)

	store1.Close()

	store2, err := New(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	records, err := store2.GetAllRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "Persisted message", records[0].GetText())
	assert.Equal(t, id, records[0].ID)

	loadedMetrics, err := store2.LoadMetrics(testSession)
	require.NoError(t, err)
	assert.Equal(t, 3, loadedMetrics.CompactionCount)
	assert.Equal(t, 500, loadedMetrics.CumulativeTokens)
}

func TestSQLiteStoreSessionsAreIsolated(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.AddRecord("session-a", persistence.Record{
		Role: chat.UserRole, Contents: []chat.Content{{Text: "a"}}, Live: true,
		Status: persistence.RecordStatusSuccess, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	_, err = store.AddRecord("session-b", persistence.Record{
		Role: chat.UserRole, Contents: []chat.Content{{Text: "b"}}, Live: true,
		Status: persistence.RecordStatusSuccess, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	recordsA, err := store.GetAllRecords("session-a")
	require.NoError(t, err)
	assert.Len(t, recordsA, 1)
	assert.Equal(t, "a", recordsA[0].GetText())

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session-a", "session-b"}, sessions)

	err = store.DeleteSession("session-a")
	require.NoError(t, err)
	recordsA, err = store.GetAllRecords("session-a")
	require.NoError(t, err)
	assert.Len(t, recordsA, 0)

	recordsB, err := store.GetAllRecords("session-b")
	require.NoError(t, err)
	assert.Len(t, recordsB, 1)
}

func TestSQLiteStoreOrdering(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	baseTime := time.Now()
	times := []time.Duration{
		3 * time.Second,
		1 * time.Second,
		2 * time.Second,
	}

	for i, duration := range times {
		record := persistence.Record{
			Role:         chat.UserRole,
			Contents:     []chat.Content{{Text: string(rune('A' + i))}},
			Live:         true,
			Status:       persistence.RecordStatusSuccess,
			InputTokens:  6,
			OutputTokens: 4,
			Timestamp:    baseTime.Add(duration),
		}
		_, err := store.AddRecord(testSession, record)
		require.NoError(t, err)
	}

	records, err := store.GetAllRecords(testSession)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, "B", records[0].GetText()) // 1 second
	assert.Equal(t, "C", records[1].GetText()) // 2 seconds
	assert.Equal(t, "A", records[2].GetText()) // 3 seconds
}

func TestSQLiteStoreFileCreation(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "new.db")

	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))

	store, err := New(dbPath)
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSQLiteStoreWorkspaceRegistration(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	rec := persistence.WorkspaceRecord{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Path:        "/home/user/project",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.UpsertWorkspace(rec))

	found, ok, err := store.FindWorkspace("user-1", "/home/user/project")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ws-1", found.WorkspaceID)

	nested, ok, err := store.FindWorkspaceByPathPrefix("user-1", "/home/user/project/sub/dir")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ws-1", nested.WorkspaceID)

	require.NoError(t, store.DeleteWorkspace("ws-1"))
	_, ok, err = store.FindWorkspace("user-1", "/home/user/project")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStoreFindWorkspaceAnyUserIgnoresOwner(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	require.NoError(t, store.UpsertWorkspace(persistence.WorkspaceRecord{
		WorkspaceID: "ws-2",
		UserID:      "user-2",
		Path:        "/home/other/project",
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	// A different user querying the same path still finds the record,
	// unlike FindWorkspace which is scoped to the caller's user ID.
	_, ok, err := store.FindWorkspace("user-1", "/home/other/project")
	require.NoError(t, err)
	assert.False(t, ok)

	found, ok, err := store.FindWorkspaceByPathAnyUser("/home/other/project")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ws-2", found.WorkspaceID)
	assert.Equal(t, "user-2", found.UserID)

	nested, ok, err := store.FindWorkspaceByPathPrefixAnyUser("/home/other/project/src/main.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ws-2", nested.WorkspaceID)

	_, ok, err = store.FindWorkspaceByPathPrefixAnyUser("/home/unrelated/path")
	require.NoError(t, err)
	assert.False(t, ok)
}
