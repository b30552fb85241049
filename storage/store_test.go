package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	var s, err = Open(":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOperationTimeoutApplied(t *testing.T) {
	var s, err = Open(":memory:", Options{TimeoutSeconds: 2})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Each attempt runs under its own deadline derived from the caller's
	// context.
	err = s.withRetry(context.Background(), "timeout_check", func(ctx context.Context) error {
		var deadline, ok = ctx.Deadline()
		require.True(t, ok)
		require.LessOrEqual(t, time.Until(deadline), 2*time.Second)
		return nil
	})
	require.NoError(t, err)
}

func TestAddChannelIdempotent(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	id1, err := s.AddChannel(ctx, "NewsChannel", "News")
	require.NoError(t, err)
	require.NotZero(t, id1)

	// Same handle again, different case: same id, no second row.
	id2, err := s.AddChannel(ctx, "newschannel", "News v2")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	got, err := s.GetChannelID(ctx, "NEWSCHANNEL")
	require.NoError(t, err)
	require.Equal(t, id1, got)

	channels, err := s.ListActiveChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
}

func TestGetChannelIDUnknown(t *testing.T) {
	var s = openTestStore(t)
	id, err := s.GetChannelID(context.Background(), "ghost")
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestSaveRawMessageFingerprint(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	chID, err := s.AddChannel(ctx, "src", "Source")
	require.NoError(t, err)

	id, inserted, err := s.SaveRawMessage(ctx, chID, 100, "первое сообщение", time.Now(), false)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotZero(t, id)

	// Duplicate fingerprint is reported, not an error.
	_, inserted, err = s.SaveRawMessage(ctx, chID, 100, "другой текст, тот же id", time.Now(), false)
	require.NoError(t, err)
	require.False(t, inserted)

	// Same external id in a different channel is a fresh fingerprint.
	chID2, err := s.AddChannel(ctx, "other", "Other")
	require.NoError(t, err)
	_, inserted, err = s.SaveRawMessage(ctx, chID2, 100, "текст", time.Now(), false)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestGetUnprocessedOrderAndWindow(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	chID, err := s.AddChannel(ctx, "src", "Source")
	require.NoError(t, err)

	var now = time.Now()
	_, _, err = s.SaveRawMessage(ctx, chID, 1, "старое", now.Add(-3*time.Hour), false)
	require.NoError(t, err)
	_, _, err = s.SaveRawMessage(ctx, chID, 2, "новое", now.Add(-time.Minute), false)
	require.NoError(t, err)
	_, _, err = s.SaveRawMessage(ctx, chID, 3, "за окном", now.Add(-48*time.Hour), false)
	require.NoError(t, err)

	msgs, err := s.GetUnprocessed(ctx, 24)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(2), msgs[0].ExternalID, "newest first")
	require.Equal(t, int64(1), msgs[1].ExternalID)
	require.Equal(t, "src", msgs[0].ChannelHandle)
}

func TestMarkProcessedBatch(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	chID, err := s.AddChannel(ctx, "src", "Source")
	require.NoError(t, err)

	var ids []int64
	for i := int64(0); i < 3; i++ {
		id, _, err := s.SaveRawMessage(ctx, chID, i, "текст сообщения", time.Now(), false)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var score = 8
	require.NoError(t, s.MarkProcessedBatch(ctx, []model.ProcessedUpdate{
		{MessageID: ids[0], LLMScore: &score, RejectionReason: model.ReasonPublished},
		{MessageID: ids[1], IsDuplicate: true, RejectionReason: model.ReasonDuplicate},
		{MessageID: ids[2], RejectionReason: model.ReasonRejectedByLLM},
	}))

	for _, id := range ids {
		m, err := s.GetMessage(ctx, id)
		require.NoError(t, err)
		require.True(t, m.Processed, "message %d", id)
	}
	m, err := s.GetMessage(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, m.LLMScore)
	require.Equal(t, 8, *m.LLMScore)
	m, err = s.GetMessage(ctx, ids[1])
	require.NoError(t, err)
	require.True(t, m.IsDuplicate)

	msgs, err := s.GetUnprocessed(ctx, 24)
	require.NoError(t, err)
	require.Empty(t, msgs, "processed messages never re-surface")
}

func TestPublishedRoundTrip(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	var vec = []float32{0.25, -1, 0.0078125, 42}
	id, err := s.SavePublished(ctx, "дайджест-пункт", vec, 0, 0)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetPublishedEmbeddings(ctx, 10000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].ID)
	// Exact equality: float32 in, float32 out, no lossy hop.
	require.Equal(t, vec, got[0].Embedding)
}

func TestSavePublishedRejectsEmptyEmbedding(t *testing.T) {
	var s = openTestStore(t)
	_, err := s.SavePublished(context.Background(), "текст", nil, 0, 0)
	require.Error(t, err)
}

func TestCleanup(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	chID, err := s.AddChannel(ctx, "src", "Source")
	require.NoError(t, err)

	oldID, _, err := s.SaveRawMessage(ctx, chID, 1, "старое обработанное", time.Now().AddDate(0, 0, -30), false)
	require.NoError(t, err)
	staleUnprocessedID, _, err := s.SaveRawMessage(ctx, chID, 2, "старое необработанное", time.Now().AddDate(0, 0, -30), false)
	require.NoError(t, err)
	freshID, _, err := s.SaveRawMessage(ctx, chID, 3, "свежее", time.Now(), false)
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessedBatch(ctx, []model.ProcessedUpdate{
		{MessageID: oldID, RejectionReason: model.ReasonRejectedByLLM},
	}))

	res, err := s.Cleanup(ctx, 14, 60)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RawRemoved)

	_, err = s.GetMessage(ctx, oldID)
	require.Error(t, err)
	_, err = s.GetMessage(ctx, staleUnprocessedID)
	require.NoError(t, err, "unprocessed rows survive cleanup")
	_, err = s.GetMessage(ctx, freshID)
	require.NoError(t, err)
}

func TestTodayStats(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	chID, err := s.AddChannel(ctx, "src", "Source")
	require.NoError(t, err)
	_, _, err = s.SaveRawMessage(ctx, chID, 1, "сегодняшнее", time.Now(), false)
	require.NoError(t, err)
	_, err = s.SavePublished(ctx, "пункт", []float32{1}, 0, 0)
	require.NoError(t, err)

	stats, err := s.GetTodayStats(ctx, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Ingested)
	require.Equal(t, 1, stats.Published)
}

// Batched marking must beat the equivalent sequence of single-row
// autocommit updates; each autocommit forces its own WAL sync.
func TestMarkProcessedBatchFasterThanSingles(t *testing.T) {
	var dir = t.TempDir()

	var setup = func(name string) (*Store, []int64) {
		s, err := Open(filepath.Join(dir, name), Options{})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		var ctx = context.Background()
		chID, err := s.AddChannel(ctx, "src", "Source")
		require.NoError(t, err)
		var ids = make([]int64, 0, 100)
		for i := int64(0); i < 100; i++ {
			id, _, err := s.SaveRawMessage(ctx, chID, i, "текст", time.Now(), false)
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return s, ids
	}

	var ctx = context.Background()

	sBatch, batchIDs := setup("batch.db")
	var updates = make([]model.ProcessedUpdate, len(batchIDs))
	for i, id := range batchIDs {
		updates[i] = model.ProcessedUpdate{MessageID: id, RejectionReason: model.ReasonRejectedByLLM}
	}
	var startBatch = time.Now()
	require.NoError(t, sBatch.MarkProcessedBatch(ctx, updates))
	var batchTook = time.Since(startBatch)

	sSingle, singleIDs := setup("single.db")
	var startSingle = time.Now()
	for _, id := range singleIDs {
		require.NoError(t, sSingle.MarkProcessedBatch(ctx, []model.ProcessedUpdate{
			{MessageID: id, RejectionReason: model.ReasonRejectedByLLM},
		}))
	}
	var singleTook = time.Since(startSingle)

	require.Less(t, batchTook.Seconds()*1.5, singleTook.Seconds(),
		"batch %v vs singles %v", batchTook, singleTook)
}
