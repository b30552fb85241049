package llm

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

func testMessages(n int) []model.RawMessage {
	var out = make([]model.RawMessage, n)
	for i := range out {
		out[i] = model.RawMessage{
			ID:            int64(i + 1),
			ChannelID:     100,
			ChannelHandle: "newsfeed",
			ExternalID:    int64(1000 + i),
			Text:          fmt.Sprintf("новость номер %d", i+1),
		}
	}
	return out
}

func newTestSelector(complete completeFunc) (*selector, *[]time.Duration) {
	var slept []time.Duration
	var s = &selector{
		name:     "test",
		complete: complete,
		sleep:    func(d time.Duration) { slept = append(slept, d) },
	}
	return s, &slept
}

func TestSelectChunksAndCooldown(t *testing.T) {
	var calls int
	var s, slept = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		calls++
		require.Len(t, reqID, 8)
		return `{"general": []}`, nil
	})

	var _, err = s.selectByCategories(context.Background(), testMessages(5),
		map[string]int{"general": 5}, SelectOptions{ChunkSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	// One cooldown between each pair of calls, none before the first.
	require.Equal(t, []time.Duration{chunkCooldown, chunkCooldown}, *slept)
}

func TestSelectEnrichesFromSource(t *testing.T) {
	var s, _ = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		return `{"general": [{"id": 2, "title": "Т", "description": "Д", "score": 8, "reason": "р"}]}`, nil
	})

	var out, err = s.selectByCategories(context.Background(), testMessages(3),
		map[string]int{"general": 5}, SelectOptions{ChunkSize: 10})
	require.NoError(t, err)
	require.Len(t, out["general"], 1)

	var it = out["general"][0]
	require.Equal(t, "general", it.Category)
	require.Equal(t, int64(2), it.SourceMessageID)
	require.Equal(t, int64(100), it.SourceChannelID)
	require.Equal(t, "новость номер 2", it.Text)
	require.Equal(t, "https://t.me/newsfeed/1001", it.SourceLink)
}

func TestSelectDropsUnknownIDs(t *testing.T) {
	var s, _ = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		return `{"general": [{"id": 99, "title": "Т", "score": 8}]}`, nil
	})

	var out, err = s.selectByCategories(context.Background(), testMessages(3),
		map[string]int{"general": 5}, SelectOptions{ChunkSize: 10})
	require.NoError(t, err)
	require.Empty(t, out["general"])
}

func TestSelectDedupesAcrossChunks(t *testing.T) {
	var calls int
	var s, _ = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		calls++
		if calls == 1 {
			return `{"wb": [{"id": 1, "title": "Первый", "score": 9}]}`, nil
		}
		return `{"general": [{"id": 1, "title": "Повтор", "score": 5}, {"id": 3, "title": "Третий", "score": 6}]}`, nil
	})

	var out, err = s.selectByCategories(context.Background(), testMessages(4),
		map[string]int{"wb": 5, "general": 5}, SelectOptions{ChunkSize: 2})
	require.NoError(t, err)

	var seen = map[int64]int{}
	for _, items := range out {
		for _, it := range items {
			seen[it.SourceMessageID]++
		}
	}
	require.Equal(t, 1, seen[1], "same source picked twice must keep one copy")
	require.Equal(t, 1, seen[3])
}

func TestSelectInvalidChunkDegrades(t *testing.T) {
	var calls int
	var s, _ = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		calls++
		if calls == 1 {
			return "не буду отвечать в формате JSON", nil
		}
		return `{"general": [{"id": 3, "title": "Т", "score": 7}]}`, nil
	})

	var out, err = s.selectByCategories(context.Background(), testMessages(4),
		map[string]int{"general": 5}, SelectOptions{ChunkSize: 2})
	require.NoError(t, err)
	require.Len(t, out["general"], 1, "valid chunks still contribute")
	require.Equal(t, int64(3), out["general"][0].SourceMessageID)
}

func TestSelectProviderErrorAborts(t *testing.T) {
	var s, _ = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		return "", fmt.Errorf("boom")
	})

	var _, err = s.selectByCategories(context.Background(), testMessages(2),
		map[string]int{"general": 5}, SelectOptions{ChunkSize: 10})
	require.Error(t, err)
	require.Contains(t, err.Error(), "chunk 1/1")
}

func TestSelectEmptyInput(t *testing.T) {
	var s, _ = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		t.Fatal("no call expected for empty input")
		return "", nil
	})

	var out, err = s.selectByCategories(context.Background(), nil, map[string]int{"general": 5}, SelectOptions{})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSelectPromptCarriesMessages(t *testing.T) {
	var gotUser string
	var s, _ = newTestSelector(func(ctx context.Context, reqID, system, user string) (string, error) {
		gotUser = user
		return `{"general": []}`, nil
	})

	var _, err = s.selectByCategories(context.Background(), testMessages(2),
		map[string]int{"general": 3}, SelectOptions{
			ChunkSize:    10,
			RecentTopics: []string{"курс рубля"},
		})
	require.NoError(t, err)
	require.Contains(t, gotUser, "ID: 1")
	require.Contains(t, gotUser, "@newsfeed")
	require.Contains(t, gotUser, "курс рубля")
	require.False(t, strings.Contains(gotUser, SystemSplitMarker))
}
