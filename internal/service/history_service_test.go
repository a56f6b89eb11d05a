package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbchat/internal/model"
)

func TestHistoryLoadUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	turns, err := env.history.Load(context.Background(), "https://nowhere.example.com", "ghost")
	require.NoError(t, err)
	require.NotNil(t, turns)
	require.Empty(t, turns)
}

func TestHistorySessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.history.Append(ctx, "https://a.example.com", "u1", model.ChatTurn{User: "a", Assistant: "1"}))
	require.NoError(t, env.history.Append(ctx, "https://b.example.com", "u1", model.ChatTurn{User: "b", Assistant: "2"}))
	require.NoError(t, env.history.Append(ctx, "https://a.example.com", "u2", model.ChatTurn{User: "c", Assistant: "3"}))

	turns, err := env.history.Load(ctx, "https://a.example.com", "u1")
	require.NoError(t, err)
	require.Equal(t, []model.ChatTurn{{User: "a", Assistant: "1"}}, turns)
}

func TestHistoryConcurrentAppends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, env.history.Append(ctx, "https://a.example.com", "u1",
				model.ChatTurn{User: fmt.Sprintf("q%d", i), Assistant: fmt.Sprintf("a%d", i)}))
		}()
	}
	wg.Wait()
	turns, err := env.history.Load(ctx, "https://a.example.com", "u1")
	require.NoError(t, err)
	require.Len(t, turns, n)
	seen := map[string]bool{}
	for _, turn := range turns {
		seen[turn.User] = true
	}
	require.Len(t, seen, n)
}

func TestLastTurns(t *testing.T) {
	turns := []model.ChatTurn{{User: "1"}, {User: "2"}, {User: "3"}}
	require.Equal(t, turns, lastTurns(turns, 5))
	require.Equal(t, []model.ChatTurn{{User: "2"}, {User: "3"}}, lastTurns(turns, 2))
	require.Equal(t, turns, lastTurns(turns, 0))
}

func TestChatServiceHistoryResolvesTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.history.Append(ctx, "https://github.com/acme/tool", "u1", model.ChatTurn{User: "hi", Assistant: "hello"}))

	turns, err := env.chat.History(ctx, &HistoryRequest{URL: "https://github.com/acme/tool.git/", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, []model.ChatTurn{{User: "hi", Assistant: "hello"}}, turns)

	_, err = env.chat.History(ctx, &HistoryRequest{URL: "https://github.com/acme/tool"})
	require.Error(t, err)
}
