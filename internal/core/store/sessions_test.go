package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func frozenClock() func() time.Time {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestChatSessionStoreSaveGet(t *testing.T) {
	sessions := NewChatSessionStore()

	_, ok := sessions.Get("did:plc:alice")
	require.False(t, ok)

	sessions.Save(ChatSession{DID: "did:plc:alice", Handle: "alice.test", AccessJWT: "a1", RefreshJWT: "r1"})

	rec, ok := sessions.Get("did:plc:alice")
	require.True(t, ok)
	require.Equal(t, "a1", rec.AccessJWT)
	require.False(t, rec.UpdatedAt.IsZero())

	// Save replaces the whole record.
	sessions.Save(ChatSession{DID: "did:plc:alice", AccessJWT: "a2"})
	rec, _ = sessions.Get("did:plc:alice")
	require.Equal(t, "a2", rec.AccessJWT)
	require.Empty(t, rec.RefreshJWT)
	require.Equal(t, 1, sessions.Len())
}

func TestChatSessionStoreUpdateWithoutRecordIsNoop(t *testing.T) {
	sessions := NewChatSessionStore()

	require.False(t, sessions.Update("did:plc:ghost", SessionUpdate{AccessJWT: "x"}))

	_, ok := sessions.Get("did:plc:ghost")
	require.False(t, ok)
	require.Zero(t, sessions.Len())
}

func TestChatSessionStoreUpdateMergesAndAdvancesTimestamp(t *testing.T) {
	sessions := NewChatSessionStore()
	sessions.Clock = frozenClock()

	sessions.Save(ChatSession{DID: "did:plc:alice", Handle: "alice.test", PDSEndpoint: "https://pds", AccessJWT: "a1", RefreshJWT: "r1"})
	before, _ := sessions.Get("did:plc:alice")

	require.True(t, sessions.Update("did:plc:alice", SessionUpdate{AccessJWT: "a2", RefreshJWT: "r2"}))
	after, _ := sessions.Get("did:plc:alice")

	require.Equal(t, "alice.test", after.Handle)
	require.Equal(t, "https://pds", after.PDSEndpoint)
	require.Equal(t, "a2", after.AccessJWT)
	require.Equal(t, "r2", after.RefreshJWT)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt), "updatedAt must strictly increase even with a frozen clock")

	require.True(t, sessions.Update("did:plc:alice", SessionUpdate{}))
	again, _ := sessions.Get("did:plc:alice")
	require.Equal(t, "a2", again.AccessJWT)
	require.True(t, again.UpdatedAt.After(after.UpdatedAt))
}

func TestChatSessionStoreRemoveAndList(t *testing.T) {
	sessions := NewChatSessionStore()
	sessions.Save(ChatSession{DID: "did:plc:b"})
	sessions.Save(ChatSession{DID: "did:plc:a"})

	list := sessions.List()
	require.Len(t, list, 2)
	require.Equal(t, "did:plc:a", list[0].DID)

	require.True(t, sessions.Remove("did:plc:a"))
	require.False(t, sessions.Remove("did:plc:a"))
	require.Len(t, sessions.List(), 1)
}

func TestChatSessionStoreSweepIdle(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sessions := NewChatSessionStore()
	sessions.Clock = func() time.Time { return now }

	sessions.Save(ChatSession{DID: "did:plc:stale"})
	now = now.Add(2 * time.Hour)
	sessions.Save(ChatSession{DID: "did:plc:fresh"})

	require.Zero(t, sessions.SweepIdle(now, 0))
	require.Equal(t, 1, sessions.SweepIdle(now, time.Hour))

	_, ok := sessions.Get("did:plc:stale")
	require.False(t, ok)
	_, ok = sessions.Get("did:plc:fresh")
	require.True(t, ok)
}

func TestChatSessionStoreConcurrentIdentities(t *testing.T) {
	sessions := NewChatSessionStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			did := fmt.Sprintf("did:plc:%02d", i)
			sessions.Save(ChatSession{DID: did, AccessJWT: "a"})
			for j := 0; j < 10; j++ {
				sessions.Update(did, SessionUpdate{AccessJWT: fmt.Sprintf("a%d", j)})
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 20, sessions.Len())
	for _, rec := range sessions.List() {
		require.Equal(t, "a9", rec.AccessJWT)
	}
}
