package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.DB, *channel.Registry) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	registry := channel.NewRegistry()
	e := NewEngine("me", db, registry, bus.New(), nil)
	e.Start()
	t.Cleanup(e.Stop)
	return e, db, registry
}

func incoming(id string, sentAt int64) *chatsdk.Message {
	return &chatsdk.Message{
		ID: id, SenderID: "alice", SenderName: "Alice",
		ReceiverID: "me", ReceiverType: chatsdk.ReceiverUser,
		Kind: "text", Body: "hi " + id, Status: chatsdk.StatusSent, SentAt: sentAt,
	}
}

func TestEngineCachesIncomingMessage(t *testing.T) {
	_, db, registry := testEngine(t)

	registry.DispatchMessage(incoming("m1", 1000))

	msgs, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].MsgID)
	assert.False(t, msgs[0].FromMe)

	conv, err := db.GetConversation("alice")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "hi m1", conv.LastMessagePreview)
}

func TestEngineKeysDirectChatsByPeer(t *testing.T) {
	_, db, registry := testEngine(t)

	// A message echoed from another device of mine lands in the same
	// conversation as the replies coming back.
	registry.DispatchMessage(&chatsdk.Message{
		ID: "m1", SenderID: "me", ReceiverID: "alice",
		ReceiverType: chatsdk.ReceiverUser, Kind: "text", Body: "hey", SentAt: 1000,
	})
	registry.DispatchMessage(incoming("m2", 2000))

	msgs, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.True(t, msgs[1].FromMe)
}

func TestEngineGroupMessagesKeyByGroup(t *testing.T) {
	_, db, registry := testEngine(t)

	registry.DispatchMessage(&chatsdk.Message{
		ID: "g1", SenderID: "bob", ReceiverID: "team",
		ReceiverType: chatsdk.ReceiverGroup, Kind: "text", Body: "standup?", SentAt: 1000,
	})

	conv, err := db.GetConversation("team")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.True(t, conv.IsGroup)
}

func TestEngineDeleteTombstones(t *testing.T) {
	_, db, registry := testEngine(t)

	registry.DispatchMessage(incoming("m1", 1000))
	registry.DispatchMessageDeleted(&chatsdk.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "me",
		ReceiverType: chatsdk.ReceiverUser, DeletedAt: 2000,
	})

	msgs, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(2000), msgs[0].DeletedAt)
}

func TestEngineReceiptNeverDowngradesRead(t *testing.T) {
	_, db, registry := testEngine(t)

	registry.DispatchMessage(&chatsdk.Message{
		ID: "m1", SenderID: "me", ReceiverID: "alice",
		ReceiverType: chatsdk.ReceiverUser, Kind: "text", Body: "x",
		Status: chatsdk.StatusSent, SentAt: 1000,
	})

	registry.DispatchReceipt(&chatsdk.Receipt{MessageID: "m1", Kind: "read"})
	registry.DispatchReceipt(&chatsdk.Receipt{MessageID: "m1", Kind: "delivered"})

	msgs, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chatsdk.StatusRead, msgs[0].Status)
}

// pageClient serves canned history pages; the other client methods are
// never reached in these tests.
type pageClient struct {
	chatsdk.Client
	msgs []*chatsdk.Message
	err  error
}

func (c *pageClient) FetchPreviousMessages(context.Context, chatsdk.Page) ([]*chatsdk.Message, error) {
	return c.msgs, c.err
}

func TestWrappedClientCachesFetchedPages(t *testing.T) {
	e, db, _ := testEngine(t)

	wrapped := e.WrapClient(&pageClient{msgs: []*chatsdk.Message{
		incoming("m2", 2000), incoming("m1", 1000),
	}})

	msgs, err := wrapped.FetchPreviousMessages(context.Background(), chatsdk.Page{
		PeerID: "alice", ReceiverType: chatsdk.ReceiverUser, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	cached, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	assert.Len(t, cached, 2, "fetched history must land in the cache")
}

func TestWrappedClientPassesFetchErrorThrough(t *testing.T) {
	e, db, _ := testEngine(t)

	wrapped := e.WrapClient(&pageClient{err: errors.New("service down")})
	_, err := wrapped.FetchPreviousMessages(context.Background(), chatsdk.Page{PeerID: "alice"})
	require.Error(t, err)

	cached, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestIngestHistoryBatch(t *testing.T) {
	e, db, _ := testEngine(t)

	page := []*chatsdk.Message{incoming("m3", 3000), incoming("m2", 2000), incoming("m1", 1000)}
	require.NoError(t, e.IngestHistory("alice", page))
	// Replaying the same page is harmless.
	require.NoError(t, e.IngestHistory("alice", page))

	msgs, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}
