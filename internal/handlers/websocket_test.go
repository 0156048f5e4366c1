package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/auth"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/handlers"
	httpx "github.com/SteamVC/SteamVC_Room/backend/call-server/internal/http"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/presence"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/repo"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/service"
)

type testServer struct {
	srv    *httptest.Server
	tokens *auth.TokenManager
	store  *repo.MemoryRoomRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repo.NewMemoryRoomRepo()
	coord := service.NewCoordinator(store, store, presence.NewMemoryRegistry(), presence.NewGroups(), 0)
	t.Cleanup(coord.Close)
	tokens := auth.NewTokenManager("test-secret", "call-server", time.Hour)

	router := httpx.NewRouter(
		handlers.NewRoomHandler(coord, tokens),
		handlers.NewWebSocketHandler(coord, service.NewLifecycle(coord), tokens, nil),
		httpx.Options{AllowDevTokens: true},
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, tokens: tokens, store: store}
}

func (s *testServer) token(t *testing.T, userId, name string) string {
	t.Helper()
	tok, err := s.tokens.Issue(models.User{UserId: userId, DisplayName: name})
	require.NoError(t, err)
	return tok
}

func (s *testServer) dial(t *testing.T, userId, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1/ws?token=" + s.token(t, userId, name)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "payload": payload}))
}

func expect(t *testing.T, conn *websocket.Conn, typ string, dst any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, typ, f.Type, "payload: %s", string(f.Payload))
	if dst != nil {
		require.NoError(t, json.Unmarshal(f.Payload, dst))
	}
}

func TestWebSocket_Unauthorized(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1/ws?token=garbage"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_BearerHeader(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1/ws"
	header := http.Header{"Authorization": []string{"Bearer " + s.token(t, "alice", "Alice")}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	send(t, conn, "ping", nil)
	expect(t, conn, models.EventPong, nil)
}

func TestWebSocket_ProtocolErrors(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "alice", "Alice")

	var p models.ErrorPayload
	send(t, conn, "Teleport", map[string]string{})
	expect(t, conn, models.EventHandleError, &p)
	assert.Equal(t, "Teleport", p.Op)
	assert.Equal(t, "invalid", p.Kind)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"JoinRoom","payload":"nope"}`)))
	expect(t, conn, models.EventHandleError, &p)
	assert.Equal(t, "JoinRoom", p.Op)

	// 操作のエラーもHandleErrorで返る
	send(t, conn, "CreateRoom", map[string]string{"name": "Standup"})
	expect(t, conn, models.EventHandleError, &p)
	assert.Equal(t, service.OpCreateRoom, p.Op)
	assert.Equal(t, "precondition", p.Kind)
}

func TestWebSocket_StandupScenario(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t, "alice", "Alice")
	bob := s.dial(t, "bob", "Bob")

	send(t, alice, "SetPeerId", map[string]string{"peerId": "peer-a"})
	send(t, alice, "CreateRoom", map[string]string{"name": "Standup"})
	var created models.RoomSnapshotPayload
	expect(t, alice, models.EventRoomCreated, &created)
	require.Len(t, created.Members, 1)
	assert.Equal(t, "peer-a", created.Members[0].PeerId)
	roomId := created.RoomId

	send(t, bob, "SetPeerId", map[string]string{"peerId": "peer-b"})
	send(t, bob, "JoinRoom", map[string]string{"roomId": roomId})
	var req models.JoinRequestPayload
	expect(t, alice, models.EventRequestJoinRoom, &req)
	assert.Equal(t, "bob", req.RequesterId)
	assert.Equal(t, "Bob", req.RequesterName)

	send(t, alice, "RespondToJoinRequest", map[string]any{"roomId": roomId, "requesterId": "bob", "accept": true})
	var joined models.PeerMember
	expect(t, alice, models.EventMemberJoined, &joined)
	assert.Equal(t, "peer-b", joined.PeerId)

	expect(t, bob, models.EventMemberJoined, nil)
	var accepted models.RoomSnapshotPayload
	expect(t, bob, models.EventJoinAccepted, &accepted)
	require.Len(t, accepted.Members, 2)
	bobMemberId := accepted.Members[1].MemberId
	assert.Equal(t, "bob", accepted.Members[1].UserId)

	send(t, bob, "SendMessageToRoom", map[string]any{
		"roomId":   roomId,
		"memberId": bobMemberId,
		"content":  "hi",
		"sentAt":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	var msg models.Message
	expect(t, alice, models.EventMessageSent, &msg)
	assert.Equal(t, "hi", msg.Content)
	expect(t, bob, models.EventMessageSent, nil)

	require.NoError(t, bob.Close())
	var left models.MemberLeftPayload
	expect(t, alice, models.EventMemberLeft, &left)
	assert.Equal(t, models.MemberLeftPayload{RoomId: roomId, UserId: "bob"}, left)
}
