package e2e

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/tinymud/tinymud/internal/api"
	"github.com/tinymud/tinymud/internal/factory"
	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/testutil"
)

// E2ESuite drives the server over a real websocket connection
type E2ESuite struct {
	suite.Suite
	app    *factory.TestApp
	server *httptest.Server
	cancel context.CancelFunc
	ctx    context.Context
}

func TestE2ESuite(t *testing.T) {
	suite.Run(t, new(E2ESuite))
}

func (s *E2ESuite) SetupTest() {
	baseCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ctx = baseCtx

	s.app = factory.NewTestApp(baseCtx)
	s.Require().NoError(s.app.Bootstrap(baseCtx))

	router := api.NewRouter(api.RouterConfig{
		Logger:   testutil.NopLogger(),
		WSServer: s.app.WSServer,
	})
	s.server = httptest.NewServer(router)
}

func (s *E2ESuite) TearDownTest() {
	s.server.Close()
	s.cancel()
}

// registerUser creates a user and a token the stub verifier accepts
func (s *E2ESuite) registerUser(username string) (*model.User, string) {
	user, err := s.app.WorldService.CreateUser(s.ctx, username, "hash")
	s.Require().NoError(err)
	token := "token-" + username
	s.app.StubVerifier.Tokens[token] = user.ID
	return user, token
}

func (s *E2ESuite) dial() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *E2ESuite) read(conn *websocket.Conn) map[string]any {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, data, err := conn.ReadMessage()
	s.Require().NoError(err)
	var msg map[string]any
	s.Require().NoError(json.Unmarshal(data, &msg))
	return msg
}

// readUntil drains frames until one matches the type
func (s *E2ESuite) readUntil(conn *websocket.Conn, msgType string) map[string]any {
	for i := 0; i < 20; i++ {
		msg := s.read(conn)
		if msg["type"] == msgType {
			return msg
		}
	}
	s.Require().FailNowf("message never arrived", "wanted type %s", msgType)
	return nil
}

func (s *E2ESuite) send(conn *websocket.Conn, frame string) {
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// connectAndPlay runs the handshake through character creation and the
// initial snapshot, returning a ready-to-play connection
func (s *E2ESuite) connectAndPlay(username, name string) *websocket.Conn {
	_, token := s.registerUser(username)
	conn := s.dial()

	s.send(conn, token)
	s.readUntil(conn, "ClientConfig")
	s.readUntil(conn, "CreateCharacter")
	s.send(conn, `{"type":"PickCharacterTemplate","name":"`+name+`","selected":0}`)
	s.readUntil(conn, "UpdateCharacter")
	s.readUntil(conn, "UpdatePlace")
	return conn
}

func (s *E2ESuite) TestBadTokenClosesConnection() {
	conn := s.dial()
	s.send(conn, "garbage-token")

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, _, err := conn.ReadMessage()
	s.Error(err, "connection should be closed without a typed error")
}

func (s *E2ESuite) TestFullSessionLifecycle() {
	_, token := s.registerUser("alice")
	conn := s.dial()

	// Handshake: bare token, then client configuration
	s.send(conn, token)
	cfg := s.readUntil(conn, "ClientConfig")
	s.Equal(float64(model.RolesAll), cfg["roles"], "first user holds every role")

	// No character yet: the server offers creation
	offer := s.readUntil(conn, "CreateCharacter")
	options := offer["options"].([]any)
	s.NotEmpty(options)

	s.send(conn, `{"type":"PickCharacterTemplate","name":"Alice","selected":0}`)

	charMsg := s.readUntil(conn, "UpdateCharacter")
	s.Equal("Alice", charMsg["character"].(map[string]any)["name"])

	placeMsg := s.readUntil(conn, "UpdatePlace")
	s.Equal(string(s.app.WorldService.StartAddress()), placeMsg["address"])
}

func (s *E2ESuite) TestReconnectSkipsCharacterCreation() {
	conn := s.connectAndPlay("alice", "Alice")
	s.Require().NoError(conn.Close())

	// Same user reconnects; the character persists
	token := "token-alice"
	conn2 := s.dial()
	s.send(conn2, token)
	s.readUntil(conn2, "ClientConfig")

	charMsg := s.readUntil(conn2, "UpdateCharacter")
	s.Equal("Alice", charMsg["character"].(map[string]any)["name"])
}

func (s *E2ESuite) TestMovementVisibleToOtherPlayers() {
	start := s.app.WorldService.StartAddress()

	// Build a garden reachable from the start place
	_, err := s.app.WorldService.CreatePlace(s.ctx, "garden")
	s.Require().NoError(err)
	_, err = s.app.WorldService.EditPlace(s.ctx, start, "Start", "",
		[]model.Passage{{TargetAddress: "garden", Name: "a gate"}})
	s.Require().NoError(err)

	alice := s.connectAndPlay("alice", "Alice")
	bob := s.connectAndPlay("bob", "Bob")

	// Alice walks through the gate
	s.send(alice, `{"type":"UsePassage","address":"garden"}`)

	moved := s.readUntil(alice, "UpdatePlace")
	for moved["address"] != "garden" {
		moved = s.readUntil(alice, "UpdatePlace")
	}

	// Bob, still at the start, eventually sees a snapshot without Alice
	for i := 0; i < 20; i++ {
		departure := s.readUntil(bob, "UpdatePlace")
		s.Equal(string(start), departure["address"])
		if !snapshotContains(departure, "Alice") {
			return
		}
	}
	s.Require().FailNow("Alice never left Bob's view of the start place")
}

func snapshotContains(msg map[string]any, name string) bool {
	characters, _ := msg["characters"].([]any)
	for _, c := range characters {
		if obj, ok := c.(map[string]any); ok && obj["name"] == name {
			return true
		}
	}
	return false
}

func (s *E2ESuite) TestPlayerCannotUseEditorMessages() {
	s.connectAndPlay("alice", "Alice") // first user becomes the editor
	bob := s.connectAndPlay("bob", "Bob")

	s.send(bob, `{"type":"EditorPlaceCreate","address":"bobs.lair"}`)

	alert := s.readUntil(bob, "DisplayAlert")
	s.NotEmpty(alert["alert"])

	_, err := s.app.WorldService.GetPlace(s.ctx, "bobs.lair")
	s.ErrorIs(err, model.ErrPlaceNotFound)
}

func (s *E2ESuite) TestEditorEditsArePushedToOccupants() {
	alice := s.connectAndPlay("alice", "Alice")
	start := s.app.WorldService.StartAddress()

	s.send(alice, `{"type":"EditorPlaceEdit","address":"`+string(start)+
		`","title":"Renovated","header":"# new","passages":[]}`)

	msg := s.readUntil(alice, "UpdatePlace")
	for msg["title"] != "Renovated" {
		msg = s.readUntil(alice, "UpdatePlace")
	}
	s.Equal("# new", msg["header"])
}
