package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/services/auth"
	"github.com/tinymud/tinymud/internal/services/world"
)

// Config holds real-time channel settings
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the websocket server
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server owns the websocket endpoint and runs one session per connection
type Server struct {
	verifier   auth.Verifier
	world      *world.Service
	dispatcher *Dispatcher
	hubs       *HubManager
	logger     *slog.Logger
	cfg        Config
	upgrader   websocket.Upgrader
}

// NewServer creates the websocket server
func NewServer(verifier auth.Verifier, worldSvc *world.Service, dispatcher *Dispatcher, hubs *HubManager, cfg Config, logger *slog.Logger) *Server {
	return &Server{
		verifier:   verifier,
		world:      worldSvc,
		dispatcher: dispatcher,
		hubs:       hubs,
		logger:     logger.With(slog.String("component", "ws")),
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // TODO restrict once the client origin is fixed
			},
		},
	}
}

// HandleWS upgrades the connection and runs the session to completion
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sess := newSession(conn, s.logger)

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	// The first frame is the bare auth token, not a typed message.
	// Any failure here closes the connection without a typed error:
	// no protocol has been established yet.
	user, err := s.authenticate(r.Context(), conn)
	if err != nil {
		s.logger.Info("websocket auth failed", slog.Any("error", err))
		_ = conn.Close()
		return
	}
	sess.user = user
	sess.roles = user.Roles
	sess.setState(StateAuthenticated)

	go sess.writePump(s.cfg.PingInterval, s.cfg.WriteTimeout)
	defer s.teardown(sess)

	s.logger.Info("user connected", slog.String("user", user.Username))

	// Client configuration first, so it knows which features to render
	sess.Send(NewClientConfig(user.Roles))

	character, err := s.bindCharacter(sess, conn)
	if err != nil {
		s.logger.Info("session ended during character setup",
			slog.String("user", user.Username), slog.Any("error", err))
		return
	}
	sess.characterID = character.ID
	sess.setPlace(character.PlaceAddress)
	sess.setState(StateActive)

	s.dispatcher.Attach(sess)
	s.hubs.Subscribe(character.PlaceAddress, sess)

	// Initial full snapshot, then announce the arrival to everyone there
	sess.Send(NewUpdateCharacter(character))
	s.dispatcher.sendPlaceSnapshot(context.Background(), sess, character.PlaceAddress)
	s.dispatcher.broadcastPlace(context.Background(), character.PlaceAddress)

	// Steady state: one inbound message at a time, in arrival order
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("connection error", slog.String("user", user.Username), slog.Any("error", err))
			} else {
				s.logger.Info("user disconnected", slog.String("user", user.Username))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.dispatcher.Dispatch(sess, raw)
	}
}

// authenticate reads the token frame and resolves the user
func (s *Server) authenticate(ctx context.Context, conn sessionConn) (*model.User, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	userID, err := s.verifier.Verify(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	return s.world.GetUser(ctx, userID)
}

// bindCharacter finds the user's character or walks the client through
// creating one
func (s *Server) bindCharacter(sess *Session, conn sessionConn) (*model.Character, error) {
	ctx := context.Background()

	character, err := s.world.CharacterForUser(ctx, sess.user.ID)
	if err == nil {
		return character, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	sess.setState(StateCharacterPending)
	templates := s.world.Templates()
	sess.Send(NewCreateCharacter(templates))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Warn("malformed frame during character creation", slog.Any("error", err))
			continue
		}
		if env.Type != TypePickCharacterTemplate {
			s.logger.Warn("unexpected message during character creation",
				slog.String("type", env.Type))
			continue
		}

		var pick PickCharacterTemplate
		if err := json.Unmarshal(raw, &pick); err != nil {
			sess.Send(NewDisplayAlert("Malformed character choice."))
			continue
		}
		if pick.Selected < 0 || pick.Selected >= len(templates) {
			sess.Send(NewDisplayAlert("Pick one of the offered templates."))
			continue
		}

		character, err := s.world.CreateCharacter(ctx, sess.user.ID, pick.Name)
		if err != nil {
			if isDomainError(err) {
				sess.Send(NewDisplayAlert(err.Error()))
				continue
			}
			return nil, err
		}
		return character, nil
	}
}

// teardown unsubscribes and closes a session; no broadcast is
// attempted for it afterwards. Closing before unsubscribing, under
// moveMu, means a concurrent move either finishes first (and Place
// points at the new hub) or sees the closed state and backs off.
func (s *Server) teardown(sess *Session) {
	s.dispatcher.Detach(sess)
	sess.moveMu.Lock()
	sess.Close()
	s.hubs.Unsubscribe(sess.Place(), sess)
	sess.moveMu.Unlock()
	s.hubs.CleanupEmptyHubs()
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

func isDomainError(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrConflict) ||
		errors.Is(err, model.ErrValidation)
}
