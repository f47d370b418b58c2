package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/services/world"
)

// Dispatcher decodes inbound messages, authorizes them against the
// session's cached roles, runs the matching world operation and pushes
// resulting updates to the affected place's subscribers.
//
// Handlers run on the dispatcher's base context, not the connection's:
// a disconnect mid-operation aborts only the pending receive, never a
// persist already in flight.
type Dispatcher struct {
	world   *world.Service
	hubs    *HubManager
	logger  *slog.Logger
	baseCtx context.Context

	routes map[string]route

	mu       sync.RWMutex
	sessions map[model.CharacterID]*Session
}

type route struct {
	requiredRoles model.Roles
	handle        func(ctx context.Context, sess *Session, raw json.RawMessage) error
}

// NewDispatcher creates a dispatcher with its static routing table
func NewDispatcher(baseCtx context.Context, worldSvc *world.Service, hubs *HubManager, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		world:    worldSvc,
		hubs:     hubs,
		logger:   logger.With(slog.String("component", "dispatcher")),
		baseCtx:  baseCtx,
		sessions: make(map[model.CharacterID]*Session),
	}
	d.routes = map[string]route{
		TypeUsePassage:         {model.RolePlayer, d.handleUsePassage},
		TypeEditorTeleport:     {model.RoleEditor, d.handleEditorTeleport},
		TypeEditorPlaceEdit:    {model.RoleEditor, d.handleEditorPlaceEdit},
		TypeEditorPlaceCreate:  {model.RoleEditor, d.handleEditorPlaceCreate},
		TypeEditorPlaceDestroy: {model.RoleEditor, d.handleEditorPlaceDestroy},
	}
	return d
}

// Attach registers an active session for character-targeted pushes
func (d *Dispatcher) Attach(sess *Session) {
	d.mu.Lock()
	d.sessions[sess.CharacterID()] = sess
	d.mu.Unlock()
}

// Detach removes a session from the registry
func (d *Dispatcher) Detach(sess *Session) {
	d.mu.Lock()
	if d.sessions[sess.CharacterID()] == sess {
		delete(d.sessions, sess.CharacterID())
	}
	d.mu.Unlock()
}

func (d *Dispatcher) sessionFor(id model.CharacterID) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[id]
}

// Dispatch handles one inbound frame from an active session
func (d *Dispatcher) Dispatch(sess *Session, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Malformed frame; the client cannot correlate an alert to it,
		// so log and drop
		d.logger.Warn("malformed inbound frame", slog.Any("error", err))
		return
	}

	r, known := d.routes[env.Type]
	if !known {
		d.logger.Warn("unknown message type ignored", slog.String("type", env.Type))
		return
	}

	if !sess.Roles().Has(r.requiredRoles) {
		d.logger.Info("unauthorized message rejected",
			slog.String("type", env.Type),
			slog.String("user", string(sess.User().ID)))
		sess.Send(NewDisplayAlert("You are not allowed to do that."))
		return
	}

	if err := r.handle(d.baseCtx, sess, raw); err != nil {
		d.fail(sess, env.Type, err)
	}
}

// fail converts a handler error to client-visible behavior. Domain
// errors become alerts to the sender only; anything else is a store or
// internal failure, logged and surfaced as a generic alert.
func (d *Dispatcher) fail(sess *Session, msgType string, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrUnauthorized):
		sess.Send(NewDisplayAlert(err.Error()))
	default:
		d.logger.Error("message handling failed",
			slog.String("type", msgType),
			slog.Any("error", err))
		sess.Send(NewDisplayAlert("Something went wrong. Nothing was changed."))
	}
}

// Handlers

func (d *Dispatcher) handleUsePassage(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var msg UsePassage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.ErrInvalidAddress
	}

	moved, from, err := d.world.UsePassage(ctx, sess.CharacterID(), msg.Address)
	if err != nil {
		return err
	}
	d.afterMove(ctx, moved, from)
	return nil
}

func (d *Dispatcher) handleEditorTeleport(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var msg EditorTeleport
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.ErrInvalidAddress
	}

	moved, from, err := d.world.Teleport(ctx, msg.Character, msg.Address)
	if err != nil {
		return err
	}
	d.logger.Info("editor teleport",
		slog.String("editor", string(sess.User().ID)),
		slog.String("character", string(moved.ID)),
		slog.String("to", string(moved.PlaceAddress)))
	d.afterMove(ctx, moved, from)
	return nil
}

func (d *Dispatcher) handleEditorPlaceEdit(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var msg EditorPlaceEdit
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.ErrInvalidAddress
	}

	if _, err := d.world.EditPlace(ctx, msg.Address, msg.Title, msg.Header, msg.Passages); err != nil {
		return err
	}
	d.broadcastPlace(ctx, msg.Address)
	return nil
}

func (d *Dispatcher) handleEditorPlaceCreate(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var msg EditorPlaceCreate
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.ErrInvalidAddress
	}

	if _, err := d.world.CreatePlace(ctx, msg.Address); err != nil {
		return err
	}
	// Sessions can already be standing at the address (teleported in
	// before the place existed); give them the new snapshot
	d.broadcastPlace(ctx, msg.Address)
	return nil
}

func (d *Dispatcher) handleEditorPlaceDestroy(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var msg EditorPlaceDestroy
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.ErrInvalidAddress
	}

	if err := d.world.DestroyPlace(ctx, msg.Address); err != nil {
		return err
	}
	d.broadcastPlace(ctx, msg.Address)
	return nil
}

// Broadcast plumbing

// afterMove updates subscriptions and pushes snapshots after a
// character moved from one address to another
func (d *Dispatcher) afterMove(ctx context.Context, moved *model.Character, from model.Address) {
	to := moved.PlaceAddress

	// Resubscribe the moving character's session, if one is connected
	// (editor teleports can move characters nobody is playing). moveMu
	// keeps the resubscription atomic with respect to teardown: a
	// session closed mid-move is left unsubscribed.
	if sess := d.sessionFor(moved.ID); sess != nil {
		sess.moveMu.Lock()
		if sess.State() != StateClosed {
			d.hubs.Unsubscribe(from, sess)
			d.hubs.Subscribe(to, sess)
			sess.setPlace(to)
			sess.Send(NewUpdateCharacter(moved))
			d.sendPlaceSnapshot(ctx, sess, to)
		}
		sess.moveMu.Unlock()
	}

	// Departure and arrival are visible to everyone at both ends
	d.broadcastPlace(ctx, from)
	d.broadcastPlace(ctx, to)
}

// broadcastPlace pushes a fresh snapshot of the address to its hub
func (d *Dispatcher) broadcastPlace(ctx context.Context, addr model.Address) {
	hub := d.hubs.GetHub(addr)
	if hub == nil {
		return
	}
	msg, err := d.placeSnapshot(ctx, addr)
	if err != nil {
		d.logger.Error("place snapshot failed",
			slog.String("address", string(addr)),
			slog.Any("error", err))
		return
	}
	data, err := encodeMessage(msg)
	if err != nil {
		d.logger.Error("encode place snapshot", slog.Any("error", err))
		return
	}
	hub.Broadcast(data)
}

// sendPlaceSnapshot sends a fresh snapshot of the address to one session
func (d *Dispatcher) sendPlaceSnapshot(ctx context.Context, sess *Session, addr model.Address) {
	msg, err := d.placeSnapshot(ctx, addr)
	if err != nil {
		d.logger.Error("place snapshot failed",
			slog.String("address", string(addr)),
			slog.Any("error", err))
		return
	}
	sess.Send(msg)
}

// placeSnapshot builds the full UpdatePlace for an address. An address
// without a place behind it yields the minimal snapshot.
func (d *Dispatcher) placeSnapshot(ctx context.Context, addr model.Address) (*UpdatePlace, error) {
	place, err := d.world.GetPlace(ctx, addr)
	if errors.Is(err, model.ErrNotFound) {
		return NewUpdatePlaceMissing(addr), nil
	}
	if err != nil {
		return nil, err
	}
	characters, err := d.world.CharactersAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	return NewUpdatePlace(place, characters), nil
}
