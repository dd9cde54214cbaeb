package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/designer"
	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/interaction"
	"github.com/matthewbaird/schemacanvas/internal/layout"
	"github.com/matthewbaird/schemacanvas/internal/session"
	"github.com/matthewbaird/schemacanvas/internal/store"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

// outboxSize bounds the per-connection queue of server messages. When it
// fills up the connection falls back to a full snapshot.
const outboxSize = 256

// Handler manages WebSocket connections for designer sessions.
type Handler struct {
	sessions *session.Manager
	origins  []string
	logger   *zap.Logger
}

// NewHandler creates a WebSocket handler. origins lists the accepted
// Origin host patterns.
func NewHandler(sessions *session.Manager, origins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{sessions: sessions, origins: origins, logger: logger.Named("wire")}
}

// ServeHTTP upgrades to WebSocket and runs the message loop. The request
// names either an existing session (?session=) or a project to open
// (?project=). A session opened here ends with the connection, and the
// connection is closed with StatusGoingAway when its session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		sess  *session.Session
		owned bool
		err   error
	)
	if id := r.URL.Query().Get("session"); id != "" {
		sess, err = h.sessions.Get(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	} else {
		project := r.URL.Query().Get("project")
		if project == "" {
			http.Error(w, "project or session is required", http.StatusBadRequest)
			return
		}
		sess, err = h.sessions.Create(ctx, project)
		if err != nil {
			h.logger.Warn("open session", zap.String("project", project), zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		owned = true
	}
	if owned {
		defer h.sessions.Remove(sess.ID)
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &conn{
		ws:     ws,
		sess:   sess,
		out:    make(chan ServerMessage, outboxSize),
		kick:   make(chan struct{}, 1),
		logger: h.logger.With(zap.String("session", sess.ID)),
	}
	detach := sess.Events.Attach(c.notify)
	defer detach()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop(ctx)
	}()

	go func() {
		select {
		case <-sess.Done():
			c.logger.Info("session ended, closing connection")
			ws.Close(websocket.StatusGoingAway, "session closed")
		case <-ctx.Done():
		}
	}()

	c.send(ctx, ServerMessage{
		Type: TypeSession,
		Data: SessionData{SessionID: sess.ID, ProjectID: sess.ProjectID},
	})
	c.send(ctx, ServerMessage{Type: TypeSnapshot, Data: sess.Designer.Snapshot()})

	c.readLoop(ctx)
	cancel()
	<-done
}

type conn struct {
	ws     *websocket.Conn
	sess   *session.Session
	out    chan ServerMessage
	kick   chan struct{}
	dirty  atomic.Bool
	logger *zap.Logger
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("connection closed", zap.Int("status", int(status)))
			} else if ctx.Err() == nil {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		c.sess.Touch(time.Now())

		if msg.Type == TypePing {
			c.send(ctx, ServerMessage{Type: TypePong, RequestID: msg.ID})
			continue
		}
		if msg.Type == TypeLoad {
			if err := c.sess.Designer.Load(ctx); err != nil {
				c.sendError(ctx, msg.ID, "load_failed", err.Error())
				continue
			}
			c.send(ctx, ServerMessage{Type: TypeSnapshot, RequestID: msg.ID, Data: c.sess.Designer.Snapshot()})
			continue
		}

		result, err := Dispatch(c.sess.Designer, msg)
		if err != nil {
			c.sendError(ctx, msg.ID, errorCode(err), err.Error())
			continue
		}
		c.send(ctx, ServerMessage{Type: TypeAck, RequestID: msg.ID, Data: result})
	}
}

// writeLoop is the only writer on the socket.
func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			c.write(ctx, msg)
		case <-c.kick:
			if c.dirty.Swap(false) {
				c.write(ctx, ServerMessage{Type: TypeSnapshot, Data: c.sess.Designer.Snapshot()})
			}
		}
	}
}

func (c *conn) write(ctx context.Context, msg ServerMessage) {
	if err := wsjson.Write(ctx, c.ws, msg); err != nil && ctx.Err() == nil {
		c.logger.Warn("write failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

// notify runs inside the designer; it must not block.
func (c *conn) notify(evt event.CanvasEvent) {
	switch evt.EventType {
	case event.PositionChanged:
		c.push(ServerMessage{Type: TypePosition, Data: evt.Payload})
	case event.InteractionChanged:
		c.push(ServerMessage{Type: TypeState, Data: evt.Payload})
	case event.SyncFailed:
		c.push(ServerMessage{Type: TypeSyncError, Data: evt.Payload})
		c.markDirty()
	case event.PositionCommitted, event.SyncSucceeded:
	default:
		c.markDirty()
	}
}

func (c *conn) push(msg ServerMessage) {
	select {
	case c.out <- msg:
	default:
		c.logger.Warn("outbox full, resyncing", zap.String("type", msg.Type))
		c.markDirty()
	}
}

func (c *conn) markDirty() {
	c.dirty.Store(true)
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *conn) send(ctx context.Context, msg ServerMessage) {
	select {
	case c.out <- msg:
	case <-ctx.Done():
	}
}

func (c *conn) sendError(ctx context.Context, requestID, code, message string) {
	c.send(ctx, ServerMessage{
		Type:      TypeError,
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}

// ── Dispatch ────────────────────────────────────────────────────────────────

// errBadData marks a payload that does not decode.
var errBadData = errors.New("invalid message data")

// ErrUnknownType is returned for unrecognised client message types.
var ErrUnknownType = errors.New("unknown message type")

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errBadData
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errBadData, err)
	}
	return v, nil
}

// Dispatch applies one client message to d and returns the acknowledgement
// payload.
func Dispatch(d *designer.Designer, msg ClientMessage) (any, error) {
	switch msg.Type {
	case TypeAddModel:
		in, err := decode[types.ModelInput](msg.Data)
		if err != nil {
			return nil, err
		}
		return d.AddModel(in)
	case TypeRenameModel:
		in, err := decode[RenameModelData](msg.Data)
		if err != nil {
			return nil, err
		}
		return d.RenameModel(in.ModelID, in.Name)
	case TypeUpdateModel:
		in, err := decode[UpdateModelData](msg.Data)
		if err != nil {
			return nil, err
		}
		return d.UpdateModel(in.ModelID, in.Patch)
	case TypeDeleteModel:
		in, err := decode[TargetData](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, d.DeleteModel(in.ModelID)
	case TypeAddField:
		in, err := decode[AddFieldData](msg.Data)
		if err != nil {
			return nil, err
		}
		return d.AddField(in.ModelID, in.Field)
	case TypeUpdateField:
		in, err := decode[UpdateFieldData](msg.Data)
		if err != nil {
			return nil, err
		}
		return d.UpdateField(in.ModelID, in.FieldID, in.Patch)
	case TypeDeleteField:
		in, err := decode[TargetData](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, d.DeleteField(in.ModelID, in.FieldID)
	case TypeDeleteRelationship:
		in, err := decode[TargetData](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, d.DeleteRelationship(in.RelationshipID)

	case TypeOpenPicker:
		return state(d, d.OpenPicker())
	case TypeClosePicker:
		return state(d, d.ClosePicker())
	case TypeChooseType:
		in, err := decode[ChooseTypeData](msg.Data)
		if err != nil {
			return nil, err
		}
		return state(d, d.ChooseType(in.Type))
	case TypeFieldClick:
		ref, err := decode[types.FieldRef](msg.Data)
		if err != nil {
			return nil, err
		}
		return state(d, d.ClickField(ref))
	case TypeCanvasClick:
		return state(d, d.ClickCanvas())
	case TypeSelectModel:
		in, err := decode[TargetData](msg.Data)
		if err != nil {
			return nil, err
		}
		return state(d, d.SelectModel(in.ModelID))
	case TypeSelectRelationship:
		in, err := decode[TargetData](msg.Data)
		if err != nil {
			return nil, err
		}
		return state(d, d.SelectRelationship(in.RelationshipID))
	case TypeRequestDelete:
		return state(d, d.RequestDelete())
	case TypeConfirmDelete:
		return state(d, d.ConfirmDelete())
	case TypeCancelDelete:
		return state(d, d.CancelDelete())
	case TypeKey:
		in, err := decode[KeyData](msg.Data)
		if err != nil {
			return nil, err
		}
		return state(d, d.PressKey(in.Key, in.InputFocused))

	case TypePointerDown:
		in, err := decode[PointerData](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, d.PointerDown(in.ModelID, types.Point{X: in.X, Y: in.Y})
	case TypePointerMove:
		in, err := decode[PointerData](msg.Data)
		if err != nil {
			return nil, err
		}
		return nil, d.PointerMove(types.Point{X: in.X, Y: in.Y})
	case TypePointerUp:
		return nil, d.PointerUp()
	case TypeZoom:
		in, err := decode[ZoomData](msg.Data)
		if err != nil {
			return nil, err
		}
		switch in.Action {
		case "in":
			return ZoomResult{Zoom: d.ZoomIn()}, nil
		case "out":
			return ZoomResult{Zoom: d.ZoomOut()}, nil
		case "set":
			return ZoomResult{Zoom: d.SetZoom(in.Value)}, nil
		}
		return nil, fmt.Errorf("%w: zoom action %q", errBadData, in.Action)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
}

func state(d *designer.Designer, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return d.State(), nil
}

// errorCode maps an error onto the code sent to the canvas.
func errorCode(err error) string {
	var ve *store.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Kind
	case errors.Is(err, errBadData):
		return "invalid_data"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, designer.ErrClosed):
		return "session_closed"
	case errors.Is(err, store.ErrModelNotFound),
		errors.Is(err, store.ErrFieldNotFound),
		errors.Is(err, store.ErrRelationshipNotFound):
		return "not_found"
	case errors.Is(err, store.ErrDuplicateRelationship):
		return "duplicate_relationship"
	case errors.Is(err, interaction.ErrInvalidTransition),
		errors.Is(err, interaction.ErrInvalidType):
		return "invalid_transition"
	case errors.Is(err, layout.ErrOutsideHeader),
		errors.Is(err, layout.ErrDragInProgress),
		errors.Is(err, layout.ErrUnknownModel):
		return "invalid_pointer"
	}
	return "invalid_request"
}
