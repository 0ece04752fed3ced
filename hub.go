package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	minCommentRunes = 15
	maxCommentRunes = 200

	connEventBuffer    = 64
	defaultAuthTimeout = 10 * time.Second
)

const (
	reasonMissingCredential = "missing_credential"
	reasonInvalidCredential = "invalid_credential"
	reasonMissingRoom       = "missing_room"
	reasonBodyLength        = "body_length"
	reasonNotJoined         = "not_joined"
	reasonStore             = "store_failure"
	reasonUnsupported       = "unsupported_event"
)

var errMissingRoom = errors.New("missing room id")

type connState int

const (
	stateConnecting connState = iota
	stateJoined
	stateClosed
)

// hub owns every live connection: it authenticates new arrivals, places them
// in their issue room, persists posted comments and fans them out to the
// rest of the room.
type hub struct {
	auth        authenticator
	store       commentStore
	rooms       *roomRegistry
	logger      *slog.Logger
	authTimeout time.Duration
}

func newHub(auth authenticator, store commentStore, logger *slog.Logger) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &hub{
		auth:        auth,
		store:       store,
		rooms:       newRoomRegistry(),
		logger:      logger,
		authTimeout: defaultAuthTimeout,
	}
}

// conn is one client's live session, scoped to a single issue room for its
// lifetime. A closed conn is never reused; a reconnecting client gets a new
// one.
type conn struct {
	id       string
	roomID   string
	identity identity
	hub      *hub

	events chan event

	mu          sync.Mutex
	state       connState
	livePending []comment
	backlogSent bool

	// lastDeliveredID is the highest comment id this connection has seen,
	// via backlog or live delivery. Live comments at or below it are
	// dropped as already covered.
	lastDeliveredID int64

	closeOnce sync.Once
}

// connect runs the connection handshake: authenticate within the auth
// timeout, join the issue room, deliver the backlog. On any error no room
// membership is left behind and the caller must tear down the transport.
func (h *hub) connect(ctx context.Context, credential, roomID string, client clientContext) (*conn, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, errMissingRoom
	}

	authCtx, cancel := context.WithTimeout(ctx, h.authTimeout)
	defer cancel()

	ident, err := h.auth.authenticate(authCtx, credential, client)
	if err != nil {
		return nil, err
	}

	c := &conn{
		id:       uuid.NewString(),
		roomID:   roomID,
		identity: ident,
		hub:      h,
		events:   make(chan event, connEventBuffer),
		state:    stateConnecting,
	}

	// Join before reading the backlog: every comment committed after this
	// point reaches the connection live, and anything the read races with
	// is deduplicated against the snapshot in finishJoin.
	h.rooms.join(roomID, c)

	backlog, err := h.store.readAll(ctx, roomID)
	if err != nil {
		h.logger.Warn("read backlog", "issue", roomID, "conn", c.id, "error", err)
	}
	c.finishJoin(backlog, err == nil)

	h.logger.Info("joined", "issue", roomID, "conn", c.id, "user", ident.userID)
	return c, nil
}

// authErrorReason maps a rejected handshake to its wire reason code.
func authErrorReason(err error) string {
	switch {
	case errors.Is(err, errMissingCredential):
		return reasonMissingCredential
	case errors.Is(err, errMissingRoom):
		return reasonMissingRoom
	default:
		return reasonInvalidCredential
	}
}

// finishJoin moves the connection to joined, emits the backlog and flushes
// live comments that arrived while the backlog read was in flight. Buffered
// comments already covered by the snapshot are dropped, so the client sees
// the backlog first and every later comment exactly once.
func (c *conn) finishJoin(backlog []comment, readOK bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return
	}
	c.state = stateJoined
	c.backlogSent = true

	pending := c.livePending
	c.livePending = nil

	if !readOK {
		c.deliverLocked(backlogErrorEvent{reason: reasonStore})
		for _, cm := range pending {
			if cm.ID > c.lastDeliveredID {
				c.lastDeliveredID = cm.ID
			}
			c.deliverLocked(commentEvent{comment: cm})
		}
		return
	}

	c.deliverLocked(backlogEvent{comments: backlog})

	if n := len(backlog); n > 0 {
		c.lastDeliveredID = backlog[n-1].ID
	}
	for _, cm := range pending {
		if cm.ID <= c.lastDeliveredID {
			continue
		}
		c.lastDeliveredID = cm.ID
		c.deliverLocked(commentEvent{comment: cm})
	}
}

// post validates, persists and fans out a comment from this connection.
// Validation and store failures are reported to this connection only; the
// connection stays joined either way.
func (c *conn) post(ctx context.Context, body string) {
	c.mu.Lock()
	state := c.state
	ident := c.identity
	c.mu.Unlock()

	if state != stateJoined {
		c.deliver(postErrorEvent{reason: reasonNotJoined})
		return
	}

	body = strings.TrimSpace(body)
	if n := utf8.RuneCountInString(body); n < minCommentRunes || n > maxCommentRunes {
		c.deliver(postErrorEvent{reason: reasonBodyLength})
		return
	}

	// Commit and fanout form one critical section per room: members must
	// observe comments in store commit order.
	unlock := c.hub.rooms.lockPosts(c.roomID)
	defer unlock()

	cm, err := c.hub.store.append(ctx, c.roomID, ident.userID, ident.displayName, body)
	if err != nil {
		c.hub.logger.Error("append comment", "issue", c.roomID, "conn", c.id, "error", err)
		c.deliver(postErrorEvent{reason: reasonStore})
		return
	}

	for _, member := range c.hub.rooms.broadcastTargets(c.roomID, c.id) {
		member.deliverComment(cm)
	}
}

// deliverComment routes a live comment to this connection. While the backlog
// read is still in flight the comment is buffered; finishJoin flushes it in
// order.
func (c *conn) deliverComment(cm comment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return
	}
	if !c.backlogSent {
		c.livePending = append(c.livePending, cm)
		return
	}
	if cm.ID <= c.lastDeliveredID {
		return
	}
	c.lastDeliveredID = cm.ID
	c.deliverLocked(commentEvent{comment: cm})
}

func (c *conn) deliver(evt event) {
	c.mu.Lock()
	c.deliverLocked(evt)
	c.mu.Unlock()
}

// deliverLocked enqueues evt for the gateway. If the queue is full the
// oldest event is dropped so a slow client cannot block the room. A client
// that falls this far behind loses events with no error signal; it recovers
// the full log by reconnecting for a fresh backlog.
func (c *conn) deliverLocked(evt event) {
	if c.state == stateClosed {
		return
	}
	select {
	case c.events <- evt:
	default:
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- evt:
		default:
		}
	}
}

// close is the single exit path. It runs for graceful and abrupt disconnects
// alike, always removes the connection from its room, and is safe to call
// more than once.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()

		c.hub.rooms.leave(c.roomID, c.id)
		close(c.events)
	})
}
