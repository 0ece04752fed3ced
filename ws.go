package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
	wsMaxMessage = 8 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Bearer tokens carry the authentication; adjust if you introduce
		// cookie-based access.
		return true
	},
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	issueID := strings.TrimSpace(r.URL.Query().Get("issue"))
	if issueID == "" {
		http.Error(w, "issue id required", http.StatusBadRequest)
		return
	}

	credential := bearerToken(r)
	client := clientContext{originHint: r.UserAgent()}

	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if !errors.Is(err, http.ErrHijacked) {
			slog.Error("upgrade websocket", "error", err)
		}
		return
	}

	c, err := s.hub.connect(r.Context(), credential, issueID, client)
	if err != nil {
		rejectWS(ws, err)
		return
	}

	go writeLoop(ws, c)
	readLoop(ws, c)
}

// rejectWS surfaces the auth_error frame to the rejected client, then drops
// the transport.
func rejectWS(ws *websocket.Conn, err error) {
	payload, mErr := encodeEvent(authErrorEvent{reason: authErrorReason(err)})
	if mErr == nil {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = ws.WriteMessage(websocket.TextMessage, payload)
	}
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
	_ = ws.Close()
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func readLoop(ws *websocket.Conn, c *conn) {
	defer func() {
		c.close()
		_ = ws.Close()
	}()

	ws.SetReadLimit(wsMaxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame inboundFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("ws read", "conn", c.id, "error", err)
			}
			return
		}

		switch frame.Type {
		case "post":
			c.post(context.Background(), frame.Body)
		default:
			c.deliver(postErrorEvent{reason: reasonUnsupported})
		}
	}
}

func writeLoop(ws *websocket.Conn, c *conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = ws.Close()
	}()

	for {
		select {
		case evt, ok := <-c.events:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := encodeEvent(evt)
			if err != nil {
				slog.Error("encode event", "conn", c.id, "error", err)
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
