// Package ws is the realtime connection gateway: it authenticates
// websocket connections, feeds inbound events to the lifecycle engine
// and writes hub broadcasts back to clients in order.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"decisionlens/internal/auth"
	"decisionlens/internal/hub"
	"decisionlens/internal/lifecycle"
)

// sendBuffer bounds the per-connection outbound queue. A client that
// falls this far behind a live broadcast loses events rather than
// stalling the pipeline.
const sendBuffer = 32

// Engine is the slice of the lifecycle engine driven by inbound
// events.
type Engine interface {
	Submit(ctx context.Context, conversationID, ownerID, description, decision string, considerations []string) (string, error)
	Retry(ctx context.Context, conversationID, messageID, requesterID string) error
	Regenerate(ctx context.Context, conversationID, messageID, requesterID string) error
}

// TokenVerifier resolves a credential to verified claims.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.Claims, error)
}

type Gateway struct {
	verifier TokenVerifier
	engine   Engine
	hub      *hub.Hub
}

func NewGateway(verifier TokenVerifier, engine Engine, h *hub.Hub) *Gateway {
	return &Gateway{verifier: verifier, engine: engine, hub: h}
}

// client is one authenticated websocket connection. Its outbound
// events flow through a single ordered queue drained by one writer
// goroutine, so successive broadcasts reach the wire in emission
// order.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan outboundEnvelope
	done   chan struct{}
}

// Deliver implements hub.Subscriber. It never blocks: a closed or
// backed-up connection reports false and misses the event.
func (c *client) Deliver(ev lifecycle.Event) bool {
	env := outboundEnvelope{Event: string(ev.Kind), Data: ev.Payload}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the request to a websocket. The handshake must
// carry a valid access token (query parameter or bearer header) or the
// connection is rejected before any event is read.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := g.verifier.VerifyAccess(bearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("ws accept: %v", err)
		return
	}

	c := &client{
		userID: claims.UserID(),
		conn:   conn,
		send:   make(chan outboundEnvelope, sendBuffer),
		done:   make(chan struct{}),
	}
	log.Printf("ws: user connected %s", c.userID)

	ctx := context.Background()
	go c.writeLoop(ctx)
	g.readLoop(ctx, c)

	close(c.done)
	g.hub.Drop(c)
	conn.Close(websocket.StatusNormalClosure, "")
	log.Printf("ws: user disconnected %s", c.userID)
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case env := <-c.send:
			if err := wsjson.Write(ctx, c.conn, env); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *client) {
	for {
		var env inboundEnvelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Printf("ws read (%s): %v", c.userID, err)
			}
			return
		}
		g.dispatch(ctx, c, env)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *client, env inboundEnvelope) {
	switch env.Event {
	case inboundJoin:
		var p roomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
			return
		}
		g.hub.Join(c, p.RoomID)

	case inboundLeave:
		var p roomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
			return
		}
		g.hub.Leave(c, p.RoomID)

	case inboundSend:
		var p sendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.reject("", "invalid payload")
			return
		}
		_, err := g.engine.Submit(ctx, p.ConversationID, c.userID, p.Description, p.Decision, p.Considerations)
		if err != nil {
			c.reject("", rejectReason(err))
		}

	case inboundRetry:
		var p actionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.reject("", "invalid payload")
			return
		}
		if err := g.engine.Retry(ctx, p.ConversationID, p.MessageID, c.userID); err != nil {
			c.reject(p.MessageID, rejectReason(err))
		}

	case inboundRegenerate:
		var p actionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.reject("", "invalid payload")
			return
		}
		if err := g.engine.Regenerate(ctx, p.ConversationID, p.MessageID, c.userID); err != nil {
			c.reject(p.MessageID, rejectReason(err))
		}

	default:
		// Unknown inbound kinds are ignored.
	}
}

// reject reports a synchronous precondition failure to the caller
// only; nothing was mutated, so the room hears nothing.
func (c *client) reject(messageID, reason string) {
	c.Deliver(lifecycle.Event{
		Kind:    lifecycle.EventError,
		Payload: lifecycle.FailurePayload{MessageID: messageID, Error: reason},
	})
}

// rejectReason collapses a missing row and a foreign row to the same
// external signal.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return "not found"
	case errors.Is(err, lifecycle.ErrValidation):
		return err.Error()
	default:
		log.Printf("ws dispatch: %v", err)
		return "internal error"
	}
}
