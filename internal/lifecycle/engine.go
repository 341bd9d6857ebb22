package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"decisionlens/internal/analysis"
	"decisionlens/internal/ident"
	"decisionlens/internal/store"
)

// ErrValidation is returned when a required field is missing.
var ErrValidation = errors.New("validation failed")

// ErrNotFound mirrors the store sentinel: an absent row and a row
// owned by somebody else produce the same failure.
var ErrNotFound = store.ErrNotFound

// Store is the slice of the record store the engine depends on.
type Store interface {
	Conversation(ctx context.Context, id string) (store.Conversation, error)
	Message(ctx context.Context, id string) (store.Message, error)
	CreateMessage(ctx context.Context, m store.Message) error
	SetMessageStatus(ctx context.Context, id string, status store.Status) error
	CreateResponse(ctx context.Context, r store.AiResponse) error
	MaxResponseVersion(ctx context.Context, messageID string) (int, bool, error)
}

// Engine drives a message from submission to a terminal analyzed or
// error state, writing response versions and broadcasting every
// transition to the owning conversation's room.
//
// Analysis and persistence for a given message id run under a
// per-message mutex, so concurrent retry and regenerate against the
// same message serialize instead of racing on status and version.
type Engine struct {
	store   Store
	gateway analysis.Gateway
	hub     Broadcaster
	newID   func() string

	msgMu sync.Map // message id → *sync.Mutex
	wg    sync.WaitGroup
}

func New(s Store, gw analysis.Gateway, hub Broadcaster) *Engine {
	return &Engine{
		store:   s,
		gateway: gw,
		hub:     hub,
		newID:   ident.New,
	}
}

// Wait blocks until every in-flight analysis worker has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// lockMessage returns the held mutex for a message id. Callers must
// Unlock it when their analysis-plus-persist cycle is done.
func (e *Engine) lockMessage(messageID string) *sync.Mutex {
	v, _ := e.msgMu.LoadOrStore(messageID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

// Submit persists a pending message, announces it to the room and
// schedules its analysis. It returns the new message id without
// waiting for the analysis outcome; that arrives as a Processed or
// Error event.
func (e *Engine) Submit(ctx context.Context, conversationID, ownerID, description, decision string, considerations []string) (string, error) {
	if conversationID == "" || description == "" || decision == "" {
		return "", fmt.Errorf("%w: conversationId, description and decision are required", ErrValidation)
	}
	conv, err := e.store.Conversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.UserID != ownerID {
		return "", ErrNotFound
	}

	msg := store.Message{
		ID:             e.newID(),
		UserID:         ownerID,
		ConversationID: conversationID,
		Status:         store.StatusPending,
		Description:    description,
		Decision:       decision,
		Considerations: considerations,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return "", err
	}

	// Pending goes out before the analysis starts so every member sees
	// the message appear ahead of any result.
	e.hub.Broadcast(conversationID, Event{Kind: EventPending, Payload: PendingPayload{
		ID:             msg.ID,
		Description:    description,
		Decision:       decision,
		Considerations: considerations,
	}})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSubmit(msg)
	}()
	return msg.ID, nil
}

func (e *Engine) runSubmit(msg store.Message) {
	mu := e.lockMessage(msg.ID)
	defer mu.Unlock()
	ctx := context.Background()

	a, err := e.gateway.Analyze(ctx, msg.Description, msg.Decision, msg.Considerations)
	if err != nil {
		e.fail(ctx, msg.ConversationID, msg.ID, EventError, err, true)
		return
	}

	respID := e.newID()
	err = e.store.CreateResponse(ctx, store.AiResponse{
		ID:                  respID,
		MessageID:           msg.ID,
		DecisionCategory:    a.DecisionCategory,
		CognitiveBiases:     a.CognitiveBiases,
		MissingAlternatives: a.MissingAlternatives,
		Version:             0,
		CreatedAt:           time.Now().UTC(),
	})
	if err != nil {
		// The analysis succeeded but the write did not; reporting
		// success now would diverge client state from the store.
		e.fail(ctx, msg.ConversationID, msg.ID, EventError, err, true)
		return
	}
	if err := e.store.SetMessageStatus(ctx, msg.ID, store.StatusSuccess); err != nil {
		e.fail(ctx, msg.ConversationID, msg.ID, EventError, err, false)
		return
	}

	e.hub.Broadcast(msg.ConversationID, Event{Kind: EventProcessed, Payload: ResultPayload{
		MessageID:  msg.ID,
		Analysis:   a,
		ResponseID: respID,
		Version:    0,
	}})
}

// Retry re-runs the analysis for an existing message. The requester
// must own the message; a missing and a foreign message fail the same
// way. conversationID is used for broadcast routing only.
func (e *Engine) Retry(ctx context.Context, conversationID, messageID, requesterID string) error {
	msg, err := e.ownedMessage(ctx, messageID, requesterID)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runRetry(conversationID, msg)
	}()
	return nil
}

func (e *Engine) runRetry(conversationID string, msg store.Message) {
	mu := e.lockMessage(msg.ID)
	defer mu.Unlock()
	ctx := context.Background()

	a, err := e.gateway.Analyze(ctx, msg.Description, msg.Decision, msg.Considerations)
	if err != nil {
		e.fail(ctx, conversationID, msg.ID, EventRetryError, err, true)
		return
	}

	// Historical contract: a retried analysis is written at the current
	// maximum version (0 when the ledger is empty) instead of the next
	// one. In practice retry runs against an error message with no
	// responses, so this lands at version 0.
	version, found, err := e.store.MaxResponseVersion(ctx, msg.ID)
	if err != nil {
		e.fail(ctx, conversationID, msg.ID, EventRetryError, err, true)
		return
	}
	if !found {
		version = 0
	}

	respID := e.newID()
	err = e.store.CreateResponse(ctx, store.AiResponse{
		ID:                  respID,
		MessageID:           msg.ID,
		DecisionCategory:    a.DecisionCategory,
		CognitiveBiases:     a.CognitiveBiases,
		MissingAlternatives: a.MissingAlternatives,
		Version:             version,
		CreatedAt:           time.Now().UTC(),
	})
	if err != nil {
		e.fail(ctx, conversationID, msg.ID, EventRetryError, err, true)
		return
	}
	if err := e.store.SetMessageStatus(ctx, msg.ID, store.StatusSuccess); err != nil {
		e.fail(ctx, conversationID, msg.ID, EventRetryError, err, false)
		return
	}

	e.hub.Broadcast(conversationID, Event{Kind: EventRetrySuccess, Payload: ResultPayload{
		MessageID:  msg.ID,
		Analysis:   a,
		ResponseID: respID,
		Version:    version,
	}})
}

// Regenerate produces the next response version for a message that
// already has an analysis. Preconditions match Retry.
func (e *Engine) Regenerate(ctx context.Context, conversationID, messageID, requesterID string) error {
	msg, err := e.ownedMessage(ctx, messageID, requesterID)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runRegenerate(conversationID, msg)
	}()
	return nil
}

func (e *Engine) runRegenerate(conversationID string, msg store.Message) {
	mu := e.lockMessage(msg.ID)
	defer mu.Unlock()
	ctx := context.Background()

	a, err := e.gateway.Analyze(ctx, msg.Description, msg.Decision, msg.Considerations)
	if err != nil {
		// A failed regeneration keeps the previous status; the room
		// only hears about it through the event.
		e.fail(ctx, conversationID, msg.ID, EventRegenerateError, err, false)
		return
	}

	version, found, err := e.store.MaxResponseVersion(ctx, msg.ID)
	if err != nil {
		e.fail(ctx, conversationID, msg.ID, EventRegenerateError, err, false)
		return
	}
	if !found {
		version = 0
	}
	version++

	respID := e.newID()
	err = e.store.CreateResponse(ctx, store.AiResponse{
		ID:                  respID,
		MessageID:           msg.ID,
		DecisionCategory:    a.DecisionCategory,
		CognitiveBiases:     a.CognitiveBiases,
		MissingAlternatives: a.MissingAlternatives,
		Version:             version,
		CreatedAt:           time.Now().UTC(),
	})
	if err != nil {
		e.fail(ctx, conversationID, msg.ID, EventRegenerateError, err, false)
		return
	}
	if err := e.store.SetMessageStatus(ctx, msg.ID, store.StatusSuccess); err != nil {
		e.fail(ctx, conversationID, msg.ID, EventRegenerateError, err, false)
		return
	}

	e.hub.Broadcast(conversationID, Event{Kind: EventRegenerateSuccess, Payload: ResultPayload{
		MessageID:  msg.ID,
		Analysis:   a,
		ResponseID: respID,
		Version:    version,
	}})
}

func (e *Engine) ownedMessage(ctx context.Context, messageID, requesterID string) (store.Message, error) {
	if messageID == "" {
		return store.Message{}, fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	msg, err := e.store.Message(ctx, messageID)
	if err != nil {
		return store.Message{}, err
	}
	if msg.UserID != requesterID {
		return store.Message{}, ErrNotFound
	}
	return msg, nil
}

// fail records a terminal failure and broadcasts the matching event.
// When markError is set the message status is updated to error first;
// every attempt, however it went wrong, ends in exactly one event.
func (e *Engine) fail(ctx context.Context, conversationID, messageID string, kind EventKind, cause error, markError bool) {
	log.Printf("analysis failed for message %s: %v", messageID, cause)
	if markError {
		if err := e.store.SetMessageStatus(ctx, messageID, store.StatusError); err != nil {
			log.Printf("failed to mark message %s as error: %v", messageID, err)
		}
	}
	e.hub.Broadcast(conversationID, Event{Kind: kind, Payload: FailurePayload{
		MessageID: messageID,
		Error:     cause.Error(),
	}})
}
