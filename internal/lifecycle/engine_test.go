package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"decisionlens/internal/analysis"
	"decisionlens/internal/store"
)

type fakeStore struct {
	mu    sync.Mutex
	convs map[string]store.Conversation
	msgs  map[string]store.Message
	resps []store.AiResponse

	failCreateResponse bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs: make(map[string]store.Conversation),
		msgs:  make(map[string]store.Message),
	}
}

func (f *fakeStore) Conversation(_ context.Context, id string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) Message(_ context.Context, id string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, m store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[m.ID] = m
	return nil
}

func (f *fakeStore) SetMessageStatus(_ context.Context, id string, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = status
	f.msgs[id] = m
	return nil
}

func (f *fakeStore) CreateResponse(_ context.Context, r store.AiResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateResponse {
		return errors.New("disk full")
	}
	f.resps = append(f.resps, r)
	return nil
}

func (f *fakeStore) MaxResponseVersion(_ context.Context, messageID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max, found := 0, false
	for _, r := range f.resps {
		if r.MessageID != messageID {
			continue
		}
		if !found || r.Version > max {
			max = r.Version
		}
		found = true
	}
	return max, found, nil
}

func (f *fakeStore) message(t *testing.T, id string) store.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		t.Fatalf("message %s not in store", id)
	}
	return m
}

func (f *fakeStore) responses(messageID string) []store.AiResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AiResponse
	for _, r := range f.resps {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	return out
}

type fakeGateway struct {
	mu     sync.Mutex
	result analysis.Analysis
	err    error
	calls  int
}

func (g *fakeGateway) Analyze(context.Context, string, string, []string) (analysis.Analysis, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.result, g.err
}

type broadcast struct {
	conversationID string
	ev             Event
}

type fakeHub struct {
	ch chan broadcast
}

func newFakeHub() *fakeHub {
	return &fakeHub{ch: make(chan broadcast, 16)}
}

func (h *fakeHub) Broadcast(conversationID string, ev Event) {
	h.ch <- broadcast{conversationID: conversationID, ev: ev}
}

func (h *fakeHub) next(t *testing.T) broadcast {
	t.Helper()
	select {
	case b := <-h.ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
		return broadcast{}
	}
}

func (h *fakeHub) expectNone(t *testing.T) {
	t.Helper()
	select {
	case b := <-h.ch:
		t.Fatalf("unexpected broadcast: %v", b.ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestEngine(gw *fakeGateway) (*Engine, *fakeStore, *fakeHub) {
	st := newFakeStore()
	st.convs["conv-1"] = store.Conversation{ID: "conv-1", UserID: "user-1", Title: "t"}
	h := newFakeHub()
	return New(st, gw, h), st, h
}

func sampleAnalysis() analysis.Analysis {
	return analysis.Analysis{
		DecisionCategory:    "strategic",
		CognitiveBiases:     []string{"anchoring"},
		MissingAlternatives: []string{"rent instead of buy"},
	}
}

func TestSubmitSuccess(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)

	id, err := e.Submit(context.Background(), "conv-1", "user-1", "situation", "decision", []string{"cost", "time"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	first := h.next(t)
	if first.ev.Kind != EventPending {
		t.Fatalf("first event = %s, want pending", first.ev.Kind)
	}
	p := first.ev.Payload.(PendingPayload)
	if p.ID != id || p.Considerations[0] != "cost" || p.Considerations[1] != "time" {
		t.Fatalf("unexpected pending payload: %+v", p)
	}

	second := h.next(t)
	if second.ev.Kind != EventProcessed {
		t.Fatalf("second event = %s, want processed", second.ev.Kind)
	}
	res := second.ev.Payload.(ResultPayload)
	if res.MessageID != id || res.Version != 0 {
		t.Fatalf("unexpected processed payload: %+v", res)
	}

	e.Wait()
	if got := st.message(t, id).Status; got != store.StatusSuccess {
		t.Fatalf("status = %s, want success", got)
	}
	if n := len(st.responses(id)); n != 1 {
		t.Fatalf("responses = %d, want 1", n)
	}
}

func TestSubmitAnalysisFailure(t *testing.T) {
	gw := &fakeGateway{err: fmt.Errorf("%w after 30s", analysis.ErrTimeout)}
	e, st, h := newTestEngine(gw)

	id, err := e.Submit(context.Background(), "conv-1", "user-1", "d", "x", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if kind := h.next(t).ev.Kind; kind != EventPending {
		t.Fatalf("first event = %s, want pending", kind)
	}
	ev := h.next(t).ev
	if ev.Kind != EventError {
		t.Fatalf("second event = %s, want error", ev.Kind)
	}
	if fp := ev.Payload.(FailurePayload); fp.MessageID != id || fp.Error == "" {
		t.Fatalf("unexpected failure payload: %+v", fp)
	}

	e.Wait()
	if got := st.message(t, id).Status; got != store.StatusError {
		t.Fatalf("status = %s, want error", got)
	}
	if n := len(st.responses(id)); n != 0 {
		t.Fatalf("responses = %d, want 0", n)
	}
}

func TestSubmitUnknownOrForeignConversation(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)

	if _, err := e.Submit(context.Background(), "missing", "user-1", "d", "x", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing conversation: err = %v, want ErrNotFound", err)
	}
	if _, err := e.Submit(context.Background(), "conv-1", "intruder", "d", "x", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign conversation: err = %v, want ErrNotFound", err)
	}

	h.expectNone(t)
	if len(st.msgs) != 0 {
		t.Fatalf("message rows created on rejected submit")
	}
	if gw.calls != 0 {
		t.Fatalf("gateway called on rejected submit")
	}
}

func TestSubmitValidation(t *testing.T) {
	e, _, h := newTestEngine(&fakeGateway{})
	if _, err := e.Submit(context.Background(), "conv-1", "user-1", "", "x", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	h.expectNone(t)
}

func seedMessage(st *fakeStore, id string, status store.Status) {
	st.msgs[id] = store.Message{
		ID:             id,
		UserID:         "user-1",
		ConversationID: "conv-1",
		Status:         status,
		Description:    "situation",
		Decision:       "decision",
		Considerations: []string{"cost"},
	}
}

func TestRetryFirstResponseAtVersionZero(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)
	seedMessage(st, "msg-1", store.StatusError)

	if err := e.Retry(context.Background(), "conv-1", "msg-1", "user-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	ev := h.next(t).ev
	if ev.Kind != EventRetrySuccess {
		t.Fatalf("event = %s, want retrySuccess", ev.Kind)
	}
	if res := ev.Payload.(ResultPayload); res.Version != 0 {
		t.Fatalf("version = %d, want 0", res.Version)
	}

	e.Wait()
	if got := st.message(t, "msg-1").Status; got != store.StatusSuccess {
		t.Fatalf("status = %s, want success", got)
	}
	if n := len(st.responses("msg-1")); n != 1 {
		t.Fatalf("responses = %d, want 1", n)
	}
}

func TestRetryFailureMarksError(t *testing.T) {
	gw := &fakeGateway{err: fmt.Errorf("%w: boom", analysis.ErrTransport)}
	e, st, h := newTestEngine(gw)
	seedMessage(st, "msg-1", store.StatusError)

	if err := e.Retry(context.Background(), "conv-1", "msg-1", "user-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if kind := h.next(t).ev.Kind; kind != EventRetryError {
		t.Fatalf("event = %s, want retryError", kind)
	}
	e.Wait()
	if got := st.message(t, "msg-1").Status; got != store.StatusError {
		t.Fatalf("status = %s, want error", got)
	}
}

func TestRegenerateIncrementsVersion(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)
	seedMessage(st, "msg-1", store.StatusSuccess)
	st.resps = append(st.resps, store.AiResponse{ID: "r0", MessageID: "msg-1", Version: 0})

	for want := 1; want <= 3; want++ {
		if err := e.Regenerate(context.Background(), "conv-1", "msg-1", "user-1"); err != nil {
			t.Fatalf("regenerate %d: %v", want, err)
		}
		ev := h.next(t).ev
		if ev.Kind != EventRegenerateSuccess {
			t.Fatalf("event = %s, want regenerateSuccess", ev.Kind)
		}
		if res := ev.Payload.(ResultPayload); res.Version != want {
			t.Fatalf("version = %d, want %d", res.Version, want)
		}
	}
}

func TestRegenerateWithEmptyLedgerYieldsVersionOne(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)
	seedMessage(st, "msg-1", store.StatusSuccess)

	if err := e.Regenerate(context.Background(), "conv-1", "msg-1", "user-1"); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	ev := h.next(t).ev
	if res := ev.Payload.(ResultPayload); res.Version != 1 {
		t.Fatalf("version = %d, want 1", res.Version)
	}
}

func TestRegenerateFailureKeepsStatus(t *testing.T) {
	gw := &fakeGateway{err: fmt.Errorf("%w: boom", analysis.ErrTransport)}
	e, st, h := newTestEngine(gw)
	seedMessage(st, "msg-1", store.StatusSuccess)

	if err := e.Regenerate(context.Background(), "conv-1", "msg-1", "user-1"); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if kind := h.next(t).ev.Kind; kind != EventRegenerateError {
		t.Fatalf("event = %s, want regenerateError", kind)
	}
	e.Wait()
	if got := st.message(t, "msg-1").Status; got != store.StatusSuccess {
		t.Fatalf("status = %s, want unchanged success", got)
	}
}

func TestRetryAndRegenerateNotFound(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)
	seedMessage(st, "msg-1", store.StatusSuccess)

	if err := e.Retry(context.Background(), "conv-1", "missing", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retry missing: err = %v, want ErrNotFound", err)
	}
	if err := e.Retry(context.Background(), "conv-1", "msg-1", "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retry foreign: err = %v, want ErrNotFound", err)
	}
	if err := e.Regenerate(context.Background(), "conv-1", "msg-1", "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("regenerate foreign: err = %v, want ErrNotFound", err)
	}

	h.expectNone(t)
	if gw.calls != 0 {
		t.Fatalf("gateway called on rejected request")
	}
	if n := len(st.responses("msg-1")); n != 0 {
		t.Fatalf("responses written on rejected request")
	}
}

func TestStoreFailureAfterAnalysisEmitsError(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)
	st.failCreateResponse = true

	id, err := e.Submit(context.Background(), "conv-1", "user-1", "d", "x", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if kind := h.next(t).ev.Kind; kind != EventPending {
		t.Fatalf("first event = %s, want pending", kind)
	}
	// The analysis succeeded but the write failed: clients must see a
	// failure, never a success the store cannot back.
	ev := h.next(t).ev
	if ev.Kind != EventError {
		t.Fatalf("second event = %s, want error", ev.Kind)
	}
	e.Wait()
	if got := st.message(t, id).Status; got != store.StatusError {
		t.Fatalf("status = %s, want error", got)
	}
}

func TestConcurrentRegeneratesSerialize(t *testing.T) {
	gw := &fakeGateway{result: sampleAnalysis()}
	e, st, h := newTestEngine(gw)
	seedMessage(st, "msg-1", store.StatusSuccess)
	st.resps = append(st.resps, store.AiResponse{ID: "r0", MessageID: "msg-1", Version: 0})

	const n = 5
	for i := 0; i < n; i++ {
		if err := e.Regenerate(context.Background(), "conv-1", "msg-1", "user-1"); err != nil {
			t.Fatalf("regenerate: %v", err)
		}
	}
	e.Wait()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		ev := h.next(t).ev
		if ev.Kind != EventRegenerateSuccess {
			t.Fatalf("event = %s, want regenerateSuccess", ev.Kind)
		}
		v := ev.Payload.(ResultPayload).Version
		if seen[v] {
			t.Fatalf("version %d assigned twice", v)
		}
		seen[v] = true
	}
	for v := 1; v <= n; v++ {
		if !seen[v] {
			t.Fatalf("version %d never assigned", v)
		}
	}
}
