package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"astronoma/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastOpts() Options {
	return Options{ConnectTimeout: time.Second, ReconnectAttempts: 0, ReconnectDelay: time.Millisecond}
}

type callResult struct {
	data json.RawMessage
	err  error
}

func asyncCall(ctx context.Context, c *Client, spec CallSpec, payload interface{}) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		var out json.RawMessage
		err := c.Call(ctx, spec, payload, &out)
		ch <- callResult{data: out, err: err}
	}()
	return ch
}

func waitConn(t *testing.T, tr *memTransport, i int) *memConn {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Conn(i) != nil }, time.Second, time.Millisecond)
	return tr.Conn(i)
}

func recv(t *testing.T, conn *memConn) Envelope {
	t.Helper()
	select {
	case env := <-conn.fromClient:
		return env
	case <-time.After(time.Second):
		t.Fatal("no request reached the server")
		return Envelope{}
	}
}

func TestCallSuccess(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	assert.Zero(t, tr.Dials(), "nothing is dialed before the first call")

	res := asyncCall(context.Background(), c, NarrationCall, types.NarrationRequest{ObjectID: "earth", Language: types.LangEnglish})
	conn := waitConn(t, tr, 0)
	env := recv(t, conn)
	assert.Equal(t, "request_narration", env.Event)
	assert.NotEmpty(t, env.ID)
	assert.JSONEq(t, `{"objectId":"earth","language":"en"}`, string(env.Data))

	conn.push(t, "narration_response", env.ID, types.NarrationResponse{ObjectID: "earth", Text: "The blue marble."})
	r := <-res
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"objectId":"earth","text":"The blue marble.","language":""}`, string(r.data))
	assert.Zero(t, c.Pending())
	assert.True(t, c.Connected())
}

func TestCallErrorEvent(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	res := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{Message: "hi"})
	conn := waitConn(t, tr, 0)
	env := recv(t, conn)
	conn.push(t, "chat_error", env.ID, map[string]string{"error": "model unavailable"})

	r := <-res
	var se *ServiceError
	require.ErrorAs(t, r.err, &se)
	assert.Equal(t, "chat_error", se.Event)
	assert.Equal(t, "model unavailable", se.Message)
}

func TestCallTimeoutThenLateResponse(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	spec := NarrationCall.WithTimeout(50 * time.Millisecond)
	start := time.Now()
	res := asyncCall(context.Background(), c, spec, types.NarrationRequest{ObjectID: "sun"})
	conn := waitConn(t, tr, 0)
	stale := recv(t, conn)

	r := <-res
	elapsed := time.Since(start)
	assert.ErrorIs(t, r.err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Zero(t, c.Pending())

	// The late answer must not resolve the next call.
	next := asyncCall(context.Background(), c, NarrationCall, types.NarrationRequest{ObjectID: "moon"})
	fresh := recv(t, conn)
	conn.push(t, "narration_response", stale.ID, map[string]string{"text": "late"})
	conn.push(t, "narration_response", fresh.ID, map[string]string{"text": "on time"})

	r = <-next
	require.NoError(t, r.err)
	assert.Contains(t, string(r.data), "on time")
}

func TestResponseWithoutIDGoesToOldest(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	first := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{Message: "one"})
	conn := waitConn(t, tr, 0)
	recv(t, conn)
	second := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{Message: "two"})
	recv(t, conn)
	require.Eventually(t, func() bool { return c.Pending() == 2 }, time.Second, time.Millisecond)

	conn.push(t, "chat_response", "", map[string]string{"text": "reply one"})
	r := <-first
	require.NoError(t, r.err)
	assert.Contains(t, string(r.data), "reply one")
	assert.Equal(t, 1, c.Pending())

	conn.push(t, "chat_error", "", map[string]string{"message": "nope"})
	r = <-second
	var se *ServiceError
	require.ErrorAs(t, r.err, &se)
	assert.Equal(t, "nope", se.Message)
}

func TestDisconnectRejectsAllPending(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	var results []<-chan callResult
	results = append(results, asyncCall(context.Background(), c, NarrationCall, types.NarrationRequest{ObjectID: "a"}))
	conn := waitConn(t, tr, 0)
	recv(t, conn)
	results = append(results,
		asyncCall(context.Background(), c, ChatCall, types.ChatMessage{Message: "b"}),
		asyncCall(context.Background(), c, SpeechCall, types.SpeechRequest{Text: "c"}),
	)
	recv(t, conn)
	recv(t, conn)

	conn.Close()
	for _, ch := range results {
		r := <-ch
		assert.ErrorIs(t, r.err, ErrNetwork)
	}
	assert.Zero(t, c.Pending())
	require.Eventually(t, func() bool { return !c.Connected() }, time.Second, time.Millisecond)

	// The next call reconnects.
	res := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{Message: "again"})
	conn2 := waitConn(t, tr, 1)
	env := recv(t, conn2)
	conn2.push(t, "chat_response", env.ID, map[string]string{"text": "back"})
	require.NoError(t, (<-res).err)
	assert.Equal(t, 2, tr.Dials())
}

func TestConnectGivesUpAfterAttempts(t *testing.T) {
	tr := &memTransport{dial: func(context.Context, int) error { return errors.New("connection refused") }}
	c := NewClient(tr, Options{ConnectTimeout: time.Second, ReconnectAttempts: 2, ReconnectDelay: time.Millisecond})
	defer c.Close()

	err := c.Call(context.Background(), ChatCall, types.ChatMessage{Message: "hello"}, nil)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 3, tr.Dials(), "one attempt plus two retries")
	assert.False(t, c.Connected())

	// A later call starts over.
	_ = c.Call(context.Background(), ChatCall, types.ChatMessage{Message: "hello"}, nil)
	assert.Equal(t, 6, tr.Dials())
}

func TestDegradedModeFailsFast(t *testing.T) {
	release := make(chan struct{})
	tr := &memTransport{dial: func(_ context.Context, attempt int) error {
		if attempt == 1 {
			<-release
		}
		return nil
	}}
	c := NewClient(tr, Options{ConnectTimeout: 50 * time.Millisecond, ReconnectDelay: time.Millisecond})

	start := time.Now()
	err := c.Call(context.Background(), ChatCall, types.ChatMessage{Message: "first"}, nil)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	err = c.Call(context.Background(), ChatCall, types.ChatMessage{Message: "second"}, nil)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Less(t, time.Since(start), 40*time.Millisecond, "no second wait while the connect is overdue")
	assert.Equal(t, 1, tr.Dials())

	close(release)
	require.Eventually(t, c.Connected, time.Second, time.Millisecond)

	res := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{Message: "third"})
	conn := waitConn(t, tr, 0)
	env := recv(t, conn)
	conn.push(t, "chat_response", env.ID, map[string]string{"text": "ok"})
	require.NoError(t, (<-res).err)
	require.NoError(t, c.Close())
}

func TestSendFailureRejects(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	res := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{Message: "warmup"})
	conn := waitConn(t, tr, 0)
	env := recv(t, conn)
	conn.push(t, "chat_response", env.ID, map[string]string{"text": "ok"})
	require.NoError(t, (<-res).err)

	conn.failSend.Store(true)
	err := c.Call(context.Background(), ChatCall, types.ChatMessage{Message: "lost"}, nil)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.False(t, c.Connected())
	assert.Zero(t, c.Pending())
}

func TestCallContextCancel(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	res := asyncCall(ctx, c, NarrationCall, types.NarrationRequest{ObjectID: "x"})
	conn := waitConn(t, tr, 0)
	recv(t, conn)
	cancel()

	assert.ErrorIs(t, (<-res).err, context.Canceled)
	assert.Zero(t, c.Pending())
}

func TestCloseRejectsPending(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())

	res := asyncCall(context.Background(), c, GenerationCall, types.GenerationRequest{UniverseType: "spiral"})
	conn := waitConn(t, tr, 0)
	recv(t, conn)

	require.NoError(t, c.Close())
	r := <-res
	assert.ErrorIs(t, r.err, ErrClosed)
	assert.ErrorIs(t, r.err, ErrNetwork)

	err := c.Call(context.Background(), ChatCall, types.ChatMessage{}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close(), "Close is idempotent")
}

func TestMalformedSuccessPayload(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		var resp types.ChatResponse
		done <- c.Call(context.Background(), ChatCall, types.ChatMessage{Message: "hi"}, &resp)
	}()
	conn := waitConn(t, tr, 0)
	env := recv(t, conn)
	conn.push(t, "chat_response", env.ID, []int{1, 2, 3})

	var se *ServiceError
	assert.ErrorAs(t, <-done, &se)
}

func TestEveryCallSettlesOnce(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()

	// Prime the connection.
	res := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{})
	conn := waitConn(t, tr, 0)
	env := recv(t, conn)
	conn.push(t, "chat_response", env.ID, map[string]string{})
	require.NoError(t, (<-res).err)

	// Responses race the 5ms timers; each call still returns exactly once.
	stop := make(chan struct{})
	var server sync.WaitGroup
	server.Add(1)
	go func() {
		defer server.Done()
		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			case env := <-conn.fromClient:
				time.Sleep(time.Duration(n%4) * 2 * time.Millisecond)
				data, _ := json.Marshal(map[string]string{"text": "x"})
				conn.toClient <- Envelope{Event: "chat_response", ID: env.ID, Data: data}
			}
		}
	}()

	spec := ChatCall.WithTimeout(5 * time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Call(context.Background(), spec, types.ChatMessage{Message: "race"}, nil)
			if err != nil {
				assert.ErrorIs(t, err, ErrTimeout)
			}
		}()
	}
	wg.Wait()
	close(stop)
	server.Wait()
	assert.Zero(t, c.Pending())
}

func TestPushHandlers(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()
	svc := NewService(c, Timeouts{})

	got := make(chan types.NavigationAction, 4)
	unsubscribe := svc.OnNavigate(func(a types.NavigationAction) { got <- a })
	greeting := make(chan string, 1)
	svc.OnConnected(func(msg string) { greeting <- msg })

	res := asyncCall(context.Background(), c, ChatCall, types.ChatMessage{})
	conn := waitConn(t, tr, 0)
	env := recv(t, conn)

	conn.push(t, EventConnectionEstablished, "", map[string]string{"message": "Connected to Astronoma"})
	conn.push(t, EventNavigateTo, "", map[string]interface{}{"targetId": "mars"})
	select {
	case a := <-got:
		assert.Equal(t, "mars", a.TargetID)
		assert.Equal(t, "navigate", a.Type)
		assert.Equal(t, 2*time.Second, a.DurationOrDefault())
	case <-time.After(time.Second):
		t.Fatal("navigate_to not delivered")
	}
	assert.Equal(t, "Connected to Astronoma", <-greeting)

	unsubscribe()
	unsubscribe()
	conn.push(t, EventNavigateTo, "", map[string]interface{}{"targetId": "venus"})
	conn.push(t, "chat_response", env.ID, map[string]string{"text": "done"})
	require.NoError(t, (<-res).err)
	assert.Empty(t, got, "no delivery after unsubscribe")
}

func TestServiceHelpers(t *testing.T) {
	tr := &memTransport{}
	c := NewClient(tr, fastOpts())
	defer c.Close()
	svc := NewService(c, Timeouts{Chat: time.Second})

	type reply struct {
		resp *types.ChatResponse
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := svc.SendChat(context.Background(), types.ChatMessage{Message: "take me to mars"})
		done <- reply{resp, err}
	}()

	conn := waitConn(t, tr, 0)
	env := recv(t, conn)
	var msg types.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.NotZero(t, msg.Timestamp, "timestamp filled in")

	conn.push(t, "chat_response", env.ID, types.ChatResponse{
		Text:   "Let's journey to Mars!",
		Action: &types.NavigationAction{Type: "navigate", TargetID: "mars", Duration: 3000},
	})
	r := <-done
	require.NoError(t, r.err)
	require.NotNil(t, r.resp.Action)
	assert.Equal(t, 3*time.Second, r.resp.Action.DurationOrDefault())

	_, err := svc.GenerateUniverse(context.Background(), types.GenerationRequest{})
	assert.Error(t, err, "invalid requests never reach the wire")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "a", errorMessage(json.RawMessage(`{"error":"a"}`)))
	assert.Equal(t, "b", errorMessage(json.RawMessage(`"b"`)))
	assert.Equal(t, "unknown error", errorMessage(nil))
}
