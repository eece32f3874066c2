package voicesession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/siacoach/voice-core/core/audio"
	"github.com/siacoach/voice-core/core/protocol"
	"github.com/siacoach/voice-core/core/transport"
)

type fakeSource struct {
	mu        sync.Mutex
	capturing bool
	closed    bool
	startErr  error
	onAudio   func([]byte)
}

func (f *fakeSource) StartCapture(_ context.Context, onAudio func(chunk []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.capturing = true
	f.onAudio = onAudio
	return nil
}

func (f *fakeSource) StopCapture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capturing = false
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (f *fakeSource) isCapturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

type fakeSink struct {
	mu     sync.Mutex
	played [][]byte
	halted int
}

func (f *fakeSink) Play(_ context.Context, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, chunk)
	return nil
}

func (f *fakeSink) Halt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted++
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

type fakeConn struct {
	mu       sync.Mutex
	open     bool
	audio    [][]byte
	commands []protocol.Command
	handler  transport.Handler
}

func (f *fakeConn) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return transport.ErrNotConnected
	}
	f.audio = append(f.audio, chunk)
	return nil
}

func (f *fakeConn) SendCommand(cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return transport.ErrNotConnected
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return nil
	}
	f.open = false
	handler := f.handler
	f.mu.Unlock()
	handler.OnClosed(nil)
	return nil
}

func (f *fakeConn) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// drop simulates an unexpected transport failure.
func (f *fakeConn) drop(err error) {
	f.mu.Lock()
	f.open = false
	handler := f.handler
	f.mu.Unlock()
	handler.OnClosed(err)
}

func (f *fakeConn) sentCommands() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command{}, f.commands...)
}

// fakeBackend hands out fakeConns and remembers the dial history.
type fakeBackend struct {
	mu      sync.Mutex
	conns   []*fakeConn
	inits   []protocol.InitCommand
	dialErr error
}

func (b *fakeBackend) dial(_ context.Context, _ string, init protocol.InitCommand, handler transport.Handler) (transportConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inits = append(b.inits, init)
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &fakeConn{open: true, handler: handler}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBackend) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inits)
}

func (b *fakeBackend) latest() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(t *testing.T, backend *fakeBackend, opts ...SessionOption) (*Session, *fakeSource, *fakeSink) {
	t.Helper()
	source := &fakeSource{}
	sink := &fakeSink{}
	opts = append([]SessionOption{
		WithAudioSource(source),
		WithAudioSink(sink),
		WithDialer(backend.dial),
	}, opts...)
	session := NewSession(42, 7, opts...)
	t.Cleanup(func() { _ = session.Close() })
	return session, source, sink
}

func initialize(t *testing.T, session *Session, backend *fakeBackend) *fakeConn {
	t.Helper()
	if err := session.Connect(context.Background(), "ws://backend/ws/voice"); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	conn := backend.latest()
	conn.handler.OnEvent([]byte(`{"type":"session_initialized","session_id":"abc"}`))
	return conn
}

func TestConnectHandshake(t *testing.T) {
	backend := &fakeBackend{}
	var gotID string
	session, _, _ := newTestSession(t, backend, OnSessionInitialized(func(id string) { gotID = id }))

	if err := session.Connect(context.Background(), "ws://backend/ws/voice"); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if got := session.State(); got != StateConnecting {
		t.Fatalf("expected connecting before handshake confirmation, got %q", got)
	}
	if got := session.SessionID(); got != "" {
		t.Fatalf("expected no session id before confirmation, got %q", got)
	}

	backend.latest().handler.OnEvent([]byte(`{"type":"session_initialized","session_id":"abc"}`))

	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle after handshake, got %q", got)
	}
	if session.SessionID() != "abc" || gotID != "abc" {
		t.Fatalf("expected session id abc, got %q (callback %q)", session.SessionID(), gotID)
	}

	init := backend.inits[0]
	if init.BusinessID != 42 || init.UserID != 7 {
		t.Fatalf("unexpected init payload: %+v", init)
	}
}

func TestConnectDialFailure(t *testing.T) {
	backend := &fakeBackend{dialErr: errors.New("connection refused")}
	var transportErr error
	session, _, _ := newTestSession(t, backend, OnTransportError(func(err error) { transportErr = err }))

	err := session.Connect(context.Background(), "ws://backend/ws/voice")
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
	if got := session.State(); got != StateError {
		t.Fatalf("expected error state, got %q", got)
	}
	if transportErr == nil {
		t.Fatal("expected transport error callback")
	}
}

func TestDuplicateSessionInitializedIgnored(t *testing.T) {
	backend := &fakeBackend{}
	session, _, _ := newTestSession(t, backend)
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"session_initialized","session_id":"other"}`))

	if got := session.SessionID(); got != "abc" {
		t.Fatalf("session id reassigned to %q", got)
	}
}

func TestListeningStreamsAudio(t *testing.T) {
	backend := &fakeBackend{}
	session, source, _ := newTestSession(t, backend)
	conn := initialize(t, session, backend)

	if err := session.StartListening(); err != nil {
		t.Fatalf("failed to start listening: %v", err)
	}
	if got := session.State(); got != StateListening {
		t.Fatalf("expected listening, got %q", got)
	}
	if !source.isCapturing() {
		t.Fatal("expected source capturing")
	}

	info := source.EncodingInfo()
	source.onAudio(make([]byte, info.ChunkBytes(100)))

	waitFor(t, "forwarded audio", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.audio) == 1
	})
}

func TestStartListeningRequiresConnection(t *testing.T) {
	backend := &fakeBackend{}
	session, source, _ := newTestSession(t, backend)

	if err := session.StartListening(); err != nil {
		t.Fatalf("expected deferred no-op, got %v", err)
	}
	if source.isCapturing() {
		t.Fatal("capture started without a connection")
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle, got %q", got)
	}
}

func TestStopListeningSendsTurnEnd(t *testing.T) {
	backend := &fakeBackend{}
	session, source, _ := newTestSession(t, backend)
	conn := initialize(t, session, backend)

	if err := session.StartListening(); err != nil {
		t.Fatalf("failed to start listening: %v", err)
	}
	if err := session.StopListening(); err != nil {
		t.Fatalf("failed to stop listening: %v", err)
	}

	if source.isCapturing() {
		t.Fatal("expected capture stopped")
	}
	commands := conn.sentCommands()
	if len(commands) != 1 {
		t.Fatalf("expected exactly one command, got %d", len(commands))
	}
	if _, ok := commands[0].(protocol.TurnEndCommand); !ok {
		t.Fatalf("expected turn end command, got %T", commands[0])
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle, got %q", got)
	}

	// Stopping again must not redeclare the turn.
	if err := session.StopListening(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if got := len(conn.sentCommands()); got != 1 {
		t.Fatalf("expected no extra command, got %d", got)
	}
}

func TestAgentSpeakingHaltsCapture(t *testing.T) {
	backend := &fakeBackend{}
	var spoken string
	session, source, _ := newTestSession(t, backend, OnAgentSpeaking(func(text string) { spoken = text }))
	conn := initialize(t, session, backend)

	if err := session.StartListening(); err != nil {
		t.Fatalf("failed to start listening: %v", err)
	}

	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"Let's look at your budget."}`))

	if source.isCapturing() {
		t.Fatal("capture still running while agent speaks")
	}
	if got := session.State(); got != StateSpeaking {
		t.Fatalf("expected speaking, got %q", got)
	}
	if spoken != "Let's look at your budget." {
		t.Fatalf("unexpected agent text %q", spoken)
	}

	// Starting the microphone over agent speech stays a no-op.
	if err := session.StartListening(); err != nil {
		t.Fatalf("start during speaking: %v", err)
	}
	if source.isCapturing() {
		t.Fatal("capture restarted over agent speech")
	}
}

// gatedStartSource suspends device acquisition until released, so a
// test can land events while StartListening is mid-flight.
type gatedStartSource struct {
	fakeSource
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStartSource) StartCapture(ctx context.Context, onAudio func(chunk []byte)) error {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeSource.StartCapture(ctx, onAudio)
}

func TestAgentSpeakingDuringCaptureAcquisition(t *testing.T) {
	backend := &fakeBackend{}
	source := &gatedStartSource{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	session, _, _ := newTestSession(t, backend, WithAudioSource(source))
	conn := initialize(t, session, backend)

	started := make(chan error, 1)
	go func() { started <- session.StartListening() }()
	<-source.entered

	// The event arrives while the device is still being acquired; its
	// capture halt must still win.
	go conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"hi"}`))
	time.Sleep(20 * time.Millisecond)
	close(source.release)

	if err := <-started; err != nil {
		t.Fatalf("failed to start listening: %v", err)
	}

	waitFor(t, "speaking state", func() bool { return session.State() == StateSpeaking })
	waitFor(t, "capture halted", func() bool { return !source.isCapturing() })
}

func TestAgentSpeakingBeforeCaptureAcquisition(t *testing.T) {
	backend := &fakeBackend{}
	var conn *fakeConn
	var once sync.Once
	session, source, _ := newTestSession(t, backend, OnStateChanged(func(state State) {
		// Fires between the listening transition and the device
		// acquisition, on the caller's goroutine.
		if state == StateListening && conn != nil {
			once.Do(func() {
				conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"hi"}`))
			})
		}
	}))
	conn = initialize(t, session, backend)

	if err := session.StartListening(); err != nil {
		t.Fatalf("failed to start listening: %v", err)
	}

	if got := session.State(); got != StateSpeaking {
		t.Fatalf("expected speaking, got %q", got)
	}
	if source.isCapturing() {
		t.Fatal("microphone live while agent speaks")
	}
}

func TestAgentFinishedGracePeriod(t *testing.T) {
	backend := &fakeBackend{}
	var finished bool
	session, _, _ := newTestSession(t, backend,
		WithFinishedGracePeriod(30*time.Millisecond),
		OnAgentFinished(func(bool) { finished = true }),
	)
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"hi"}`))
	conn.handler.OnEvent([]byte(`{"type":"agent_finished"}`))

	if !finished {
		t.Fatal("expected agent finished callback")
	}
	if got := session.State(); got != StateSpeaking {
		t.Fatalf("expected speaking during grace period, got %q", got)
	}

	waitFor(t, "idle after grace period", func() bool { return session.State() == StateIdle })
}

func TestAgentFinishedGraceCancelledByNewSpeech(t *testing.T) {
	backend := &fakeBackend{}
	session, _, _ := newTestSession(t, backend, WithFinishedGracePeriod(30*time.Millisecond))
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"one"}`))
	conn.handler.OnEvent([]byte(`{"type":"agent_finished"}`))
	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"two"}`))

	time.Sleep(60 * time.Millisecond)
	if got := session.State(); got != StateSpeaking {
		t.Fatalf("grace timer fired across a new utterance, state %q", got)
	}
}

func TestInboundAudioPlaysInOrder(t *testing.T) {
	backend := &fakeBackend{}
	var received int
	session, _, sink := newTestSession(t, backend, OnAudioReceived(func(chunk []byte) { received += len(chunk) }))
	conn := initialize(t, session, backend)

	info := sink.EncodingInfo()
	first := make([]byte, info.ChunkBytes(20))
	second := make([]byte, info.ChunkBytes(40))
	conn.handler.OnAudio(first)
	conn.handler.OnAudio(second)

	waitFor(t, "both chunks played", func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.played) == 2
	})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.played[0]) != len(first) || len(sink.played[1]) != len(second) {
		t.Fatal("chunks played out of order")
	}
	if received != len(first)+len(second) {
		t.Fatalf("audio callback saw %d bytes", received)
	}
}

func TestInterruptedClearsPlaybackAndResumes(t *testing.T) {
	backend := &fakeBackend{}
	var spokenText string
	var pending bool
	session, source, sink := newTestSession(t, backend, OnInterrupted(func(text string, hasPending bool) {
		spokenText = text
		pending = hasPending
	}))
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"long answer"}`))
	conn.handler.OnEvent([]byte(`{"type":"interrupted","spoken_text":"long","remaining_text":"answer","has_pending_work":true}`))

	sink.mu.Lock()
	halted := sink.halted
	sink.mu.Unlock()
	if halted == 0 {
		t.Fatal("expected playback halted on interruption")
	}
	if got := session.State(); got != StateListening {
		t.Fatalf("expected listening after interruption, got %q", got)
	}
	if !source.isCapturing() {
		t.Fatal("expected capture resumed")
	}
	if spokenText != "long" || !pending {
		t.Fatalf("unexpected interruption payload %q %v", spokenText, pending)
	}
}

func TestInterruptedWithoutResumeStaysIdle(t *testing.T) {
	backend := &fakeBackend{}
	session, source, _ := newTestSession(t, backend, WithResumeOnInterrupt(false))
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"hi"}`))
	conn.handler.OnEvent([]byte(`{"type":"interrupted","spoken_text":"hi"}`))

	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle, got %q", got)
	}
	if source.isCapturing() {
		t.Fatal("capture resumed despite resume disabled")
	}
}

func TestErrorEventSurfacesOnce(t *testing.T) {
	backend := &fakeBackend{}
	var messages []string
	session, source, _ := newTestSession(t, backend, OnError(func(message string) { messages = append(messages, message) }))
	conn := initialize(t, session, backend)

	if err := session.StartListening(); err != nil {
		t.Fatalf("failed to start listening: %v", err)
	}

	conn.handler.OnEvent([]byte(`{"type":"error","message":"agent unavailable"}`))
	conn.handler.OnEvent([]byte(`{"type":"error","message":"agent unavailable"}`))

	if got := session.State(); got != StateError {
		t.Fatalf("expected error state, got %q", got)
	}
	if source.isCapturing() {
		t.Fatal("expected capture stopped on error")
	}
	if len(messages) != 1 || messages[0] != "agent unavailable" {
		t.Fatalf("expected error surfaced verbatim once, got %v", messages)
	}
}

func TestTimeoutEvent(t *testing.T) {
	backend := &fakeBackend{}
	var message string
	session, _, _ := newTestSession(t, backend, OnTimeout(func(m string) { message = m }))
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"timeout","message":"session timed out due to inactivity"}`))

	if got := session.State(); got != StateTimeout {
		t.Fatalf("expected timeout state, got %q", got)
	}
	if message != "session timed out due to inactivity" {
		t.Fatalf("unexpected timeout message %q", message)
	}
}

func TestHeartbeatAnsweredInProtocol(t *testing.T) {
	backend := &fakeBackend{}
	var stateChanges []State
	session, _, _ := newTestSession(t, backend, OnStateChanged(func(s State) { stateChanges = append(stateChanges, s) }))
	conn := initialize(t, session, backend)
	before := len(stateChanges)

	conn.handler.OnEvent([]byte(`{"type":"heartbeat"}`))

	commands := conn.sentCommands()
	if len(commands) != 1 {
		t.Fatalf("expected one command, got %d", len(commands))
	}
	if _, ok := commands[0].(protocol.PingCommand); !ok {
		t.Fatalf("expected ping, got %T", commands[0])
	}
	if len(stateChanges) != before {
		t.Fatal("heartbeat must not surface to the session")
	}
}

func TestMalformedFrameSwallowed(t *testing.T) {
	backend := &fakeBackend{}
	session, _, _ := newTestSession(t, backend)
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{not json`))
	conn.handler.OnEvent([]byte(`{"type":""}`))
	conn.handler.OnEvent([]byte(`{"type":"future_feature"}`))
	conn.handler.OnEvent([]byte(`{"type":"processing"}`))

	if got := session.State(); got != StateProcessing {
		t.Fatalf("dispatch stalled after malformed frames, state %q", got)
	}
}

func TestSessionCompleteReturnsToIdle(t *testing.T) {
	backend := &fakeBackend{}
	var completed bool
	session, _, _ := newTestSession(t, backend, OnSessionComplete(func() { completed = true }))
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"bye"}`))
	conn.handler.OnEvent([]byte(`{"type":"session_complete"}`))

	if !completed {
		t.Fatal("expected session complete callback")
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle, got %q", got)
	}
}

func TestReconnectWithinBudget(t *testing.T) {
	backend := &fakeBackend{}
	session, _, _ := newTestSession(t, backend, WithReconnectPolicy(3, 10*time.Millisecond))
	conn := initialize(t, session, backend)

	conn.drop(errors.New("connection reset"))

	if got := session.SessionID(); got != "" {
		t.Fatalf("session id survived disconnect: %q", got)
	}

	waitFor(t, "redial", func() bool { return backend.dialCount() == 2 })
	waitFor(t, "connecting state", func() bool { return session.State() == StateConnecting })

	backend.latest().handler.OnEvent([]byte(`{"type":"session_initialized","session_id":"def"}`))

	if got := session.SessionID(); got != "def" {
		t.Fatalf("expected new session id, got %q", got)
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle after reconnect, got %q", got)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	backend := &fakeBackend{}
	var transportErr error
	var mu sync.Mutex
	session, _, _ := newTestSession(t, backend,
		WithReconnectPolicy(2, 5*time.Millisecond),
		OnTransportError(func(err error) {
			mu.Lock()
			transportErr = err
			mu.Unlock()
		}),
	)
	conn := initialize(t, session, backend)

	backend.mu.Lock()
	backend.dialErr = errors.New("connection refused")
	backend.mu.Unlock()

	conn.drop(errors.New("connection reset"))

	waitFor(t, "error state after exhausted budget", func() bool { return session.State() == StateError })

	// Initial dial plus exactly two redials.
	if got := backend.dialCount(); got != 3 {
		t.Fatalf("expected 3 dials, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if transportErr == nil {
		t.Fatal("expected transport error after exhausted reconnects")
	}
}

func TestDisconnectDuringReconnectDialDropsFreshConn(t *testing.T) {
	backend := &fakeBackend{}
	gate := struct {
		armed   sync.Mutex
		on      bool
		entered chan struct{}
		release chan struct{}
	}{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}

	dial := func(ctx context.Context, endpoint string, init protocol.InitCommand, handler transport.Handler) (transportConn, error) {
		gate.armed.Lock()
		gated := gate.on
		gate.armed.Unlock()
		if gated {
			gate.entered <- struct{}{}
			<-gate.release
		}
		return backend.dial(ctx, endpoint, init, handler)
	}

	session, _, _ := newTestSession(t, backend,
		WithDialer(dial),
		WithReconnectPolicy(3, 5*time.Millisecond),
	)
	conn := initialize(t, session, backend)

	gate.armed.Lock()
	gate.on = true
	gate.armed.Unlock()

	conn.drop(errors.New("connection reset"))
	<-gate.entered

	// The teardown lands while the redial is in flight; the fresh
	// connection must not survive it.
	if err := session.Disconnect(); err != nil {
		t.Fatalf("failed to disconnect: %v", err)
	}
	close(gate.release)

	waitFor(t, "fresh connection closed", func() bool {
		latest := backend.latest()
		return backend.dialCount() == 2 && latest != nil && !latest.IsOpen()
	})
	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle after disconnect, got %q", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := backend.dialCount(); got != 2 {
		t.Fatalf("redial continued after disconnect: %d dials", got)
	}
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	backend := &fakeBackend{}
	var disconnected bool
	session, _, _ := newTestSession(t, backend, OnDisconnected(func() { disconnected = true }))
	initialize(t, session, backend)

	if err := session.Disconnect(); err != nil {
		t.Fatalf("failed to disconnect: %v", err)
	}

	if !disconnected {
		t.Fatal("expected disconnect callback")
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("expected idle after disconnect, got %q", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := backend.dialCount(); got != 1 {
		t.Fatalf("unexpected redial after caller disconnect: %d dials", got)
	}
}

func TestTranscriptRecordsFinalUtterances(t *testing.T) {
	backend := &fakeBackend{}
	session, _, _ := newTestSession(t, backend)
	conn := initialize(t, session, backend)

	conn.handler.OnEvent([]byte(`{"type":"transcription","text":"I want to","is_final":false}`))
	conn.handler.OnEvent([]byte(`{"type":"transcription","text":"I want to save more","is_final":true}`))
	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"Great goal."}`))

	entries := session.Transcript()
	if len(entries) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(entries))
	}
	if entries[0].Role != RoleUser || entries[0].Text != "I want to save more" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Role != RoleAgent || entries[1].Text != "Great goal." {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}

	// The snapshot must be isolated from later activity.
	conn.handler.OnEvent([]byte(`{"type":"agent_speaking","text":"More."}`))
	if len(entries) != 2 {
		t.Fatal("snapshot mutated by later events")
	}
}
