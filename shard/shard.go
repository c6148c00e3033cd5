// Package shard runs a single Discord gateway connection: socket, inflater,
// heartbeat timer, sequence/session tracking, outbound ratelimiter, and a
// filtered-subscriber fan-out.
package shard

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/schema"
	"github.com/switchupcb/websocket"

	"github.com/ravenbound/shardwire"
	"github.com/ravenbound/shardwire/frame"
	"github.com/ravenbound/shardwire/inflate"
	"github.com/ravenbound/shardwire/internal/socket"
)

// GatewayResolver resolves the wss:// endpoint a shard should connect to,
// deferring to an external REST collaborator: the core never builds the
// request itself.
type GatewayResolver interface {
	ResolveGatewayURL(ctx context.Context) (url string, err error)
}

const invalidSessionWaitTime = 1 * time.Second

var schemaEncoder = schema.NewEncoder() //nolint:gochecknoglobals

type gatewayQuery struct {
	Version  string `schema:"v"`
	Encoding string `schema:"encoding"`
	Compress string `schema:"compress"`
}

// Shard is one gateway connection's state machine. The zero value is not
// usable; construct with New.
type Shard struct {
	cfg      Config
	resolver GatewayResolver

	mu               sync.RWMutex
	state            State
	sessionID        string
	seq              int64
	resumeGatewayURL string
	started          bool

	conn     *websocket.Conn
	inflater *inflate.Inflater
	limiter  *outboundLimiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outbound chan outboundFrame
	acked    chan struct{}

	subsMu sync.Mutex
	subs   []*subscriber

	latencyMu sync.Mutex
	latency   []int64

	lastHeartbeatSent time.Time
}

type outboundFrame struct {
	op          shardwire.GatewayOp
	data        any
	isHeartbeat bool
	done        chan error
}

// New constructs a Shard from cfg. If resolver is nil, cfg.GatewayURL must be
// set.
func New(cfg Config, resolver GatewayResolver) *Shard {
	return &Shard{
		cfg:      cfg,
		resolver: resolver,
		inflater: inflate.New(),
		limiter:  newOutboundLimiter(!cfg.RatelimitPayloads),
	}
}

// Resume seeds a fresh Shard with a prior ResumeRecord so its first
// connection attempt resumes instead of identifying.
func (s *Shard) Resume(record ResumeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = record.SessionID
	s.seq = record.Seq
	s.resumeGatewayURL = record.ResumeGatewayURL
}

// Start connects the shard, sends Identify or Resume, and starts the
// processor. It returns once that first command has been written, or with
// the first connection attempt's error (the shard is then FatallyClosed).
// Start does not wait for the READY or RESUMED dispatch; the shard reaches
// Connected later, when run handles that dispatch.
func (s *Shard) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return shardwire.NewError(shardwire.ErrEstablishing, err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return shardwire.NewError(shardwire.ErrEstablishing, errors.New("shard: already started"))
	}

	s.started = true
	s.state = Connecting
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.outbound = make(chan outboundFrame, 16)
	s.acked = make(chan struct{}, 1)

	if err := s.connectOnce(s.ctx); err != nil {
		s.setState(FatallyClosed)

		return err
	}

	s.wg.Add(1)

	go s.run()

	return nil
}

// Events registers a subscriber matching filter. The returned channel is
// closed when the subscriber is dropped (a full buffer, or the shard
// shutting down).
func (s *Shard) Events(filter Filter) <-chan Event {
	if filter == nil {
		filter = DefaultFilter
	}

	sub := &subscriber{filter: filter, sink: make(chan Event, subscriberBuffer)}

	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()

	return sub.sink
}

func gatewayOpName(op shardwire.GatewayOp) string {
	switch op {
	case shardwire.OpPresenceUpdate:
		return "PRESENCE_UPDATE"
	case shardwire.OpVoiceStateUpdate:
		return "VOICE_STATE_UPDATE"
	case shardwire.OpRequestGuildMembers:
		return "REQUEST_GUILD_MEMBERS"
	default:
		return "UNKNOWN"
	}
}

// Command serializes value and enqueues it as an outbound frame of the
// given opcode, respecting the outbound ratelimiter unless disabled.
func (s *Shard) Command(ctx context.Context, op shardwire.GatewayOp, value any) error {
	s.mu.RLock()
	closed := s.outbound == nil
	s.mu.RUnlock()

	if closed {
		return shardwire.NewError(shardwire.ErrSending, errors.New("shard: not started"))
	}

	if err := s.limiter.Use(ctx); err != nil {
		return shardwire.NewError(shardwire.ErrSending, err)
	}

	shardwire.LogCommand(shardwire.Logger.Debug(), s.cfg.Shard, op, gatewayOpName(op)).Msg("command queued")

	done := make(chan error, 1)

	select {
	case s.outbound <- outboundFrame{op: op, data: value, done: done}:
	case <-ctx.Done():
		return shardwire.NewError(shardwire.ErrSending, ctx.Err())
	case <-s.ctx.Done():
		return shardwire.NewError(shardwire.ErrSending, errors.New("shard: closed"))
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return shardwire.NewError(shardwire.ErrSending, ctx.Err())
	}
}

// Info returns a snapshot of the shard's session state. It fails with
// ErrStopped only if the shard was never started; after Shutdown it still
// returns the last snapshot.
func (s *Shard) Info() (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return Info{}, shardwire.NewError(shardwire.ErrStopped, nil)
	}

	s.latencyMu.Lock()
	samples := append([]int64(nil), s.latency...)
	s.latencyMu.Unlock()

	var avg int64
	if len(samples) > 0 {
		var sum int64
		for _, v := range samples {
			sum += v
		}

		avg = sum / int64(len(samples))
	}

	return Info{
		ShardIndex:     s.cfg.Shard.Index,
		Stage:          s.state,
		Seq:            s.seq,
		LatencySamples: samples,
		AverageLatency: avg,
	}, nil
}

// Shutdown closes the socket with code 1000 and tears down the shard
// non-resumably.
func (s *Shard) Shutdown() {
	s.closeWith(shardwire.CloseNormal)
}

// ShutdownResumable closes the socket with code 4000 and returns a
// ResumeRecord if the shard ever reached Connected.
func (s *Shard) ShutdownResumable() (uint32, *ResumeRecord) {
	s.mu.Lock()
	hadSession := s.sessionID != "" && s.state != FatallyClosed
	record := ResumeRecord{
		ShardIndex:       s.cfg.Shard.Index,
		SessionID:        s.sessionID,
		Seq:              s.seq,
		ResumeGatewayURL: s.resumeGatewayURL,
	}
	s.mu.Unlock()

	s.closeWith(shardwire.CloseRestarting)

	if !hadSession {
		return s.cfg.Shard.Index, nil
	}

	return s.cfg.Shard.Index, &record
}

func (s *Shard) closeWith(code int) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusCode(code), "")
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()
	s.dropSubscribers()
}

func (s *Shard) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Shard) canResume() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessionID != "" && s.seq != 0
}

// connectOnce establishes the WebSocket, awaits Hello, starts the heartbeat
// task, and sends either Resume or Identify. It returns once that command
// has been written, leaving the shard in Resuming or Identifying, or with
// the first error. It does not wait for the READY or RESUMED dispatch that
// moves the shard to Connected; handleEvent does that on run's goroutine.
func (s *Shard) connectOnce(ctx context.Context) error {
	endpoint, err := s.resolveURL(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return shardwire.NewError(shardwire.ErrEstablishing, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.inflater.Reset()

	hello, err := s.readUntilKind(ctx, frame.KindHello)
	if err != nil {
		return shardwire.NewError(shardwire.ErrEstablishing, err)
	}

	s.startHeartbeat(hello.HeartbeatIntervalMS)

	if s.canResume() {
		if err := s.sendResume(ctx); err != nil {
			return err
		}

		s.setState(Resuming)
		shardwire.LogSession(shardwire.Logger.Info(), s.cfg.Shard, s.sessionID).Msg("resume sent")
	} else {
		if err := s.sendIdentify(ctx); err != nil {
			return err
		}

		s.setState(Identifying)
		shardwire.LogSession(shardwire.Logger.Info(), s.cfg.Shard, s.sessionID).Msg("identify sent")
	}

	return nil
}

func (s *Shard) resolveURL(ctx context.Context) (string, error) {
	s.mu.RLock()
	override := s.cfg.GatewayURL
	resume := s.resumeGatewayURL
	s.mu.RUnlock()

	base := override
	if base == "" {
		base = resume
	}

	if base == "" {
		if s.resolver == nil {
			return "", shardwire.NewError(shardwire.ErrRetrievingGatewayURL, errors.New("shard: no gateway url or resolver configured"))
		}

		resolved, err := s.resolver.ResolveGatewayURL(ctx)
		if err != nil {
			return "", shardwire.NewError(shardwire.ErrRetrievingGatewayURL, err)
		}

		base = resolved
	}

	query := url.Values{}
	if err := schemaEncoder.Encode(gatewayQuery{Version: apiVersion, Encoding: "json", Compress: "zlib-stream"}, query); err != nil {
		return "", shardwire.NewError(shardwire.ErrParsingGatewayURL, err)
	}

	return base + "?" + query.Encode(), nil
}

// readUntilKind reads frames until one of the given kind arrives, discarding
// any other event received in the meantime. Used only during the initial
// Hello handshake.
func (s *Shard) readUntilKind(ctx context.Context, kind frame.Kind) (*frame.GatewayEvent, error) {
	for {
		ev, err := socket.Read(ctx, s.conn, s.inflater)
		if err != nil {
			return nil, err
		}

		if ev == nil {
			continue
		}

		if ev.Kind == kind {
			return ev, nil
		}
	}
}

func (s *Shard) sendIdentify(ctx context.Context) error {
	bucket := s.cfg.Shard.Bucket(maxConcurrencyOf(s.cfg))

	ticket := s.cfg.Queue.Request(ctx, bucket)
	if ticket.Err != nil {
		return shardwire.NewError(shardwire.ErrEstablishing, ticket.Err)
	}

	var presence Presence
	if s.cfg.Presence != nil {
		presence = *s.cfg.Presence
	}

	identify := identifyCommand{
		Token:          s.cfg.bearerToken(),
		Properties:     s.cfg.IdentifyProperties,
		Compress:       false,
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          [2]uint32{s.cfg.Shard.Index, s.cfg.Shard.Total},
		Presence:       presence,
		Intents:        s.cfg.Intents,
	}

	return socket.Write(ctx, s.conn, shardwire.OpIdentify, identify)
}

func (s *Shard) sendResume(ctx context.Context) error {
	s.mu.RLock()
	resume := resumeCommand{
		Token:     s.cfg.bearerToken(),
		SessionID: s.sessionID,
		Seq:       s.seq,
	}
	s.mu.RUnlock()

	return socket.Write(ctx, s.conn, shardwire.OpResume, resume)
}

// maxConcurrencyOf returns the gateway session-start concurrency for this
// shard's identify bucket. Absent an explicit cluster-level override this
// defaults to 1 (no sharing), matching a single unsharded bot.
func maxConcurrencyOf(cfg Config) uint32 {
	if cfg.MaxConcurrency == 0 {
		return 1
	}

	return cfg.MaxConcurrency
}

type identifyCommand struct {
	Token          string              `json:"token,omitempty"`
	Properties     IdentifyProperties  `json:"properties,omitempty"`
	Compress       bool                `json:"compress,omitempty"`
	LargeThreshold int                 `json:"large_threshold,omitempty"`
	Shard          [2]uint32           `json:"shard,omitempty"`
	Presence       Presence            `json:"presence,omitempty"`
	Intents        uint64              `json:"intents,omitempty"`
}

type resumeCommand struct {
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
}

// currentConn borrows the live connection under lock. connectOnce swaps
// s.conn on every (re)connect, so both the reader and the writer fetch it
// fresh on every iteration instead of capturing it once, matching the
// single-writer/single-reader discipline without a socket-level mutex.
func (s *Shard) currentConn() *websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.conn
}

// closeForReconnect closes the current connection with code 4000. It is
// the one signal every goroutine uses to hand a reconnect decision back to
// run: closing unblocks run's own blocking Read with an error, which
// routes through handleReadError/triggerReconnect on run's goroutine — the
// only goroutine allowed to call connectOnce — rather than racing a second
// goroutine that dials a new connection while run is still blocked reading
// the old one.
func (s *Shard) closeForReconnect(reason string) {
	conn := s.currentConn()
	if conn != nil {
		_ = conn.Close(websocket.StatusCode(shardwire.CloseRestarting), reason)
	}
}

// run is the shard's processor task: it owns the socket's read side, the
// heartbeat ack channel, and the outbound frame channel (shared with a
// single-writer forwarder so no socket-level mutex is needed). It keeps
// running across reconnects: a transient read error reconnects in place
// via handleReadError and the loop resumes reading the new connection.
func (s *Shard) run() {
	defer s.wg.Done()

	go s.forward()

	for {
		ev, err := socket.Read(s.ctx, s.currentConn(), s.inflater)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}

			if !s.handleReadError(err) {
				return
			}

			continue
		}

		if ev == nil {
			continue
		}

		s.handleEvent(ev)
	}
}

// forward owns the write half of the socket exclusively, serializing sends
// from Command calls and the heartbeat task onto one goroutine. It also
// keeps running across reconnects, re-fetching the current connection on
// every send instead of a connection captured once at startup.
func (s *Shard) forward() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case f := <-s.outbound:
			err := socket.Write(s.ctx, s.currentConn(), f.op, f.data)

			if f.op == shardwire.OpHeartbeat {
				s.mu.Lock()
				s.lastHeartbeatSent = time.Now()
				s.mu.Unlock()
			}

			if f.done != nil {
				if err != nil {
					f.done <- shardwire.NewError(shardwire.ErrSending, err)
				} else {
					f.done <- nil
				}
			}

			if err != nil {
				s.closeForReconnect("write failed")
			}
		}
	}
}

func (s *Shard) handleEvent(ev *frame.GatewayEvent) {
	s.fanOut(Event{Kind: KindShardPayload, ShardIndex: s.cfg.Shard.Index})

	switch ev.Kind {
	case frame.KindDispatch:
		s.mu.Lock()
		s.seq = ev.Seq
		s.mu.Unlock()

		switch ev.Name {
		case "READY":
			var ready struct {
				SessionID        string `json:"session_id"`
				ResumeGatewayURL string `json:"resume_gateway_url"`
			}

			_ = json.Unmarshal(ev.Payload, &ready)

			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.resumeGatewayURL = ready.ResumeGatewayURL
			s.mu.Unlock()

			s.setState(Connected)
			s.fanOut(Event{Kind: KindShardConnected, ShardIndex: s.cfg.Shard.Index})
			shardwire.LogSession(shardwire.Logger.Info(), s.cfg.Shard, ready.SessionID).Msg("identify complete")

		case "RESUMED":
			s.setState(Connected)
			s.fanOut(Event{Kind: KindShardConnected, ShardIndex: s.cfg.Shard.Index})
			shardwire.LogSession(shardwire.Logger.Info(), s.cfg.Shard, s.sessionID).Msg("resume complete")
		}

		seq := ev.Seq

		s.fanOut(Event{Kind: EventKind(ev.Name), Payload: ev.Payload, Sequence: &seq, ShardIndex: s.cfg.Shard.Index})

	case frame.KindHeartbeat:
		s.enqueueHeartbeat(ev.HeartbeatSeq)

	case frame.KindHeartbeatACK:
		s.recordAck()

	case frame.KindReconnect:
		_ = s.triggerReconnect(nil)

	case frame.KindInvalidSession:
		s.handleInvalidSession(ev.Resumable)
	}
}

func (s *Shard) handleInvalidSession(resumable bool) {
	time.Sleep(invalidSessionWaitTime + time.Duration(rand.Int63n(int64(4*time.Second))))

	if !resumable {
		s.mu.Lock()
		s.sessionID = ""
		s.seq = 0
		s.mu.Unlock()
	}

	s.mu.RLock()
	resuming := s.state == Resuming
	s.mu.RUnlock()

	if resumable && !resuming && s.canResume() {
		if err := s.sendResume(s.ctx); err != nil {
			_ = s.triggerReconnect(err)

			return
		}

		s.setState(Resuming)

		return
	}

	s.setState(Identifying)

	if err := s.sendIdentify(s.ctx); err != nil {
		_ = s.triggerReconnect(err)
	}
}

// handleReadError classifies a run-loop read failure and decides whether to
// reconnect in place. It reports false when the shard is done for good
// (fatal close code or context canceled) and run should exit, true when it
// reconnected successfully and run should resume reading.
func (s *Shard) handleReadError(err error) bool {
	if err == nil {
		return true
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return s.handleCloseCode(int(closeErr.Code))
	}

	return s.triggerReconnect(err)
}

// handleCloseCode implements the close-code table exactly: 4004/4013/4014
// are terminal, 4000-4009 otherwise (and anything else with a live session)
// reconnect with Resume, and anything else with no session reconnects with
// a fresh Identify.
func (s *Shard) handleCloseCode(code int) bool {
	switch code {
	case 4004:
		s.fatal(shardwire.ErrAuthorizationInvalid)
		return false
	case 4013:
		s.fatal(shardwire.ErrIntentsInvalid)
		return false
	case 4014:
		s.fatal(shardwire.ErrIntentsDisallowed)
		return false
	default:
		return s.triggerReconnect(fmt.Errorf("shard: closed with code %d", code))
	}
}

func (s *Shard) fatal(kind shardwire.ErrorKind) {
	s.setState(FatallyClosed)
	s.fanOut(Event{Kind: KindShardDisconnected, ShardIndex: s.cfg.Shard.Index, Reason: shardwire.NewError(kind, nil)})
	s.cancel()
}

// triggerReconnect retries connectOnce with exponential backoff until it
// succeeds or the shard's context is done. It must only ever run on run's
// own goroutine (directly from the run loop, or synchronously from
// handleEvent's dispatch, which run also calls) — never from a second
// goroutine racing run's ownership of s.conn. Code paths that need to
// trigger a reconnect from elsewhere (the heartbeat task) close the
// connection instead via closeForReconnect and let run's own blocked read
// fail into this function.
func (s *Shard) triggerReconnect(cause error) bool {
	s.setState(Reconnecting)
	s.fanOut(Event{Kind: KindShardDisconnected, ShardIndex: s.cfg.Shard.Index, Reason: cause})

	backoff := time.Second

	for {
		select {
		case <-s.ctx.Done():
			return false
		default:
		}

		if err := s.connectOnce(s.ctx); err == nil {
			return true
		}

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return false
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Shard) enqueueHeartbeat(seq int64) {
	select {
	case s.outbound <- outboundFrame{op: shardwire.OpHeartbeat, data: seq}:
	case <-s.ctx.Done():
	}
}

func (s *Shard) recordAck() {
	s.mu.Lock()
	sentAt := s.lastHeartbeatSent
	s.mu.Unlock()

	if sentAt.IsZero() {
		return
	}

	ms := time.Since(sentAt).Milliseconds()

	s.latencyMu.Lock()
	s.latency = append(s.latency, ms)
	if len(s.latency) > 5 {
		s.latency = s.latency[len(s.latency)-5:]
	}
	s.latencyMu.Unlock()

	select {
	case s.acked <- struct{}{}:
	default:
	}
}

// startHeartbeat launches the heartbeat timer task (grounded in the
// teacher's pulse/beat split): pulse ticks on the interval and queues
// heartbeats; this simplified single task does both, since the core no
// longer needs to special-case out-of-band acks via a separate mutex.
func (s *Shard) startHeartbeat(intervalMS int64) {
	interval := time.Duration(intervalMS) * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(interval)))

	// seed one ack so the very first scheduled heartbeat isn't mistaken for
	// a missed ack, mirroring the teacher's heartbeat{acks: 1} initializer.
	select {
	case s.acked <- struct{}{}:
	default:
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(jitter)
		defer timer.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return

			case <-timer.C:
				s.mu.RLock()
				seq := s.seq
				s.mu.RUnlock()

				select {
				case <-s.acked:
				default:
					// Don't reconnect from this goroutine: closing the
					// connection unblocks run's own Read with a close
					// error, which drives the reconnect through
					// handleReadError on run's goroutine instead of racing
					// it for ownership of s.conn.
					s.closeForReconnect("no heartbeat ack before next send")

					return
				}

				s.enqueueHeartbeat(seq)
				timer.Reset(interval)
			}
		}
	}()
}

func (s *Shard) fanOut(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	live := s.subs[:0]

	for _, sub := range s.subs {
		sub.deliver(ev)

		if !sub.removed {
			live = append(live, sub)
		}
	}

	s.subs = live
}

func (s *Shard) dropSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, sub := range s.subs {
		if !sub.removed {
			close(sub.sink)
			sub.removed = true
		}
	}

	s.subs = nil
}
