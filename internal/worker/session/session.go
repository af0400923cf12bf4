package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/honux/lolbuff/internal/worker/dispatchlink"
	"github.com/honux/lolbuff/internal/worker/framereader"
	"github.com/honux/lolbuff/internal/worker/translator"
	"github.com/honux/lolbuff/internal/workerconfig"
)

// testSummonerName is the literal supervisor-probe lookup target, kept
// exactly as the original hardcoded it.
const testSummonerName = "Honux"

const loginInvokeUID = 2

// Session owns one worker's upstream connection for its entire lifetime:
// handshake, login, keep-alive, and steady-state request translation. A
// Session is driven by a single Run call and is not reusable afterward.
type Session struct {
	cfg  *workerconfig.Config
	cred dispatchlink.Credential
	link *dispatchlink.Link
	log  *zap.SugaredLogger

	conn     *tls.Conn
	writeMu  sync.Mutex
	invokeID uint32 // next invocation UID to hand out; starts at loginInvokeUID

	corr *translator.Correlation

	ctx context.Context

	dsID         string
	headers      []byte
	authToken    string
	sessionToken string
	accountID    int64

	ready      chan struct{}
	readyOnce  sync.Once
	testUID    uint32
	testResult chan bool

	errOnce sync.Once
	errCh   chan error
}

// New constructs a Session for a freshly leased credential, ready for Run.
func New(cfg *workerconfig.Config, cred dispatchlink.Credential, link *dispatchlink.Link, log *zap.SugaredLogger) *Session {
	return &Session{
		cfg:        cfg,
		cred:       cred,
		link:       link,
		log:        log,
		invokeID:   loginInvokeUID,
		corr:       translator.NewCorrelation(),
		ready:      make(chan struct{}),
		testResult: make(chan bool, 1),
		errCh:      make(chan error, 1),
	}
}

// Run performs the handshake/login bootstrap, blocks until either login
// completes (and a ready signal is sent on the dispatcher link) or ctx is
// done, and then keeps the session alive (heartbeat, supervisor probe,
// steady-state request handling) until a fatal error occurs. It returns
// that terminal error; the caller decides whether that warrants a process
// exit, matching the original's "just abort, it will be restarted soon
// anyway" posture.
func (s *Session) Run(ctx context.Context) error {
	conn, err := dialUpstream(s.cfg.Upstream)
	if err != nil {
		return err
	}
	s.conn = conn
	defer conn.Close()

	if err := doHandshake(conn); err != nil {
		return fmt.Errorf("session: handshake: %w", err)
	}

	s.ctx = ctx
	go s.readUpstream()

	gameServerURL := fmt.Sprintf("rtmps://%s:%d", s.cfg.Upstream.GameServerAddress, s.cfg.Upstream.GameServerPort)
	if err := s.send(BuildConnectFrame(gameServerURL, translator.RandomMessageID(), 0)); err != nil {
		return fmt.Errorf("session: sending connect: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ready:
	case err := <-s.errCh:
		return err
	}

	if err := s.link.SignalReady(); err != nil {
		return fmt.Errorf("session: signalling ready to dispatcher: %w", err)
	}

	go s.heartbeatLoop(ctx)
	go s.supervisorLoop(ctx)
	go s.requestLoop(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.errCh:
		return err
	}
}

func (s *Session) send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(frame)
	return err
}

func (s *Session) fail(err error) {
	s.errOnce.Do(func() { s.errCh <- err })
}

func (s *Session) nextInvokeID() uint32 {
	return atomic.AddUint32(&s.invokeID, 1) - 1
}

// readUpstream continuously demultiplexes RTMP-chunked replies off the
// upstream connection and routes each to the connect/login bootstrap, the
// supervisor probe, or an outstanding task via the Invocation Correlation
// Map.
func (s *Session) readUpstream() {
	fr := framereader.New(s.conn)
	for {
		msg, err := fr.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("session: reading upstream message: %w", err))
			return
		}
		switch msg.MessageType {
		case 0x14:
			s.handleConnectReply(msg.Body)
		case 0x11:
			s.handleInvokeReply(msg.Body)
		}
	}
}

func (s *Session) handleConnectReply(body []byte) {
	reply, err := translator.DecodeConnectReply(body)
	if err != nil {
		s.fail(fmt.Errorf("session: decoding connect reply: %w", err))
		return
	}
	s.dsID = reply.DSID
	s.headers = translator.BuildHeaders(s.dsID)

	authToken, err := getAuthToken(s.ctx, s.cfg.Login, s.cred.Username, s.cred.Password)
	if err != nil {
		s.fail(fmt.Errorf("session: acquiring auth token: %w", err))
		return
	}
	s.authToken = authToken

	login := BuildLoginInvocation(s.cred.Username, s.cred.Password, s.authToken, s.cfg.Client.Version,
		RandomMACAddress(), translator.RandomMessageID(), s.headers)
	uid := s.nextInvokeID() // must be loginInvokeUID
	if err := s.send(translator.BuildInvokeFrame(uid, login, 0)); err != nil {
		s.fail(fmt.Errorf("session: sending login invocation: %w", err))
	}
}

func (s *Session) handleInvokeReply(body []byte) {
	reply, err := translator.DecodeInvokeReply(body)
	if err != nil {
		s.fail(fmt.Errorf("session: decoding invoke reply: %w", err))
		return
	}

	switch {
	case reply.InvokeID == loginInvokeUID:
		s.finishLogin(reply.ResultJSON)
	case uint32(reply.InvokeID) == atomic.LoadUint32(&s.testUID) && s.testUID != 0:
		select {
		case s.testResult <- strings.Contains(reply.ResultJSON, testSummonerName):
		default:
		}
	default:
		if taskID, ok := s.corr.Take(uint32(reply.InvokeID)); ok {
			if err := s.link.SendResult(taskID, reply.ResultJSON); err != nil && s.log != nil {
				s.log.Debugw("sending task result to dispatcher failed", "taskId", taskID, "error", err)
			}
		}
	}
}

func (s *Session) finishLogin(resultJSON string) {
	result, err := decodeLoginReply(resultJSON)
	if err != nil {
		s.fail(err)
		return
	}
	s.sessionToken = result.SessionToken
	s.accountID = result.AccountID

	authValue := authFollowUpValue(s.cred.Username, result.SessionToken)
	authInvocation := translator.WrapRemoting("auth", "8", translator.RandomMessageID(), s.headers,
		authValue)
	if err := s.send(translator.BuildInvokeFrame(s.nextInvokeID(), authInvocation, 0)); err != nil {
		s.fail(fmt.Errorf("session: sending auth follow-up: %w", err))
		return
	}

	messaging := buildMessagingRegistration(s.headers)
	if err := s.send(translator.BuildInvokeFrame(s.nextInvokeID(), messaging, 0)); err != nil {
		s.fail(fmt.Errorf("session: sending messaging registration: %w", err))
		return
	}

	s.readyOnce.Do(func() { close(s.ready) })
}

// heartbeatLoop sends a performLCDSHeartBeat invocation every two minutes
// for as long as the session lives.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()
	beatCount := uint32(1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body := amfEncodeHeartbeatArgs(s.accountID, s.sessionToken, beatCount, time.Now().UTC().Format("Mon Jan 2 2006 15:04:05 GMT-0300"))
			invocation := translator.WrapRemoting("loginService", "performLCDSHeartBeat", translator.RandomMessageID(), s.headers, body)
			if err := s.send(translator.BuildInvokeFrame(s.nextInvokeID(), invocation, 0)); err != nil {
				s.fail(fmt.Errorf("session: sending heartbeat: %w", err))
				return
			}
			beatCount++
		}
	}
}

// supervisorLoop probes the session every minute with a real
// getSummonerByName("Honux") lookup; three consecutive failures (no reply,
// or a reply missing the expected name) are treated as a dead session.
func (s *Session) supervisorLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.probeOnce(ctx) {
				consecutiveFailures = 0
				continue
			}
			consecutiveFailures++
			if consecutiveFailures >= 3 {
				s.fail(fmt.Errorf("session: supervisor probe failed %d consecutive times", consecutiveFailures))
				return
			}
		}
	}
}

func (s *Session) probeOnce(ctx context.Context) bool {
	uid := s.nextInvokeID()
	atomic.StoreUint32(&s.testUID, uid)
	defer atomic.StoreUint32(&s.testUID, 0)

	invocation := translator.WrapRemoting("summonerService", "getSummonerByName", translator.RandomMessageID(),
		s.headers, translator.StringBody(testSummonerName))
	if err := s.send(translator.BuildInvokeFrame(uid, invocation, 0)); err != nil {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case ok := <-s.testResult:
		return ok
	case <-time.After(30 * time.Second):
		return false
	}
}

// requestLoop pumps request records off the dispatcher link and turns
// each into an upstream invocation, recording the UID→taskID correlation
// for its eventual reply.
func (s *Session) requestLoop(ctx context.Context) {
	for {
		req, err := s.link.ReadRequest()
		if err != nil {
			s.fail(fmt.Errorf("session: reading dispatcher request: %w", err))
			return
		}
		if req.Type == dispatchlink.FrameKill {
			s.fail(fmt.Errorf("session: kill record received"))
			return
		}
		if req.Type == dispatchlink.FrameForceReconnect {
			s.fail(fmt.Errorf("session: force-reconnect record received"))
			return
		}
		s.dispatchRequest(req)
	}
}

func (s *Session) dispatchRequest(req dispatchlink.Request) {
	body, err := decodeRequestBody(req)
	if err != nil {
		if s.log != nil {
			s.log.Debugw("malformed dispatcher request", "taskId", req.TaskID, "error", err)
		}
		return
	}
	invocation := translator.WrapRemoting(req.Dest, req.Op, translator.RandomMessageID(), s.headers, body)
	uid := s.nextInvokeID()
	s.corr.Insert(uid, req.TaskID)
	if err := s.send(translator.BuildInvokeFrame(uid, invocation, 0)); err != nil {
		s.corr.Take(uid)
		if s.log != nil {
			s.log.Debugw("sending translated invocation failed", "taskId", req.TaskID, "error", err)
		}
	}
}
