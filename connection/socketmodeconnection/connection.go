/*
This package covers a single Socket Mode connection. It plays the role of our connection
manager: it asks the platform for a relay url, dials a transporter, and whenever that
transporter dies it dials a replacement on a backoff schedule. Every decoded message is
republished on a broker so subscribers see one uninterrupted stream across reconnects.

Layers of the connection architecture:
 1. Transporter
 2. Codec
 3. Connection Manager <- this is us

See connection/connection.go for more information
*/
package socketmodeconnection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/slacknet/slacksdk/connection"
	"github.com/slacknet/slacksdk/connection/broker"
	"github.com/slacknet/slacksdk/connection/opener"
	"github.com/slacknet/slacksdk/connection/socketmessage"
	"github.com/slacknet/slacksdk/connection/transporter"
	"github.com/slacknet/slacksdk/logger"
	"github.com/slacknet/slacksdk/metrics"
)

const (
	defaultSendQueueSize = 50
	defaultName          = "0"
)

var errNoTransport = errors.New("no live transport to send on")

var _ connection.Connection = (*SocketModeConnection)(nil)

type SocketModeConnection struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	name   string

	opener  opener.Opener
	factory transporter.Factory
	policy  *ReconnectPolicy
	metrics *metrics.Metrics

	// Everything we receive is republished here, regardless of which transport it arrived on
	broker *broker.Broker

	state        atomic.Int32
	nextSocketId atomic.Int64

	// Only one connect may be in flight at a time
	connectLock sync.Mutex

	// current is the transport we consider ours; transports also holds older ones still draining
	transportsLock sync.RWMutex
	current        transporter.Transporter
	transports     map[int64]transporter.Transporter
	relays         sync.WaitGroup

	// socket id of a current transport that died, picked up by the supervisor
	died chan int64

	// closed when the relay disables socket mode for this app
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// Buffered channel to keep track of outbound acknowledgements
	sendQueue     chan socketmessage.Acknowledgement
	sendQueueSize int
}

type Option func(*SocketModeConnection)

func WithBackoff(policy *ReconnectPolicy) Option {
	return func(s *SocketModeConnection) {
		s.policy = policy
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SocketModeConnection) {
		s.metrics = m
	}
}

func WithSendQueueSize(size int) Option {
	return func(s *SocketModeConnection) {
		if size > 0 {
			s.sendQueueSize = size
		}
	}
}

// WithName labels this connection's logs and metrics, useful when an app holds several
func WithName(name string) Option {
	return func(s *SocketModeConnection) {
		s.name = name
	}
}

// New builds a connection manager but does not connect, call Connect for that
func New(
	logger *logger.Logger,
	opener opener.Opener,
	factory transporter.Factory,
	opts ...Option,
) *SocketModeConnection {
	conn := &SocketModeConnection{
		logger:        logger,
		name:          defaultName,
		opener:        opener,
		factory:       factory,
		policy:        DefaultReconnectPolicy(),
		transports:    make(map[int64]transporter.Transporter),
		died:          make(chan int64, 1),
		shutdown:      make(chan struct{}),
		sendQueueSize: defaultSendQueueSize,
	}

	for _, opt := range opts {
		opt(conn)
	}

	conn.logger = conn.logger.With("connection", conn.name)
	conn.sendQueue = make(chan socketmessage.Acknowledgement, conn.sendQueueSize)
	conn.broker = broker.New(conn.onDrop)
	conn.setState(Disconnected)

	conn.tmb.Go(func() error {
		conn.logger.Infof("Connection manager has started")
		defer conn.logger.Infof("Connection manager has stopped")

		conn.tmb.Go(conn.sendLoop)
		return conn.supervise()
	})

	return conn
}

func (s *SocketModeConnection) Name() string {
	return s.name
}

func (s *SocketModeConnection) State() State {
	return State(s.state.Load())
}

// Connected is true while we are opening or holding a connection
func (s *SocketModeConnection) Connected() bool {
	switch s.State() {
	case Connecting, Open:
		return true
	default:
		return false
	}
}

// SocketId returns the id of the current transport, or 0 if there isn't one
func (s *SocketModeConnection) SocketId() int64 {
	s.transportsLock.RLock()
	defer s.transportsLock.RUnlock()

	if s.current == nil {
		return 0
	}
	return s.current.Id()
}

func (s *SocketModeConnection) Done() <-chan struct{} {
	return s.tmb.Dead()
}

func (s *SocketModeConnection) Err() error {
	return s.tmb.Err()
}

// ShutDown closes once the relay has disabled socket mode for this app
func (s *SocketModeConnection) ShutDown() <-chan struct{} {
	return s.shutdown
}

func (s *SocketModeConnection) Subscribe(id string, bufferSize int) *broker.Subscription {
	return s.broker.Subscribe(id, bufferSize)
}

func (s *SocketModeConnection) Unsubscribe(id string) {
	s.broker.Unsubscribe(id)
}

// Connect opens a new transport and makes it the current one. Any transport it replaces is
// closed once the new one is open, and keeps delivering whatever it already received.
func (s *SocketModeConnection) Connect(ctx context.Context) error {
	s.connectLock.Lock()
	defer s.connectLock.Unlock()

	return s.connect(ctx)
}

// Send queues an acknowledgement to go out on the transport its envelope arrived on
func (s *SocketModeConnection) Send(ack socketmessage.Acknowledgement) {
	select {
	case s.sendQueue <- ack:
	default:
		s.logger.Errorf("send queue is full, dropping acknowledgement for envelope %s", ack.EnvelopeId)
		s.metrics.RecordAck(fmt.Errorf("send queue full"))
	}
}

func (s *SocketModeConnection) Close(reason error) {
	if !s.tmb.Alive() {
		return
	}

	s.logger.Infof("Connection closing because: %s", reason)
	s.setState(Closing)
	s.tmb.Kill(reason)

	s.transportsLock.Lock()
	transports := make([]transporter.Transporter, 0, len(s.transports))
	for _, t := range s.transports {
		transports = append(transports, t)
	}
	s.transports = make(map[int64]transporter.Transporter)
	s.current = nil
	s.transportsLock.Unlock()

	for _, t := range transports {
		t.Close(reason)
	}

	s.tmb.Wait()
	s.relays.Wait()
	s.broker.Close()
	s.setState(Disconnected)
}

// caller must hold connectLock
func (s *SocketModeConnection) connect(ctx context.Context) error {
	if !s.tmb.Alive() {
		return connection.ErrClosed
	} else if s.isShutDown() {
		return connection.ErrShutDown
	}

	s.setState(Connecting)

	// abandon the handshake if we're closed halfway through
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.tmb.Dying():
			cancel()
		}
	}()

	t, err := s.open(ctx)
	s.metrics.RecordConnectAttempt(s.name, err)
	if err != nil {
		if s.hasCurrent() {
			s.setState(Open)
		} else {
			s.setState(Disconnected)
		}
		return err
	}

	s.transportsLock.Lock()
	if !s.tmb.Alive() {
		s.transportsLock.Unlock()
		t.Close(connection.ErrClosed)
		return connection.ErrClosed
	}
	previous := s.current
	s.current = t
	s.transports[t.Id()] = t
	s.relays.Add(1)
	s.setState(Open)
	s.transportsLock.Unlock()

	go s.relay(t)

	s.logger.Infof("Connected on socket %d", t.Id())

	if previous != nil {
		go previous.Close(fmt.Errorf("replaced by socket %d", t.Id()))
	}

	return nil
}

func (s *SocketModeConnection) open(ctx context.Context) (transporter.Transporter, error) {
	response, err := s.opener.OpenConnection(ctx)
	if err != nil {
		return nil, &connection.ConnectionError{Stage: connection.OpenConnectionStage, Err: err}
	}

	id := s.nextSocketId.Add(1)
	t, err := s.factory.Create(id, response.Url)
	if err != nil {
		return nil, &connection.ConnectionError{Stage: connection.CreateTransportStage, Err: err}
	}

	if err := t.Dial(ctx); err != nil {
		t.Close(err)
		return nil, &connection.ConnectionError{Stage: connection.DialStage, Err: err}
	}

	return t, nil
}

// relay forwards everything a transport receives until that transport dies
func (s *SocketModeConnection) relay(t transporter.Transporter) {
	defer s.relays.Done()

	for {
		select {
		case <-s.tmb.Dying():
			return
		case raw := <-t.Inbound():
			s.handleInbound(t.Id(), raw)
		case <-t.Done():
			// whatever made it off the wire before the close still gets delivered
		drain:
			for {
				select {
				case raw := <-t.Inbound():
					s.handleInbound(t.Id(), raw)
				default:
					break drain
				}
			}

			s.transportDied(t)
			return
		}
	}
}

func (s *SocketModeConnection) handleInbound(socketId int64, raw []byte) {
	message, err := socketmessage.Decode(raw)
	if err != nil {
		s.metrics.RecordDecodeError()
		s.logger.GetConnectionLogger(socketId).Errorf("dropping message we could not decode: %s", err)
		return
	}
	message.SocketId = socketId
	s.metrics.RecordMessage(string(message.Type))

	switch message.Type {
	case socketmessage.Hello:
		s.logger.GetConnectionLogger(socketId).Infof("Relay said hello, %d connections open for this app", message.NumConnections)
	case socketmessage.Disconnect:
		if message.Reason.Terminal() {
			s.shutDown(message.Reason)
		} else {
			s.logger.GetConnectionLogger(socketId).Infof("Relay asked us to disconnect: %s", message.Reason)
		}
	}

	s.broker.Publish(message)
}

func (s *SocketModeConnection) transportDied(t transporter.Transporter) {
	s.transportsLock.Lock()
	delete(s.transports, t.Id())
	wasCurrent := s.current != nil && s.current.Id() == t.Id()
	if wasCurrent {
		s.current = nil
	}
	s.transportsLock.Unlock()

	log := s.logger.GetConnectionLogger(t.Id())
	if !wasCurrent {
		log.Debugf("Replaced socket finished draining")
		return
	}

	log.Infof("Lost connection: %s", t.Err())
	if s.isShutDown() || !s.tmb.Alive() {
		return
	}

	s.setState(Disconnected)
	select {
	case s.died <- t.Id():
	default:
	}
}

func (s *SocketModeConnection) supervise() error {
	for {
		select {
		case <-s.tmb.Dying():
			return nil
		case <-s.shutdown:
			<-s.tmb.Dying()
			return nil
		case id := <-s.died:
			s.reconnect(id)
		}
	}
}

// reconnect keeps trying until it succeeds, we're closed or the app is disabled
func (s *SocketModeConnection) reconnect(deadSocketId int64) {
	s.metrics.RecordReconnect()

	for {
		delay := s.policy.NextBackOff()
		s.logger.Infof("Lost socket %d, reconnecting in %s", deadSocketId, delay)

		timer := time.NewTimer(delay)
		select {
		case <-s.tmb.Dying():
			timer.Stop()
			return
		case <-s.shutdown:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.connectLock.Lock()
		if s.hasCurrent() {
			// somebody connected while we waited
			s.connectLock.Unlock()
			return
		}
		err := s.connect(context.Background())
		s.connectLock.Unlock()

		if err == nil {
			return
		} else if errors.Is(err, connection.ErrShutDown) || errors.Is(err, connection.ErrClosed) {
			return
		}

		s.logger.Errorf("failed to reconnect: %s", err)
	}
}

func (s *SocketModeConnection) sendLoop() error {
	for {
		select {
		case <-s.tmb.Dying():
			return nil
		case ack := <-s.sendQueue:
			err := s.write(ack)
			s.metrics.RecordAck(err)
			if err != nil {
				s.logger.Errorf("failed to acknowledge envelope %s: %s", ack.EnvelopeId, err)
			}
		}
	}
}

func (s *SocketModeConnection) write(ack socketmessage.Acknowledgement) error {
	bytes, err := socketmessage.EncodeAck(ack)
	if err != nil {
		return err
	}

	t := s.transportFor(ack.SocketId)
	if t == nil {
		return errNoTransport
	}

	return t.Send(bytes)
}

// transportFor prefers the transport the envelope arrived on and falls back to the current one
func (s *SocketModeConnection) transportFor(socketId int64) transporter.Transporter {
	s.transportsLock.RLock()
	defer s.transportsLock.RUnlock()

	if t, ok := s.transports[socketId]; ok && t.State() == transporter.Open {
		return t
	}
	return s.current
}

func (s *SocketModeConnection) hasCurrent() bool {
	s.transportsLock.RLock()
	defer s.transportsLock.RUnlock()
	return s.current != nil
}

func (s *SocketModeConnection) shutDown(reason socketmessage.DisconnectReason) {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.setState(ShutDown)
		s.metrics.RecordTerminalShutdown()
		s.logger.With("shutdown", true).Warnf("Relay disconnected us with %s, socket mode is disabled for this app and we will not reconnect", reason)
	})
}

func (s *SocketModeConnection) isShutDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// setState never leaves ShutDown
func (s *SocketModeConnection) setState(state State) {
	for {
		old := s.state.Load()
		if State(old) == ShutDown && state != ShutDown {
			return
		}
		if s.state.CompareAndSwap(old, int32(state)) {
			s.metrics.SetConnectionState(s.name, int(state))
			return
		}
	}
}

func (s *SocketModeConnection) onDrop(subscriberId string, message socketmessage.SocketMessage) {
	s.metrics.RecordDrop(subscriberId)
	s.logger.Warnf("subscriber %s is full, dropping %s message %s", subscriberId, message.Type, message.EnvelopeId)
}
