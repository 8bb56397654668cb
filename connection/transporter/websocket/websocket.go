/*
The Websocket package establishes and ferries raw bytes across a single websocket connection
to the Socket Mode relay. In terms of the overall connection layer architecture, this package
is at the lowest layer, providing the raw bytes to the connection manager for it to decode.

A Websocket is single use: once it dies the connection manager builds a new one through the
Factory rather than redialing.
*/
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/slacknet/slacksdk/connection/transporter"
	"github.com/slacknet/slacksdk/logger"
)

const (
	HttpsOnlyWebsocketScheme = "wss"
	HttpWebsocketScheme      = "ws"

	DefaultPingTimeout = 30 * time.Second

	writeWait       = 10 * time.Second
	inboundCapacity = 200
)

// ErrStaleConnection is the death reason when nothing, not even a ping, arrived within the ping timeout
var ErrStaleConnection = errors.New("no message or ping received from the relay within the ping timeout")

type Websocket struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	client *gorilla.Conn

	id          int64
	connUrl     string
	headers     http.Header
	pingTimeout time.Duration
	state       atomic.Int32

	// gorilla allows one concurrent writer
	writeLock sync.Mutex

	// Received messages
	inbound chan []byte
}

func New(logger *logger.Logger, id int64, connUrl string, headers http.Header, pingTimeout time.Duration) *Websocket {
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}

	if headers == nil {
		headers = http.Header{}
	}

	return &Websocket{
		logger:      logger,
		id:          id,
		connUrl:     connUrl,
		headers:     headers,
		pingTimeout: pingTimeout,
		inbound:     make(chan []byte, inboundCapacity),
	}
}

func (w *Websocket) Id() int64 {
	return w.id
}

func (w *Websocket) State() transporter.TransportState {
	return transporter.TransportState(w.state.Load())
}

func (w *Websocket) Close(reason error) {
	// a websocket that isn't open yet is closed by state alone, Dial notices and backs out
	for {
		state := w.state.Load()
		if transporter.TransportState(state) == transporter.Open {
			break
		}
		if w.state.CompareAndSwap(state, int32(transporter.Closed)) {
			w.logger.Debugf("Close was called on a websocket that is %s", transporter.TransportState(state))
			return
		}
	}

	if w.tmb.Alive() {
		w.logger.Infof("Websocket connection closing because: %s", reason)

		w.tmb.Kill(reason)

		// politely tell the relay we're leaving before tearing down the socket
		message := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "")
		w.client.WriteControl(gorilla.CloseMessage, message, time.Now().Add(time.Second))
		w.client.Close()

		w.tmb.Wait()
	} else {
		w.logger.Infof("Close was called while in a dying state")
	}
}

// Done is closed once a dialed websocket has stopped receiving. It never closes for a
// websocket whose Dial failed.
func (w *Websocket) Done() <-chan struct{} {
	return w.tmb.Dead()
}

func (w *Websocket) Err() error {
	return w.tmb.Err()
}

func (w *Websocket) Inbound() <-chan []byte {
	return w.inbound
}

func (w *Websocket) Send(message []byte) error {
	if w.State() != transporter.Open {
		return fmt.Errorf("cannot send message because websocket %d is %s", w.id, w.State())
	}

	w.writeLock.Lock()
	defer w.writeLock.Unlock()

	w.client.SetWriteDeadline(time.Now().Add(writeWait))
	return w.client.WriteMessage(gorilla.TextMessage, message)
}

func (w *Websocket) Dial(ctx context.Context) (err error) {
	if !w.state.CompareAndSwap(int32(transporter.Created), int32(transporter.Connecting)) {
		return fmt.Errorf("websocket %d has already been dialed", w.id)
	}

	connUrl, err := url.Parse(w.connUrl)
	if err != nil {
		w.state.Store(int32(transporter.Closed))
		return fmt.Errorf("failed to parse websocket url: %w", err)
	}

	// Make sure url scheme is correct
	switch connUrl.Scheme {
	case "https":
		connUrl.Scheme = HttpsOnlyWebsocketScheme
	case "http":
		connUrl.Scheme = HttpWebsocketScheme
	}

	client, _, err := gorilla.DefaultDialer.DialContext(ctx, connUrl.String(), w.headers)
	if err != nil {
		w.state.Store(int32(transporter.Closed))
		return fmt.Errorf("error dialing websocket: %w", err)
	}

	w.client = client
	w.client.SetPingHandler(w.handlePing)
	w.extendReadDeadline()

	if !w.state.CompareAndSwap(int32(transporter.Connecting), int32(transporter.Open)) {
		client.Close()
		return fmt.Errorf("websocket %d was closed while dialing", w.id)
	}
	w.tmb.Go(w.receive)

	return nil
}

func (w *Websocket) receive() error {
	defer w.state.Store(int32(transporter.Closed))
	defer w.logger.Infof("Websocket connection closed")
	w.logger.Infof("Websocket connection started")

	for {
		// Read incoming message
		if _, rawMessage, err := w.client.ReadMessage(); !w.tmb.Alive() {
			return nil
		} else if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				w.logger.Errorf("Websocket went stale after %s", w.pingTimeout)
				w.client.Close()
				return ErrStaleConnection
			}

			// Check if it's a clean exit
			if !gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
				w.logger.Error(err)
			} else {
				w.logger.Info("Websocket connection closed normally")
			}
			w.client.Close()
			return err
		} else {
			w.extendReadDeadline()

			select {
			case w.inbound <- rawMessage:
			case <-w.tmb.Dying():
				return nil
			}
		}
	}
}

func (w *Websocket) handlePing(appData string) error {
	w.extendReadDeadline()

	err := w.client.WriteControl(gorilla.PongMessage, []byte(appData), time.Now().Add(writeWait))
	if err == gorilla.ErrCloseSent {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	return err
}

func (w *Websocket) extendReadDeadline() {
	w.client.SetReadDeadline(time.Now().Add(w.pingTimeout))
}

// Factory builds Websockets for the connection manager
type Factory struct {
	Logger      *logger.Logger
	Headers     http.Header
	PingTimeout time.Duration
}

func (f *Factory) Create(id int64, connUrl string) (transporter.Transporter, error) {
	if _, err := url.ParseRequestURI(connUrl); err != nil {
		return nil, fmt.Errorf("invalid websocket url %q: %w", connUrl, err)
	}

	return New(f.Logger.GetConnectionLogger(id), id, connUrl, f.Headers.Clone(), f.PingTimeout), nil
}
