package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RelayServer stands in for the Socket Mode relay. Every client that dials it is greeted
// with a hello and everything clients write lands on Received.
type RelayServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	lock  sync.Mutex
	conns []*websocket.Conn

	// ws:// url clients should dial
	Url string

	// index of every connection as it is accepted
	Connected chan int
	Received  chan []byte
}

func NewRelayServer() *RelayServer {
	relay := &RelayServer{
		Connected: make(chan int, 20),
		Received:  make(chan []byte, 100),
	}

	relay.server = httptest.NewServer(http.HandlerFunc(relay.serve))
	relay.Url = "ws" + strings.TrimPrefix(relay.server.URL, "http") + "/link/"

	return relay
}

func (r *RelayServer) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	r.lock.Lock()
	index := len(r.conns)
	r.conns = append(r.conns, conn)
	hello := fmt.Sprintf(`{"type":"hello","num_connections":%d,"connection_info":{"app_id":"A1"}}`, index+1)
	err = conn.WriteMessage(websocket.TextMessage, []byte(hello))
	r.lock.Unlock()
	if err != nil {
		return
	}

	r.Connected <- index

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.Received <- message
	}
}

// Connections is how many clients have connected so far
func (r *RelayServer) Connections() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.conns)
}

// Push writes frame to the connection accepted at index
func (r *RelayServer) Push(index int, frame string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if index >= len(r.conns) {
		return fmt.Errorf("no connection %d", index)
	}
	return r.conns[index].WriteMessage(websocket.TextMessage, []byte(frame))
}

// Drop cuts the connection at index without a close handshake
func (r *RelayServer) Drop(index int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if index < len(r.conns) {
		r.conns[index].Close()
	}
}

// Disconnect sends a normal closure to the connection at index
func (r *RelayServer) Disconnect(index int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if index < len(r.conns) {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		r.conns[index].WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	}
}

func (r *RelayServer) Close() {
	r.lock.Lock()
	for _, conn := range r.conns {
		conn.Close()
	}
	r.lock.Unlock()

	r.server.Close()
}
