package websocket

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slacknet/slacksdk/logger"
)

type MockWebsocketServer struct {
	logger   *logger.Logger
	listener net.Listener

	connLock sync.Mutex
	conn     *websocket.Conn

	Addr          string
	ReceivedBytes chan []byte
	Connected     chan struct{}
}

// Adapted from: https://golangdocs.com/golang-gorilla-websockets
func NewMockWebsocketServer(logger *logger.Logger) *MockWebsocketServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Errorf("failed to setup listener")
	}

	mockServer := &MockWebsocketServer{
		logger:        logger,
		listener:      listener,
		Addr:          fmt.Sprintf("http://127.0.0.1:%d", listener.Addr().(*net.TCPAddr).Port),
		ReceivedBytes: make(chan []byte, 10),
		Connected:     make(chan struct{}, 1),
	}

	go func() {
		http.Serve(mockServer.listener, mockServer)
	}()

	return mockServer
}

func (m *MockWebsocketServer) Shutdown() {
	m.listener.Close()
	m.ForceClose()
}

// Push writes a message to the connected client
func (m *MockWebsocketServer) Push(message []byte) error {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if m.conn == nil {
		return fmt.Errorf("no client connected")
	}
	return m.conn.WriteMessage(websocket.TextMessage, message)
}

// CloseNormally sends a normal closure frame to the connected client
func (m *MockWebsocketServer) CloseNormally() {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if m.conn != nil {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		m.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	}
}

func (m *MockWebsocketServer) ForceClose() {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if m.conn != nil {
		m.conn.Close()
	}
}

func (m *MockWebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}

	// Upgrade our raw HTTP connection to a websocket based one
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Errorf("Error during connection upgradation: %s", err)
		return
	}
	defer conn.Close()

	m.connLock.Lock()
	m.conn = conn
	m.connLock.Unlock()

	select {
	case m.Connected <- struct{}{}:
	default:
	}

	// The event loop
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Infof("Mock server stopped reading: %s", err)
			break
		}

		m.ReceivedBytes <- message
	}
}
