package connection

import (
	"errors"
	"fmt"
)

var (
	// Returned by Connect once the relay has told us socket mode is disabled for the app
	ErrShutDown = errors.New("socket mode has been disabled for this app, not reconnecting")

	// Returned by Connect after the connection has been closed
	ErrClosed = errors.New("connection is closed")
)

type ConnectStage string

const (
	OpenConnectionStage  ConnectStage = "open_connection"
	CreateTransportStage ConnectStage = "create_transport"
	DialStage            ConnectStage = "dial"
)

// ConnectionError means the opening handshake never completed
type ConnectionError struct {
	Stage ConnectStage
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect during %s: %s", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// OpenerError is returned when the platform answers apps.connections.open with ok=false
type OpenerError struct {
	Code string
}

func (e *OpenerError) Error() string {
	return fmt.Sprintf("platform refused to open a connection: %s", e.Code)
}

func (e *OpenerError) Unwrap() error { return nil }
