package transporter

import (
	"context"
)

type TransportState int

const (
	Created TransportState = iota
	Connecting
	Open
	Closed
)

func (s TransportState) String() string {
	switch s {
	case Created:
		return "Created"
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Transporter is a single duplex connection. Dial returning nil means the transport is
// open, Done closing means it is gone and Err says why.
type Transporter interface {
	Id() int64
	State() TransportState
	Done() <-chan struct{}
	Err() error
	Inbound() <-chan []byte
	Dial(ctx context.Context) error
	Send(message []byte) error
	Close(reason error)
}

// Factory builds a new, not yet dialed, Transporter for a connection url
type Factory interface {
	Create(id int64, connUrl string) (Transporter, error)
}

// FactoryFunc lets a plain function serve as a Factory
type FactoryFunc func(id int64, connUrl string) (Transporter, error)

func (f FactoryFunc) Create(id int64, connUrl string) (Transporter, error) {
	return f(id, connUrl)
}
