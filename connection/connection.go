/*
Package connection describes how the SDK holds a Socket Mode session open.

Layers of the connection architecture:
 1. Transporter: one duplex websocket, raw bytes in and out (connection/transporter)
 2. Codec: socket envelopes decoded from and acknowledgements encoded to those bytes
    (connection/socketmessage)
 3. Connection Manager: owns the current transporter, replaces it when it dies and
    republishes every decoded message on a broker (connection/socketmodeconnection)

Consumers such as the dispatcher only ever see the broker, so they never notice a reconnect.
*/
package connection

import (
	"github.com/slacknet/slacksdk/connection/broker"
	"github.com/slacknet/slacksdk/connection/socketmessage"
)

type Connection interface {
	Subscribe(id string, bufferSize int) *broker.Subscription
	Unsubscribe(id string)
	Send(ack socketmessage.Acknowledgement)
	Connected() bool
	Close(reason error)
	Done() <-chan struct{}
	Err() error
}
