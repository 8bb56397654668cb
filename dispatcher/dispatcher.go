/*
Package dispatcher turns the Socket Mode message stream into handler calls. Every envelope is
acknowledged exactly once: events right away, interactions and slash commands as soon as
their handler answers or the ack deadline passes, whichever comes first. Handlers run in their
own goroutines so one slow or broken handler never holds up the stream.
*/
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/slacknet/slacksdk/connection/broker"
	"github.com/slacknet/slacksdk/connection/socketmessage"
	"github.com/slacknet/slacksdk/logger"
	"github.com/slacknet/slacksdk/metrics"
)

// The platform gives up on an envelope after three seconds
const DefaultAckDeadline = 2500 * time.Millisecond

// Acknowledger is whatever writes acks back to the relay, usually the connection manager
type Acknowledger interface {
	Send(ack socketmessage.Acknowledgement)
}

type Dispatcher struct {
	logger   *logger.Logger
	conn     Acknowledger
	resolver Resolver
	metrics  *metrics.Metrics

	ackDeadline time.Duration

	// in-flight handler goroutines
	handlers sync.WaitGroup
}

type Option func(*Dispatcher)

func WithAckDeadline(deadline time.Duration) Option {
	return func(d *Dispatcher) {
		if deadline > 0 {
			d.ackDeadline = deadline
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(logger *logger.Logger, conn Acknowledger, resolver Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:      logger,
		conn:        conn,
		resolver:    resolver,
		ackDeadline: DefaultAckDeadline,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Run dispatches everything on sub until ctx is cancelled or the subscription closes
func (d *Dispatcher) Run(ctx context.Context, sub *broker.Subscription) error {
	d.logger.Infof("Dispatching messages for subscriber %s", sub.Id())
	defer d.logger.Infof("Stopped dispatching messages for subscriber %s", sub.Id())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			d.Dispatch(ctx, message)
		}
	}
}

// Wait blocks until every handler started so far has returned
func (d *Dispatcher) Wait() {
	d.handlers.Wait()
}

// Dispatch handles one message. It only blocks long enough to start a handler.
func (d *Dispatcher) Dispatch(ctx context.Context, message socketmessage.SocketMessage) {
	log := d.logger.GetConnectionLogger(message.SocketId)
	ack := d.newAck(message)

	// resolvers are user code and may panic
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatch panicked: %v\n%s", r, debug.Stack())
			d.metrics.RecordHandler(string(message.Type), 0, err)
			log.Errorf("failed to dispatch %s envelope %s: %s", message.Type, message.EnvelopeId, err)
			if message.EnvelopeId != "" {
				ack.send(nil)
			}
		}
	}()

	switch message.Type {
	case socketmessage.Hello:
		log.Debugf("Hello from relay, app %s has %d connections", message.AppId(), message.NumConnections)
	case socketmessage.Disconnect:
		if message.Reason.Terminal() {
			log.Warnf("Relay disconnected us for good: %s", message.Reason)
		} else {
			log.Infof("Relay disconnect notice: %s", message.Reason)
		}
	case socketmessage.EventsApi:
		d.dispatchEvent(ctx, message, ack)
	case socketmessage.Interactive:
		d.dispatchInteraction(ctx, message, ack)
	case socketmessage.SlashCommands:
		d.dispatchSlashCommand(ctx, message, ack)
	default:
		if message.EnvelopeId != "" {
			log.Infof("Acknowledging envelope %s of unknown type %s", message.EnvelopeId, message.Type)
			ack.send(nil)
		} else {
			log.Debugf("Ignoring message of unknown type %s", message.Type)
		}
	}
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, message socketmessage.SocketMessage, ack *envelopeAck) {
	ack.send(nil)

	event, ok := message.Payload.(*socketmessage.EventsApiPayload)
	if !ok {
		d.logger.GetEnvelopeLogger(message.EnvelopeId).Errorf("events_api envelope carried no events payload")
		return
	}

	handler := d.resolver.EventHandler(event)
	if handler == nil {
		d.logger.GetEnvelopeLogger(message.EnvelopeId).Debugf("No handler for %s event", event.Event.Type)
		return
	}

	d.run(ctx, message, func(ctx context.Context) (any, error) {
		return nil, handler(ctx, event)
	}, nil)
}

func (d *Dispatcher) dispatchInteraction(ctx context.Context, message socketmessage.SocketMessage, ack *envelopeAck) {
	interaction, ok := message.Payload.(*socketmessage.InteractivePayload)
	if !ok {
		d.logger.GetEnvelopeLogger(message.EnvelopeId).Errorf("interactive envelope carried no interactive payload")
		ack.send(nil)
		return
	}

	handler := d.resolver.InteractionHandler(interaction)
	if handler == nil {
		d.logger.GetEnvelopeLogger(message.EnvelopeId).Debugf("No handler for %s interaction %s", interaction.Type, interaction.RoutingKey())
		ack.send(nil)
		return
	}

	d.respond(ctx, message, ack, func(ctx context.Context) (any, error) {
		return handler(ctx, interaction)
	})
}

func (d *Dispatcher) dispatchSlashCommand(ctx context.Context, message socketmessage.SocketMessage, ack *envelopeAck) {
	command, ok := message.Payload.(*socketmessage.SlashCommandPayload)
	if !ok {
		d.logger.GetEnvelopeLogger(message.EnvelopeId).Errorf("slash_commands envelope carried no command payload")
		ack.send(nil)
		return
	}

	handler := d.resolver.SlashCommandHandler(command)
	if handler == nil {
		d.logger.GetEnvelopeLogger(message.EnvelopeId).Debugf("No handler for command %s", command.Command)
		ack.send(nil)
		return
	}

	d.respond(ctx, message, ack, func(ctx context.Context) (any, error) {
		return handler(ctx, command)
	})
}

// respond runs a handler whose answer may ride on the ack. A plain ack goes out at the
// deadline if the handler hasn't answered by then.
func (d *Dispatcher) respond(ctx context.Context, message socketmessage.SocketMessage, ack *envelopeAck, invoke handlerFunc) {
	if !message.AcceptsResponsePayload {
		ack.send(nil)
		d.run(ctx, message, invoke, nil)
		return
	}

	log := d.logger.GetEnvelopeLogger(message.EnvelopeId)
	timer := time.AfterFunc(d.ackDeadline, func() {
		if ack.send(nil) {
			log.Warnf("%s handler did not answer within %s, acknowledged without a response", message.Type, d.ackDeadline)
		}
	})

	d.run(ctx, message, invoke, func(response any, err error) {
		timer.Stop()

		if err != nil {
			ack.send(nil)
		} else if !ack.send(response) && response != nil {
			log.Warnf("%s handler answered after the ack deadline, dropping its response", message.Type)
		}
	})
}

type handlerFunc func(ctx context.Context) (any, error)

// run invokes a handler in its own goroutine, recovering panics, and passes the outcome to done
func (d *Dispatcher) run(ctx context.Context, message socketmessage.SocketMessage, invoke handlerFunc, done func(any, error)) {
	d.handlers.Add(1)

	go func() {
		defer d.handlers.Done()

		start := time.Now()
		response, err := d.invoke(ctx, invoke)
		d.metrics.RecordHandler(string(message.Type), time.Since(start), err)

		if err != nil {
			d.logger.GetEnvelopeLogger(message.EnvelopeId).Errorf("%s handler failed: %s", message.Type, err)
		}

		if done != nil {
			done(response, err)
		}
	}()
}

func (d *Dispatcher) invoke(ctx context.Context, invoke handlerFunc) (response any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()

	return invoke(ctx)
}

// envelopeAck makes sure an envelope is acknowledged at most once
type envelopeAck struct {
	once    sync.Once
	conn    Acknowledger
	message socketmessage.SocketMessage
}

func (d *Dispatcher) newAck(message socketmessage.SocketMessage) *envelopeAck {
	return &envelopeAck{
		conn:    d.conn,
		message: message,
	}
}

// send reports whether this call was the one that acknowledged the envelope
func (a *envelopeAck) send(payload any) bool {
	sent := false
	a.once.Do(func() {
		a.conn.Send(socketmessage.AckFor(a.message, payload))
		sent = true
	})
	return sent
}
