package socketmode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/slacknet/slacksdk/connection"
	"github.com/slacknet/slacksdk/connection/opener"
	"github.com/slacknet/slacksdk/connection/socketmodeconnection"
	"github.com/slacknet/slacksdk/connection/transporter/websocket"
	"github.com/slacknet/slacksdk/dispatcher"
	"github.com/slacknet/slacksdk/logger"
)

const dispatcherSubscriberId = "dispatcher"

// ErrClientStopped is the reason given to every connection when Run returns
var ErrClientStopped = errors.New("socket mode client stopped")

type Client struct {
	logger  *logger.Logger
	options *Options
	router  *dispatcher.Router

	connections []*socketmodeconnection.SocketModeConnection
	dispatchers []*dispatcher.Dispatcher
	policies    []*socketmodeconnection.ReconnectPolicy
}

// New builds a client for the app identified by appToken. Nothing connects until Run.
func New(logger *logger.Logger, appToken string, opts ...Option) (*Client, error) {
	options := newClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.opener == nil {
		if appToken == "" {
			return nil, fmt.Errorf("an app-level token is required")
		}
		options.opener = opener.New(
			logger.GetComponentLogger("opener"),
			options.apiUrl,
			appToken,
			opener.WithDebugReconnects(options.debugReconnects),
			opener.WithHTTPOptions(options.httpOptions),
		)
	}

	if options.factory == nil {
		options.factory = &websocket.Factory{
			Logger:      logger.GetComponentLogger("websocket"),
			PingTimeout: options.pingTimeout,
		}
	}

	client := &Client{
		logger:  logger,
		options: options,
		router:  dispatcher.NewRouter(),
	}

	for i := 0; i < options.numberOfConnections; i++ {
		name := strconv.Itoa(i)
		policy := socketmodeconnection.NewReconnectPolicy(
			options.backoffInitial,
			options.backoffMax,
			options.backoffMultiplier,
			options.backoffResetAfter,
			nil,
		)

		conn := socketmodeconnection.New(
			logger.GetComponentLogger("connection"),
			options.opener,
			options.factory,
			socketmodeconnection.WithName(name),
			socketmodeconnection.WithBackoff(policy),
			socketmodeconnection.WithMetrics(options.metrics),
		)

		d := dispatcher.New(
			logger.GetComponentLogger("dispatcher").With("connection", name),
			conn,
			client.router,
			dispatcher.WithAckDeadline(options.ackDeadline),
			dispatcher.WithMetrics(options.metrics),
		)

		client.connections = append(client.connections, conn)
		client.dispatchers = append(client.dispatchers, d)
		client.policies = append(client.policies, policy)
	}

	return client, nil
}

// Router is where handlers get registered, shared by every connection
func (c *Client) Router() *dispatcher.Router {
	return c.router
}

func (c *Client) Connections() []*socketmodeconnection.SocketModeConnection {
	return c.connections
}

// Run connects every connection, staggered by the connection delay, and dispatches until ctx
// is cancelled or the relay disables socket mode for the app. Connections are closed and
// in-flight handlers finished before it returns.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := range c.connections {
		i := i
		conn := c.connections[i]
		d := c.dispatchers[i]
		sub := conn.Subscribe(dispatcherSubscriberId, c.options.subscriberBuffer)

		g.Go(func() error {
			return d.Run(gctx, sub)
		})

		g.Go(func() error {
			if delay := time.Duration(i) * c.options.connectionDelay; delay > 0 {
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(delay):
				}
			}

			if err := c.connect(gctx, i); err != nil {
				return err
			}

			select {
			case <-gctx.Done():
				return nil
			case <-conn.ShutDown():
				return connection.ErrShutDown
			case <-conn.Done():
				return conn.Err()
			}
		})
	}

	err := g.Wait()

	for _, conn := range c.connections {
		conn.Close(ErrClientStopped)
	}
	for _, d := range c.dispatchers {
		d.Wait()
	}

	if ctx.Err() != nil {
		c.logger.Infof("Socket mode client stopped")
		return nil
	}
	return err
}

// connect retries the first connect on the connection's own backoff. After that the
// connection reconnects by itself.
func (c *Client) connect(ctx context.Context, i int) error {
	conn := c.connections[i]

	operation := func() error {
		err := conn.Connect(ctx)

		var openerErr *connection.OpenerError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &openerErr), errors.Is(err, connection.ErrShutDown), errors.Is(err, connection.ErrClosed):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Errorf("connection %d failed to connect, retrying in %s: %s", i, delay, err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.policies[i], ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connection %d: %w", i, err)
	}

	return nil
}
