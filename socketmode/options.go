package socketmode

import (
	"time"

	"github.com/slacknet/slacksdk/config"
	"github.com/slacknet/slacksdk/connection/httpclient"
	"github.com/slacknet/slacksdk/connection/opener"
	"github.com/slacknet/slacksdk/connection/socketmodeconnection"
	"github.com/slacknet/slacksdk/connection/transporter"
	"github.com/slacknet/slacksdk/connection/transporter/websocket"
	"github.com/slacknet/slacksdk/dispatcher"
	"github.com/slacknet/slacksdk/metrics"
)

type Option func(*Options)

type Options struct {
	apiUrl              string
	numberOfConnections int
	connectionDelay     time.Duration
	debugReconnects     bool
	pingTimeout         time.Duration
	ackDeadline         time.Duration
	subscriberBuffer    int

	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMultiplier float64
	backoffResetAfter time.Duration

	httpOptions httpclient.HTTPOptions
	metrics     *metrics.Metrics

	// replace the platform and relay, mostly for tests
	opener  opener.Opener
	factory transporter.Factory
}

func newClientOptions() *Options {
	return &Options{
		apiUrl:              opener.DefaultApiUrl,
		numberOfConnections: 1,
		connectionDelay:     time.Second,
		pingTimeout:         websocket.DefaultPingTimeout,
		ackDeadline:         dispatcher.DefaultAckDeadline,
		subscriberBuffer:    100,
		backoffInitial:      socketmodeconnection.DefaultInitialInterval,
		backoffMax:          socketmodeconnection.DefaultMaxInterval,
		backoffMultiplier:   socketmodeconnection.DefaultMultiplier,
		backoffResetAfter:   socketmodeconnection.DefaultResetAfter,
	}
}

func WithApiUrl(apiUrl string) Option {
	return func(o *Options) {
		if apiUrl != "" {
			o.apiUrl = apiUrl
		}
	}
}

// WithConnections sets how many simultaneous connections the client holds for the app
func WithConnections(count int) Option {
	return func(o *Options) {
		if count > 0 && count <= config.MaxConnections {
			o.numberOfConnections = count
		}
	}
}

// WithConnectionDelay staggers the first connect of each connection
func WithConnectionDelay(delay time.Duration) Option {
	return func(o *Options) {
		if delay >= 0 {
			o.connectionDelay = delay
		}
	}
}

func WithDebugReconnects(enabled bool) Option {
	return func(o *Options) {
		o.debugReconnects = enabled
	}
}

func WithPingTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout > 0 {
			o.pingTimeout = timeout
		}
	}
}

func WithAckDeadline(deadline time.Duration) Option {
	return func(o *Options) {
		if deadline > 0 {
			o.ackDeadline = deadline
		}
	}
}

func WithSubscriberBuffer(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.subscriberBuffer = size
		}
	}
}

func WithBackoff(initial, max time.Duration, multiplier float64, resetAfter time.Duration) Option {
	return func(o *Options) {
		if initial > 0 && max >= initial && multiplier >= 1 && resetAfter > 0 {
			o.backoffInitial = initial
			o.backoffMax = max
			o.backoffMultiplier = multiplier
			o.backoffResetAfter = resetAfter
		}
	}
}

func WithHTTPOptions(options httpclient.HTTPOptions) Option {
	return func(o *Options) {
		o.httpOptions = options
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.metrics = m
	}
}

func WithOpener(op opener.Opener) Option {
	return func(o *Options) {
		o.opener = op
	}
}

func WithTransportFactory(factory transporter.Factory) Option {
	return func(o *Options) {
		o.factory = factory
	}
}

// FromConfig turns a loaded config into client options
func FromConfig(c *config.Config) []Option {
	return []Option{
		WithApiUrl(c.ApiUrl),
		WithConnections(c.NumberOfConnections),
		WithConnectionDelay(c.ConnectionDelay),
		WithDebugReconnects(c.DebugReconnects),
		WithPingTimeout(c.PingTimeout),
		WithAckDeadline(c.AckDeadline),
		WithSubscriberBuffer(c.SubscriberBuffer),
		WithBackoff(c.Backoff.Initial, c.Backoff.Max, c.Backoff.Multiplier, c.Backoff.ResetAfter),
	}
}
