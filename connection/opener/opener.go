/*
Package opener asks the platform for a fresh Socket Mode url. Every url is single use, so
the connection manager calls OpenConnection again for each reconnect.
*/
package opener

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/slacknet/slacksdk/connection"
	"github.com/slacknet/slacksdk/connection/httpclient"
	"github.com/slacknet/slacksdk/logger"
)

const (
	DefaultApiUrl = "https://slack.com/api/"

	connectionsOpenEndpoint = "apps.connections.open"
	debugReconnectsParam    = "debug_reconnects"
)

type OpenResponse struct {
	Ok    bool   `json:"ok"`
	Url   string `json:"url"`
	Error string `json:"error,omitempty"`
}

type Opener interface {
	OpenConnection(ctx context.Context) (*OpenResponse, error)
}

type AppsConnectionsOpener struct {
	logger *logger.Logger

	apiUrl          string
	appToken        string
	debugReconnects bool
	httpOptions     httpclient.HTTPOptions
}

type Option func(*AppsConnectionsOpener)

// WithDebugReconnects makes the relay cycle connections far more often, handy for
// exercising reconnect handling
func WithDebugReconnects(enabled bool) Option {
	return func(o *AppsConnectionsOpener) {
		o.debugReconnects = enabled
	}
}

func WithHTTPOptions(options httpclient.HTTPOptions) Option {
	return func(o *AppsConnectionsOpener) {
		o.httpOptions = options
	}
}

func New(logger *logger.Logger, apiUrl string, appToken string, opts ...Option) *AppsConnectionsOpener {
	if apiUrl == "" {
		apiUrl = DefaultApiUrl
	}

	o := &AppsConnectionsOpener{
		logger:   logger,
		apiUrl:   apiUrl,
		appToken: appToken,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *AppsConnectionsOpener) OpenConnection(ctx context.Context) (*OpenResponse, error) {
	options := o.httpOptions
	options.Endpoint = connectionsOpenEndpoint
	options.Headers = http.Header{
		"Authorization": {fmt.Sprintf("Bearer %s", o.appToken)},
		"Content-Type":  {"application/x-www-form-urlencoded"},
	}

	client, err := httpclient.New(o.logger, o.apiUrl, options)
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", o.apiUrl, err)
	}

	var response OpenResponse
	if _, err := client.Post(ctx, &response); err != nil {
		return nil, fmt.Errorf("error requesting a socket mode url: %w", err)
	}

	if !response.Ok {
		return nil, &connection.OpenerError{Code: response.Error}
	}

	if response.Url == "" {
		return nil, fmt.Errorf("platform returned an empty socket mode url")
	}

	if o.debugReconnects {
		debugUrl, err := url.Parse(response.Url)
		if err != nil {
			return nil, fmt.Errorf("platform returned a malformed socket mode url: %w", err)
		}

		params := debugUrl.Query()
		params.Set(debugReconnectsParam, "true")
		debugUrl.RawQuery = params.Encode()
		response.Url = debugUrl.String()
	}

	o.logger.Debugf("Received a new socket mode url")
	return &response, nil
}
