package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/slacknet/slacksdk/logger"
)

const (
	httpTimeout = time.Second * 30

	defaultRetryCount       = 3
	defaultRetryWaitTime    = 500 * time.Millisecond
	defaultRetryMaxWaitTime = 3 * time.Second
)

type HTTPOptions struct {
	Endpoint string
	Body     any
	Headers  http.Header
	Params   url.Values

	// Zero values fall back to the defaults above; a negative RetryCount disables retries
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
	RetryPolicy      func(*resty.Response, error) bool
}

type HttpClient struct {
	logger *logger.Logger
	client *resty.Client

	targetUrl string
	body      any
	headers   http.Header
	params    url.Values
}

func New(
	logger *logger.Logger,
	serviceUrl string,
	options HTTPOptions,
) (*HttpClient, error) {
	combo, err := url.ParseRequestURI(serviceUrl)
	if err != nil {
		return nil, err
	}

	if options.Endpoint != "" {
		combo = combo.JoinPath(options.Endpoint)
	}

	if options.Headers == nil {
		options.Headers = http.Header{}
	}

	if options.Params == nil {
		options.Params = url.Values{}
	}

	retryCount := options.RetryCount
	switch {
	case retryCount == 0:
		retryCount = defaultRetryCount
	case retryCount < 0:
		retryCount = 0
	}

	waitTime := options.RetryWaitTime
	if waitTime <= 0 {
		waitTime = defaultRetryWaitTime
	}

	maxWaitTime := options.RetryMaxWaitTime
	if maxWaitTime <= 0 {
		maxWaitTime = defaultRetryMaxWaitTime
	}

	policy := options.RetryPolicy
	if policy == nil {
		policy = DefaultRetryPolicy
	}

	client := resty.New().
		SetTimeout(httpTimeout).
		SetLogger(logger).
		SetRetryCount(retryCount).
		SetRetryWaitTime(waitTime).
		SetRetryMaxWaitTime(maxWaitTime).
		AddRetryCondition(policy)

	return &HttpClient{
		logger:    logger,
		client:    client,
		targetUrl: combo.String(),
		body:      options.Body,
		headers:   options.Headers,
		params:    options.Params,
	}, nil
}

func (h *HttpClient) TargetUrl() string {
	return h.targetUrl
}

// Post sends the request and decodes a successful json response into result, if not nil
func (h *HttpClient) Post(ctx context.Context, result any) (*resty.Response, error) {
	return h.execute(ctx, http.MethodPost, result)
}

func (h *HttpClient) Get(ctx context.Context, result any) (*resty.Response, error) {
	return h.execute(ctx, http.MethodGet, result)
}

func (h *HttpClient) execute(ctx context.Context, method string, result any) (*resty.Response, error) {
	request := h.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(h.headers).
		SetQueryParamsFromValues(h.params)

	if h.body != nil {
		request.SetBody(h.body)
	}

	if result != nil {
		request.SetResult(result)
	}

	response, err := request.Execute(method, h.targetUrl)
	if err != nil {
		return response, fmt.Errorf("%s request failed: %w", method, err)
	}

	// Check if request was successful
	if response.IsError() {
		return response, fmt.Errorf("%s request failed with status %s", method, response.Status())
	}

	return response, nil
}

// DefaultRetryPolicy retries on HTTP 429 and 5xx responses and on transient connection
// errors. Context cancellation, deadline exceeded and DNS failures are never retried.
func DefaultRetryPolicy(r *resty.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return false
		}

		return true
	}

	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}
