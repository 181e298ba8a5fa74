// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pointbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond

	// GatewayService is the JSON-RPC service name: "Points.Query" etc.
	GatewayService = "Points"
)

// QueryArgs is empty; JSON-RPC still needs a params object.
type QueryArgs struct{}

// ReadArgs names the tag to read.
type ReadArgs struct {
	Tag string `json:"tag"`
}

// WriteArgs lists the points to write, in order.
type WriteArgs struct {
	Points []TagValue `json:"points"`
}

// GatewayReply mirrors a request/reply Reply.
type GatewayReply struct {
	Status string `json:"status"`
	Body   string `json:"body"`
}

// PointService exposes a Provider's command surface over JSON-RPC. Calls
// are encoded as commands and go through Provider.HandleMessage, so both
// channels share one dispatch path.
type PointService struct {
	provider *Provider
	logger   *zap.Logger
}

func (s *PointService) call(ctx context.Context, command string, reply *GatewayReply) error {
	raw := s.provider.HandleMessage(ctx, []byte(command))
	r, err := DecodeReply(raw)
	if err != nil {
		s.logger.Warn("backend returned malformed reply", zap.String("reply", raw))
		return err
	}
	*reply = GatewayReply{Status: r.Status, Body: r.Body}
	return nil
}

func (s *PointService) Query(r *http.Request, _ *QueryArgs, reply *GatewayReply) error {
	return s.call(r.Context(), Encode(OpQuery, ""), reply)
}

func (s *PointService) Read(r *http.Request, args *ReadArgs, reply *GatewayReply) error {
	return s.call(r.Context(), Encode(OpRead, args.Tag), reply)
}

func (s *PointService) Write(r *http.Request, args *WriteArgs, reply *GatewayReply) error {
	return s.call(r.Context(), Encode(OpWrite, EncodePairs(args.Points)), reply)
}

// NewGateway returns an http.Handler serving JSON-RPC 2.0 calls
// Points.Query, Points.Read and Points.Write against p.
func NewGateway(p *Provider, opts ...Option) (http.Handler, error) {
	o := newOptions(opts)
	s := rpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	svc := &PointService{provider: p, logger: o.logger.Named("gateway")}
	if err := s.RegisterService(svc, GatewayService); err != nil {
		return nil, fmt.Errorf("gateway register: %w", err)
	}
	return s, nil
}

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") {
		return true
	}
	return false
}

// SendJSONRequest performs one JSON-RPC 2.0 call with up to maxRetries
// attempts on transient connection errors.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	logger *zap.Logger,
) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("json-rpc request", zap.String("method", method), zap.Stringer("uri", uri))
	requestBodyBytes, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 500ms, 1s
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// Create fresh request for each attempt (body buffer is consumed)
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			uri.String(),
			bytes.NewBuffer(requestBodyBytes),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			logger.Warn("json-rpc attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Bool("retryable", isRetryableError(err)),
				zap.Error(err))
			if isRetryableError(err) {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}
		if attempt > 0 {
			logger.Info("json-rpc request succeeded after retry", zap.Int("attempt", attempt+1))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			CleanlyCloseBody(resp.Body)
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}

		if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
			CleanlyCloseBody(resp.Body)
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		CleanlyCloseBody(resp.Body)
		return nil
	}

	return fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}
