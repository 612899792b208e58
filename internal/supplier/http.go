package supplier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// httpDoer is the subset of *http.Client a round trip needs. The shared
// helpers below take a *http.Client directly; tests substitute a
// gopkg.in/dnaeon/go-vcr.v4 recorder's client in its place.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// buildClient applies req.ProxyURL to base, returning base unchanged when
// ProxyURL is empty.
func buildClient(base *http.Client, proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return base, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy url: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(parsed)
	clone := *base
	clone.Transport = transport
	return &clone, nil
}

func setHeaders(httpReq *http.Request, headers, extra map[string]string) {
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range extra {
		httpReq.Header.Set(k, v)
	}
}

// doUnary performs one non-streaming HTTP round trip and normalizes the
// result into a Response, decoding the body as JSON when req.ResponseMode
// is ResponseModeParsed.
func doUnary(ctx context.Context, client *http.Client, method, fullURL string, req Request, setAuth func(*http.Request)) (Response, error) {
	start := time.Now()

	httpClient, err := buildClient(client, req.ProxyURL)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	setHeaders(httpReq, req.Headers, req.ExtraHeaders)
	if setAuth != nil {
		setAuth(httpReq)
	}

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	firstByte := time.Since(start)
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response body: %w", err)
	}

	resp := Response{
		StatusCode:       httpResp.StatusCode,
		Headers:          flattenHeaders(httpResp.Header),
		Body:             body,
		FirstByteDelayMs: firstByte.Milliseconds(),
		TotalTimeMs:      time.Since(start).Milliseconds(),
	}

	if req.ResponseMode == ResponseModeParsed && len(body) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err == nil {
			resp.ParsedBody = parsed
		}
	}
	return resp, nil
}

// doStream performs one streaming HTTP round trip and returns a channel
// of Chunks. The first chunk carries the Response established by the
// initial HTTP status line and headers; a goroutine then scans the body
// line by line and emits one Chunk per complete SSE block via
// internal/protocol's Accumulator.
func doStream(ctx context.Context, client *http.Client, method, fullURL string, req Request, setAuth func(*http.Request)) (<-chan Chunk, error) {
	start := time.Now()

	httpClient, err := buildClient(client, req.ProxyURL)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	setHeaders(httpReq, req.Headers, req.ExtraHeaders)
	if setAuth != nil {
		setAuth(httpReq)
	}

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	base := Response{
		StatusCode:       httpResp.StatusCode,
		Headers:          flattenHeaders(httpResp.Header),
		FirstByteDelayMs: time.Since(start).Milliseconds(),
	}

	ch := make(chan Chunk)

	if base.StatusCode >= 300 {
		// Non-2xx streaming attempts carry their error body as one
		// unary-shaped chunk; the executor treats this exactly like a
		// failed unary attempt when deciding to retry/failover.
		go func() {
			defer close(ch)
			defer httpResp.Body.Close()
			body, _ := io.ReadAll(httpResp.Body)
			base.Body = body
			base.TotalTimeMs = time.Since(start).Milliseconds()
			select {
			case ch <- Chunk{Data: body, Response: base}:
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var acc protocol.Accumulator
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			ev, ok, err := acc.Feed(line)
			if err != nil {
				select {
				case ch <- Chunk{Response: Response{StatusCode: base.StatusCode, Error: err.Error()}}:
				case <-ctx.Done():
				}
				return
			}
			if !ok {
				continue
			}
			resp := base
			resp.TotalTimeMs = time.Since(start).Milliseconds()
			raw, _ := protocol.EncodeRawEvent(ev)
			select {
			case ch <- Chunk{Data: raw, Event: ev, Response: resp}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- Chunk{Response: Response{StatusCode: base.StatusCode, Error: err.Error()}}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
