// Package prober executes one HTTP probe per task expectation and produces
// a types.Observation. It is the external collaborator the evaluator and
// state machine never talk to directly: the scheduler calls it once per
// tick, feeds the result into the evaluator, and everything downstream is
// pure. Transient failures are retried up to retry.count times with
// retry.delay between attempts before being recorded as a transport
// failure — the last attempt's outcome is what gets recorded.
package prober

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pilot-net/urlcheck/pkg/types"
)

// Prober holds the process-wide shared HTTP client. One client (and its
// connection pool) is reused across every task rather than built per-probe.
type Prober struct {
	client *http.Client
}

// New builds a Prober. maxIdleConnsPerHost follows the teacher's pattern of
// sizing the transport for the expected number of concurrent probes rather
// than leaving it at Go's conservative default of 2.
func New() *Prober {
	transport := &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Prober{
		client: &http.Client{
			Transport: transport,
			// Redirects are followed by default; the evaluator only ever
			// sees the final response, matching the original behavior of
			// treating a redirect chain as transparent to status checks.
		},
	}
}

// Probe runs one HTTP request against expect's URL, retrying transient
// failures up to expect.Retry.Count times, and returns the resulting
// Observation. The returned error is non-nil only for caller-side mistakes
// (e.g. a malformed URL) — transport failures are captured IN the
// Observation, not returned as an error, since a failed probe is a normal
// outcome this system must still evaluate and persist.
func (p *Prober) Probe(ctx context.Context, expect types.TaskExpectation) (types.Observation, error) {
	if _, err := url.Parse(expect.URL); err != nil {
		return types.Observation{}, fmt.Errorf("invalid task url %q: %w", expect.URL, err)
	}

	attempts := expect.Retry.Count + 1
	delay := expect.Retry.Delay

	var obs types.Observation
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return p.transportObservation(expect, "context cancelled during retry delay", 0), nil
			case <-time.After(delay):
			}
		}
		obs = p.attempt(ctx, expect)
		if !obs.IsTransportFailure() {
			return obs, nil
		}
	}
	return obs, nil
}

func (p *Prober) attempt(ctx context.Context, expect types.TaskExpectation) types.Observation {
	reqCtx, cancel := context.WithTimeout(ctx, expect.Timeout)
	defer cancel()

	method := expect.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if expect.Payload != "" {
		bodyReader = bytes.NewBufferString(expect.Payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, expect.URL, bodyReader)
	if err != nil {
		return p.transportObservation(expect, fmt.Sprintf("building request: %v", err), 0)
	}
	for k, v := range expect.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range expect.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	client := p.client
	if expect.Proxy != "" {
		proxyURL, err := url.Parse(expect.Proxy)
		if err == nil {
			transport := p.client.Transport.(*http.Transport).Clone()
			transport.Proxy = http.ProxyURL(proxyURL)
			client = &http.Client{Transport: transport}
		}
	}
	if !expect.SSL.Verify {
		transport := client.Transport.(*http.Transport).Clone()
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
		client = &http.Client{Transport: transport}
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return p.transportObservation(expect, classifyTransportError(err), elapsed.Milliseconds())
	}
	defer resp.Body.Close()

	body, truncated := readBodyLimited(resp.Body, expect.MaxResponseSize)

	httpResp := &types.HTTPResponse{
		StatusCode:    resp.StatusCode,
		Headers:       flattenHeaders(resp.Header),
		Body:          body,
		BodyTruncated: truncated,
		RespTimeMs:    elapsed.Milliseconds(),
	}

	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		cert := resp.TLS.PeerCertificates[0]
		notAfter := cert.NotAfter
		httpResp.TLSCertExpiry = &notAfter
	}

	return types.Observation{
		TaskName:  expect.Name,
		Timestamp: start,
		HTTP:      httpResp,
	}
}

func (p *Prober) transportObservation(expect types.TaskExpectation, reason string, respTimeMs int64) types.Observation {
	return types.Observation{
		TaskName:  expect.Name,
		Timestamp: time.Now(),
		Transport: &types.TransportFailure{
			Reason:     reason,
			RespTimeMs: respTimeMs,
		},
	}
}

const defaultMaxResponseSize = 1 << 20 // 1MiB, matches the teacher's batching defaults in spirit: bound unbounded input.

func readBodyLimited(r io.Reader, max int64) (body []byte, truncated bool) {
	if max <= 0 {
		max = defaultMaxResponseSize
	}
	limited := io.LimitReader(r, max+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return data, false
	}
	if int64(len(data)) > max {
		return data[:max], true
	}
	return data, false
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
