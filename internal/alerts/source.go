package alerts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPPollSource is the shipped Source implementation. No GCN Kafka
// client (gcn_kafka.Consumer) exists anywhere in the retrieval pack, so
// rather than fabricate a broker SDK this polls a long-poll HTTP
// endpoint that fronts the broker subscription, one topic per Source,
// with a client-side timeout that bounds each Consume call the same
// way the original's consume(timeout=1) bounds each poll — see
// DESIGN.md. The endpoint is expected to return 204 No Content when
// nothing is available within the poll window, or 200 with the raw
// VOEvent XML body plus "X-Topic"/"X-Offset" headers otherwise.
type HTTPPollSource struct {
	Endpoint    string
	Topic       string
	Client      *http.Client
	PollTimeout time.Duration
}

// NewHTTPPollSource builds a Source polling endpoint for topic, with a
// 1-second poll timeout by default (matching consume(timeout=1)).
func NewHTTPPollSource(client *http.Client, endpoint, topic string) *HTTPPollSource {
	return &HTTPPollSource{Endpoint: endpoint, Topic: topic, Client: client, PollTimeout: time.Second}
}

// Consume performs one bounded long-poll request. ok is false both on
// a 204 (nothing available) and on a request timeout — either way the
// caller's listener loop simply tries again, keeping ctx cancellation
// observable at the configured poll cadence.
func (s *HTTPPollSource) Consume(ctx context.Context) (Message, bool, error) {
	timeout := s.PollTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.Endpoint, nil)
	if err != nil {
		return Message{}, false, fmt.Errorf("alerts: build poll request: %w", err)
	}
	q := req.URL.Query()
	q.Set("topic", s.Topic)
	req.URL.RawQuery = q.Encode()

	resp, err := s.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, false, nil
		}
		return Message{}, false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return Message{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Message{}, false, fmt.Errorf("alerts: poll %s: unexpected status %d", s.Topic, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, false, fmt.Errorf("alerts: read poll body: %w", err)
	}

	offset, _ := strconv.ParseInt(resp.Header.Get("X-Offset"), 10, 64)
	topic := resp.Header.Get("X-Topic")
	if topic == "" {
		topic = s.Topic
	}

	return Message{Topic: topic, Offset: offset, XML: body}, true, nil
}

// Close is a no-op: the underlying *http.Client is shared and owned by
// the caller.
func (s *HTTPPollSource) Close() error { return nil }
