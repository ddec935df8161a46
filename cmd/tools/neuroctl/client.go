package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/neurosync-os/backend/internal/model/chat"
	"github.com/neurosync-os/backend/internal/service/dispatch"
)

// apiClient talks to the NeuroSync HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type turnReply struct {
	dispatch.Result
	Error string `json:"error,omitempty"`
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) createSession(ctx context.Context) (chat.Session, error) {
	var sess chat.Session
	err := c.do(ctx, http.MethodPost, "/api/session", nil, &sess)
	return sess, err
}

func (c *apiClient) ask(ctx context.Context, sessionID, utterance, requestID string) (turnReply, error) {
	body := map[string]string{"sessionId": sessionID, "utterance": utterance}
	if requestID != "" {
		body["requestId"] = requestID
	}
	var reply turnReply
	err := c.do(ctx, http.MethodPost, "/api/turns", body, &reply)
	return reply, err
}

func (c *apiClient) history(ctx context.Context, sessionID string, window int) ([]chat.Turn, error) {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/turns"
	if window > 0 {
		path += "?window=" + strconv.Itoa(window)
	}
	var out struct {
		Turns []chat.Turn `json:"turns"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Turns, err
}

func (c *apiClient) clear(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
