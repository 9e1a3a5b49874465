package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type httpResponder struct {
	endpoint string
	client   *http.Client
}

type httpRequest struct {
	Question     string `json:"question"`
	SlideTitle   string `json:"slide_title"`
	SlideContext string `json:"slide_context"`
	SessionID    string `json:"session_id,omitempty"`
}

type httpResponse struct {
	Reply string `json:"reply"`
}

// NewHTTPResponder talks to the remote chat backend at endpoint.
func NewHTTPResponder(endpoint string) Responder {
	return &httpResponder{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   http.DefaultClient,
	}
}

func (r *httpResponder) Respond(ctx context.Context, req Request) (string, error) {
	payload := httpRequest{
		Question:     req.Question,
		SlideTitle:   req.SlideTitle,
		SlideContext: req.SlideSummary,
		SessionID:    req.SessionID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("assistant backend returned status %s", resp.Status)
	}

	var parsed httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode assistant response: %w", err)
	}
	if strings.TrimSpace(parsed.Reply) == "" {
		return "", fmt.Errorf("assistant backend returned empty reply")
	}
	return parsed.Reply, nil
}
