package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSolver submits captcha image URLs to an external solving service over
// a plain JSON-over-HTTP API.
type HTTPSolver struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewHTTPSolver(endpoint string) *HTTPSolver {
	return &HTTPSolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default().With("component", "captcha_solver"),
	}
}

type solveResponse struct {
	Solution string `json:"solution"`
	Error    string `json:"error"`
}

// Solve posts the image URL to the service and returns the text answer.
func (s *HTTPSolver) Solve(ctx context.Context, imageURL string) (string, error) {
	form := url.Values{"image_url": {imageURL}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("solver request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read solver response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("solver returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var solved solveResponse
	if err := json.Unmarshal(body, &solved); err != nil {
		return "", fmt.Errorf("failed to decode solver response: %w", err)
	}
	if solved.Error != "" {
		return "", fmt.Errorf("solver error: %s", solved.Error)
	}
	if solved.Solution == "" {
		return "", fmt.Errorf("solver returned empty solution")
	}

	s.logger.Debug("captcha solved", "elapsed", time.Since(start))
	return solved.Solution, nil
}
