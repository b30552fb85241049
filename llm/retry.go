package llm

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const (
	retryAttempts = 3
	retryBaseWait = 2 * time.Second
	retryMaxWait  = 10 * time.Second
)

// isRetryable classifies provider errors. Transport failures, 5xx and
// transient rate limits retry; authentication, invalid requests and
// exhausted quota propagate immediately.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 400, 401, 403, 404:
			return false
		case 429:
			if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
				return false
			}
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 429
	}
	// Plain transport errors (timeouts, resets) are transient.
	return true
}

// withBackoff retries op with exponential backoff on retryable errors.
func withBackoff(ctx context.Context, reqID string, op func() (string, error)) (string, error) {
	var wait = retryBaseWait
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		var out, err = op()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == retryAttempts {
			return "", err
		}
		log.WithFields(log.Fields{
			"req_id":  reqID,
			"attempt": attempt,
			"wait":    wait,
			"error":   err,
		}).Warn("transient llm error, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		wait *= 2
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
	}
	return "", lastErr
}
