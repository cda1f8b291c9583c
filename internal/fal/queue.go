package fal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Queue statuses reported by fal
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Error         string `json:"error,omitempty"`
}

// subscribe submits a job to model, waits for it to finish and returns the
// raw result payload.
func (c *Client) subscribe(ctx context.Context, model string, arguments any) (json.RawMessage, error) {
	body, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, c.baseURL+"/"+model, body)
	if err != nil {
		return nil, fmt.Errorf("submit to %s: %w", model, err)
	}

	var sub submitResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	if sub.RequestID == "" {
		return nil, fmt.Errorf("submit to %s: response has no request_id", model)
	}
	if sub.StatusURL == "" {
		sub.StatusURL = fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, model, sub.RequestID)
	}
	if sub.ResponseURL == "" {
		sub.ResponseURL = fmt.Sprintf("%s/%s/requests/%s", c.baseURL, model, sub.RequestID)
	}

	logger := c.logger.With().Str("model", model).Str("request_id", sub.RequestID).Logger()
	logger.Debug().Msg("job submitted")

	if err := c.waitForCompletion(ctx, sub.StatusURL); err != nil {
		return nil, fmt.Errorf("request %s: %w", sub.RequestID, err)
	}

	result, err := c.do(ctx, http.MethodGet, sub.ResponseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch result %s: %w", sub.RequestID, err)
	}
	logger.Debug().Int("bytes", len(result)).Msg("job completed")
	return json.RawMessage(result), nil
}

func (c *Client) waitForCompletion(ctx context.Context, statusURL string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		data, err := c.do(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return fmt.Errorf("poll status: %w", err)
		}

		var status statusResponse
		if err := json.Unmarshal(data, &status); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}

		switch status.Status {
		case StatusCompleted:
			if status.Error != "" {
				return fmt.Errorf("job failed: %s", status.Error)
			}
			return nil
		case StatusInQueue, StatusInProgress:
			ev := c.logger.Debug().Str("status", status.Status)
			if status.QueuePosition != nil {
				ev = ev.Int("queue_position", *status.QueuePosition)
			}
			ev.Msg("waiting for job")
		default:
			msg := status.Error
			if msg == "" {
				msg = "unexpected status " + status.Status
			}
			return fmt.Errorf("job failed: %s", msg)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
