// Package classapi is a thin client for the classroom management REST API,
// the collaborating service that owns class records, activation state and
// attendance sessions. The signaling hub never calls it; headless agents use
// it to flip a class active before joining and to book attendance.
package classapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// APIError carries the remote status code and detail message.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classapi: status %d: %s", e.Status, e.Detail)
}

// Client talks to one class API deployment. Zero value is not usable; use New.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Class is the subset of the class record the agent cares about.
type Class struct {
	ClassID     string `json:"class_id"`
	Title       string `json:"title"`
	TeacherID   string `json:"teacher_id"`
	TeacherName string `json:"teacher_name"`
	IsActive    bool   `json:"is_active"`
}

// ActivationResult reports the session id minted when a class goes live.
type ActivationResult struct {
	Message   string `json:"message"`
	ClassID   string `json:"class_id"`
	SessionID string `json:"session_id"`
}

// GetClass fetches one class record.
func (c *Client) GetClass(ctx context.Context, classID string) (*Class, error) {
	var out Class
	if err := c.do(ctx, http.MethodGet, "/class/"+classID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivateClass marks a class live (teacher only) and returns the new
// session id.
func (c *Client) ActivateClass(ctx context.Context, classID string) (*ActivationResult, error) {
	var out ActivationResult
	if err := c.do(ctx, http.MethodPost, "/class/"+classID+"/activate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateClass ends the live session for a class (teacher only).
func (c *Client) DeactivateClass(ctx context.Context, classID string) error {
	return c.do(ctx, http.MethodPost, "/class/"+classID+"/deactivate", nil, nil)
}

// StartAttendance opens an attendance record for the caller in an active
// class session.
func (c *Client) StartAttendance(ctx context.Context, classID, sessionID string) error {
	body := map[string]string{"class_id": classID, "session_id": sessionID}
	return c.do(ctx, http.MethodPost, "/attendance/start", body, nil)
}

// EndAttendance closes the caller's attendance record.
func (c *Client) EndAttendance(ctx context.Context, classID, sessionID string) error {
	body := map[string]string{"class_id": classID, "session_id": sessionID}
	return c.do(ctx, http.MethodPost, "/attendance/end", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &detail) != nil || detail.Detail == "" {
			detail.Detail = http.StatusText(resp.StatusCode)
		}
		log.Debug().Str("module", "classapi").Str("path", path).Int("status", resp.StatusCode).Msg("request failed")
		return &APIError{Status: resp.StatusCode, Detail: detail.Detail}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
