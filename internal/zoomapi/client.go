package zoomapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	tokenValidity    = 60 * time.Second
	transportRetries = 3
	transportBackoff = 2 * time.Second
)

// Config holds Zoom API credentials.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

// Client is a minimal Zoom REST API client authenticated with short-lived
// HS256 bearer tokens.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Zoom API client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// RecordingFile is one file of a completed cloud recording.
type RecordingFile struct {
	ID            string `json:"id"`
	FileType      string `json:"file_type"`
	RecordingType string `json:"recording_type"`
	DownloadURL   string `json:"download_url"`
	FileSize      int64  `json:"file_size"`
	Status        string `json:"status"`
}

// MeetingRecording is the recordings listing for one meeting instance.
type MeetingRecording struct {
	UUID           string          `json:"uuid"`
	MeetingID      int64           `json:"id"`
	HostID         string          `json:"host_id"`
	Topic          string          `json:"topic"`
	StartTime      time.Time       `json:"start_time"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// User is the subset of a Zoom user profile the pipeline needs.
type User struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// DisplayName returns the user's full name, falling back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// MeetingRecording fetches the recording files for a meeting uuid.
func (c *Client) MeetingRecording(ctx context.Context, meetingUUID string) (*MeetingRecording, error) {
	var rec MeetingRecording
	endpoint := "/meetings/" + url.PathEscape(meetingUUID) + "/recordings"
	if err := c.get(ctx, endpoint, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// User fetches a user profile by host id.
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := c.get(ctx, "/users/"+url.PathEscape(userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Download opens a streaming GET of a recording file. Caller must close the
// returned body.
func (c *Client) Download(ctx context.Context, downloadURL string) (io.ReadCloser, string, int64, error) {
	token, err := c.token()
	if err != nil {
		return nil, "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", 0, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) token() (string, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return "", fmt.Errorf("zoom api key and secret are required")
	}
	claims := jwt.MapClaims{
		"iss": c.apiKey,
		"exp": time.Now().Add(tokenValidity).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign zoom token: %w", err)
	}
	return token, nil
}

// get performs an authenticated GET with retries on transport errors only;
// HTTP-level failures are not retried here.
func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	token, err := c.token()
	if err != nil {
		return err
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}
		if attempt >= transportRetries {
			return fmt.Errorf("error requesting %s: %w", endpoint, err)
		}
		c.logger.Warn("zoom api connection error, retrying",
			zap.String("endpoint", endpoint), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transportBackoff):
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("zoom api status %d for %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response for %s: %w", endpoint, err)
	}
	return nil
}
