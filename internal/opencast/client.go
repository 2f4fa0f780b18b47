package opencast

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// APIError is a non-2xx response from the Opencast API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("opencast api status %d: %s", e.StatusCode, e.Body)
}

// FormField is one ordered text field of a multipart ingest request.
type FormField struct {
	Name  string
	Value string
}

// Config holds Opencast connection settings.
type Config struct {
	BaseURL     string
	APIUser     string
	APIPassword string
}

// Client talks to the Opencast admin API using digest authentication.
type Client struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates an Opencast client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		user:       cfg.APIUser,
		password:   cfg.APIPassword,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
}

// AlreadyIngested reports whether a media package id already has at least one
// workflow instance on the platform. A 404 from the workflow listing means
// "not ingested"; any other failure propagates.
func (c *Client) AlreadyIngested(ctx context.Context, mediaPackageID string) (bool, error) {
	endpoint := "/workflow/instances.json?mp=" + url.QueryEscape(mediaPackageID)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	var doc struct {
		Workflows struct {
			TotalCount json.Number `json:"totalCount"`
		} `json:"workflows"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, fmt.Errorf("parse workflow instances: %w", err)
	}
	count, err := doc.Workflows.TotalCount.Int64()
	if err != nil {
		return false, fmt.Errorf("parse workflow count %q: %w", doc.Workflows.TotalCount, err)
	}
	c.logger.Debug("workflow instance lookup",
		zap.String("mediapackage_id", mediaPackageID), zap.Int64("count", count))
	return count > 0, nil
}

// EpisodeDefaults returns the per-series episode default metadata
// (contributor, publisher, creator) as a flat map.
func (c *Client) EpisodeDefaults(ctx context.Context, seriesID string) (map[string]string, error) {
	body, err := c.get(ctx, "/otherpubs/episodedefaults/"+url.PathEscape(seriesID)+".json")
	if err != nil {
		return nil, err
	}
	var doc map[string]map[string][]struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse episode defaults: %w", err)
	}
	defaults := make(map[string]string)
	for k, vals := range doc["http://purl.org/dc/terms/"] {
		if len(vals) > 0 {
			defaults[k] = vals[0].Value
		}
	}
	return defaults, nil
}

// SeriesCatalog returns the raw Dublin Core catalog for a series, embedded
// verbatim in ingest requests.
func (c *Client) SeriesCatalog(ctx context.Context, seriesID string) (string, error) {
	body, err := c.get(ctx, "/series/"+url.PathEscape(seriesID)+".json")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Ingest submits a multipart addMediaPackage request and returns the id of
// the workflow instance it started.
func (c *Client) Ingest(ctx context.Context, workflowDefinitionID string, fields []FormField) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return "", fmt.Errorf("write field %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := "/ingest/addMediaPackage/" + url.PathEscape(workflowDefinitionID)
	body, err := c.do(ctx, http.MethodPost, endpoint, mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return "", err
	}
	workflowID, err := workflowIDFromXML(body)
	if err != nil {
		return "", err
	}
	return workflowID, nil
}

// workflowIDFromXML extracts the root element's id attribute from a workflow
// instance document.
func workflowIDFromXML(doc []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("parse workflow xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "id" {
				return attr.Value, nil
			}
		}
		return "", fmt.Errorf("workflow xml root element has no id attribute")
	}
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, "", nil)
}

// do performs a digest-authenticated request. The body must be replayable,
// so it is taken as bytes: the first attempt collects the challenge and the
// second carries the Authorization header.
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, error) {
	resp, err := c.send(ctx, method, endpoint, contentType, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("WWW-Authenticate")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		auth, err := digestAuthorization(challenge, method, endpoint, c.user, c.password)
		if err != nil {
			return nil, fmt.Errorf("digest auth: %w", err)
		}
		resp, err = c.send(ctx, method, endpoint, contentType, body, auth)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body []byte, authorization string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Requested-Auth", "Digest")
	req.Header.Set("X-Opencast-Matterhorn-Authentication", "true")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	return resp, nil
}
