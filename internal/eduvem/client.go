// Package eduvem registers students into course classes after a paid order.
package eduvem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://smartgr.eduvem.com/api/integrations/courseClasses"

var ErrMissingEmail = errors.New("enrollment requires an email")

type ClientOptions struct {
	BaseURL    string
	APIToken   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiToken:   strings.TrimSpace(opts.APIToken),
		httpClient: httpClient,
		logger:     logger,
	}
}

type Enrollment struct {
	CourseClassUUID string
	FullName        string
	Email           string
	Document        string
}

type enrollmentPayload struct {
	CourseClassUUID string            `json:"courseClassUUID"`
	FullName        string            `json:"fullName"`
	Email           string            `json:"email"`
	Options         enrollmentOptions `json:"options"`
}

type enrollmentOptions struct {
	PurchasingEntityName string `json:"purchasingEntityName"`
	Enrollments          int    `json:"enrollments"`
	Document             string `json:"document"`
}

// NormalizeDocument strips everything but digits from a document identifier
// (CPF and friends arrive formatted).
func NormalizeDocument(document string) string {
	var b strings.Builder
	for _, r := range document {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Enroll registers a student in a course class. The caller decides what a
// failure means; the relay logs and moves on.
func (c *Client) Enroll(ctx context.Context, e Enrollment) error {
	if strings.TrimSpace(e.Email) == "" {
		return ErrMissingEmail
	}
	payload := enrollmentPayload{
		CourseClassUUID: e.CourseClassUUID,
		FullName:        strings.TrimSpace(e.FullName),
		Email:           strings.TrimSpace(e.Email),
		Options: enrollmentOptions{
			PurchasingEntityName: "Shopify Store",
			Enrollments:          1,
			Document:             NormalizeDocument(e.Document),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("eduvem enrollment failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	c.logger.Info("student enrolled", "email", e.Email, "course_class", e.CourseClassUUID)
	return nil
}

func (c *Client) authHeader() string {
	if strings.HasPrefix(c.apiToken, "Bearer") {
		return c.apiToken
	}
	return "Bearer " + c.apiToken
}
