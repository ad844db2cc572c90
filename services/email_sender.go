package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/m-barthelemy/notifyd/models"
)

// EmailSender sends one transactional email. Implementations make a single attempt.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailAPISender posts emails to a transactional email HTTP API (Resend compatible).
type EmailAPISender struct {
	config     *models.Config
	httpClient *http.Client
}

type emailAPIRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func NewEmailAPISender(config *models.Config, httpClient *http.Client) *EmailAPISender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.ChannelTimeout}
	}
	return &EmailAPISender{config: config, httpClient: httpClient}
}

func (s *EmailAPISender) Send(ctx context.Context, to, subject, body string) error {
	if !s.config.EmailConfigured() {
		return ErrEmailNotConfigured
	}
	payload, err := json.Marshal(emailAPIRequest{
		From:    s.config.EmailFrom,
		To:      []string{to},
		Subject: subject,
		HTML:    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.EmailAPIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.EmailAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email API error %s: %s", resp.Status, strings.ToValidUTF8(string(respBody), "\uFFFD"))
	}
	return nil
}

var emailTemplate = template.Must(template.New("notification").Parse(
	`<!DOCTYPE html><html><body>` +
		`<h2>{{.Title}}</h2>` +
		`<p>{{.Body}}</p>` +
		`{{if .Link}}<p><a href="{{.Link}}">Open</a></p>{{end}}` +
		`</body></html>`))

// RenderEmail builds the HTML body of the email sent for event.
// Relative action URLs are resolved against baseURL.
func RenderEmail(event *models.NotificationEvent, baseURL string) (string, error) {
	link := event.ActionURL
	if link != "" && link[0] == '/' {
		link = baseURL + link
	}
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Title string
		Body  string
		Link  string
	}{event.Title, event.Body, link})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
