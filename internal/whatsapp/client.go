package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/models"
)

// Client talks to the WhatsApp Cloud API using per-workspace connection credentials
type Client struct {
	BaseURL    string
	Version    string
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(cfg.GraphAPIURL, "/"),
		Version:    cfg.GraphAPIVersion,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SendResponse is the Graph API reply to a /messages call
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// APIError is returned for non-2xx Graph API responses
type APIError struct {
	StatusCode int
	Message    string
	Code       int
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("whatsapp API error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp API error %d: %s", e.StatusCode, e.Body)
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url, token string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var parsed struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Message = parsed.Error.Message
			apiErr.Code = parsed.Error.Code
		}
		return respBody, apiErr
	}

	return respBody, nil
}

func (c *Client) messagesURL(phoneNumberID string) string {
	return fmt.Sprintf("%s/%s/%s/messages", c.BaseURL, c.Version, phoneNumberID)
}

// --- Messaging Methods ---

// SendRawMessage posts a message and returns the WhatsApp message id
func (c *Client) SendRawMessage(ctx context.Context, conn *models.WhatsAppConnection, msg GenericMessage) (string, error) {
	if conn == nil || conn.PhoneNumberID == "" || conn.AccessToken == "" {
		return "", errors.New("whatsapp connection is missing credentials")
	}

	respBody, err := c.sendRequest(ctx, http.MethodPost, c.messagesURL(conn.PhoneNumberID), conn.AccessToken, msg)
	if err != nil {
		return "", err
	}

	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	return resp.Messages[0].ID, nil
}

// SendText sends a free-form text message
func (c *Client) SendText(ctx context.Context, conn *models.WhatsAppConnection, to, body string) (string, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text: &TextObj{
			Body: body,
		},
	}
	return c.SendRawMessage(ctx, conn, msg)
}

// SendTemplate sends an approved template, filling body parameters in order
func (c *Client) SendTemplate(ctx context.Context, conn *models.WhatsAppConnection, to, templateName, languageCode string, variables []string) (string, error) {
	tpl := &TemplateObj{
		Name:     templateName,
		Language: LanguageObj{Code: languageCode},
	}
	if len(variables) > 0 {
		params := make([]ParameterObj, 0, len(variables))
		for _, v := range variables {
			params = append(params, ParameterObj{Type: "text", Text: v})
		}
		tpl.Components = []ComponentObj{{Type: "body", Parameters: params}}
	}

	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         tpl,
	}
	return c.SendRawMessage(ctx, conn, msg)
}
