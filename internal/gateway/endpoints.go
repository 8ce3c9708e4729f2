package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"agrisync/internal/models"
)

// DetectionResult is the ML verdict for an uploaded crop image.
type DetectionResult struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
	Advice     string  `json:"advice,omitempty"`
}

// ChatReply is the assistant's answer.
type ChatReply struct {
	Reply string `json:"reply"`
}

// CreateField creates a field. The idempotency key deduplicates replays of
// the same queued mutation on the server side; pass "" for direct submits.
func (c *Client) CreateField(ctx context.Context, in models.FieldCreate, idempotencyKey string) (*models.Field, error) {
	var out models.Field
	if err := c.call(ctx, "create_field", http.MethodPost, "/fields", in, nil, nil, idempotencyHeader(idempotencyKey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFields returns the farmer's fields.
func (c *Client) ListFields(ctx context.Context) ([]models.Field, error) {
	var out []models.Field
	cacheKey := "fields"
	if c.readCache(ctx, cacheKey, &out) {
		return out, nil
	}
	if err := c.call(ctx, "list_fields", http.MethodGet, "/fields", nil, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, out)
	return out, nil
}

// GetField fetches one field by its opaque id.
func (c *Client) GetField(ctx context.Context, id string) (*models.Field, error) {
	var out models.Field
	path := "/fields/" + url.PathEscape(id)
	if err := c.call(ctx, "get_field", http.MethodGet, path, nil, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateField PATCHes the attributes in patch onto the field.
func (c *Client) UpdateField(ctx context.Context, id string, patch json.RawMessage, idempotencyKey string) (*models.Field, error) {
	var out models.Field
	path := "/fields/" + url.PathEscape(id)
	if err := c.call(ctx, "update_field", http.MethodPatch, path, patch, nil, nil, idempotencyHeader(idempotencyKey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteField removes a field.
func (c *Client) DeleteField(ctx context.Context, id string, idempotencyKey string) error {
	path := "/fields/" + url.PathEscape(id)
	return c.call(ctx, "delete_field", http.MethodDelete, path, nil, nil, nil, idempotencyHeader(idempotencyKey), nil)
}

// DetectDisease uploads a crop image as multipart form data.
func (c *Client) DetectDisease(ctx context.Context, filename string, image io.Reader) (*DetectionResult, error) {
	var out DetectionResult
	files := []filePart{{field: "image", filename: filename, reader: image}}
	if err := c.call(ctx, "detect", http.MethodPost, "/detect", nil, nil, files, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends a message to the assistant. JSON normally; multipart when an
// image accompanies the message.
func (c *Client) Chat(ctx context.Context, msg models.ChatMessage, imageName string, image io.Reader) (*ChatReply, error) {
	var out ChatReply

	if image == nil {
		body := map[string]any{"message": msg.Message, "lang": msg.Lang}
		for k, v := range msg.Context {
			body[k] = v
		}
		if err := c.call(ctx, "chat", http.MethodPost, "/chat", body, nil, nil, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}

	form := map[string]string{"message": msg.Message, "lang": msg.Lang}
	for k, v := range msg.Context {
		form[k] = v
	}
	files := []filePart{{field: "image", filename: imageName, reader: image}}
	if err := c.call(ctx, "chat", http.MethodPost, "/chat", nil, form, files, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarketForecast queries price forecasts for a crop/market payload.
func (c *Client) MarketForecast(ctx context.Context, payload any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, "market_forecast", http.MethodPost, "/markets/forecast", payload, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WeatherForecast fetches the forecast for a location.
func (c *Client) WeatherForecast(ctx context.Context, lat, lon float64, days int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%g", lat))
	q.Set("lon", fmt.Sprintf("%g", lon))
	q.Set("days", fmt.Sprintf("%d", days))
	path := "/weather/forecast?" + q.Encode()

	var out json.RawMessage
	cacheKey := "weather:" + q.Encode()
	if c.readCache(ctx, cacheKey, &out) {
		return out, nil
	}
	if err := c.call(ctx, "weather_forecast", http.MethodGet, path, nil, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, out)
	return out, nil
}

// authResponse is what every auth endpoint returns on success.
type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// RequestOTP asks the backend to send a one-time password to the phone.
func (c *Client) RequestOTP(ctx context.Context, phone string) error {
	body := map[string]string{"phone": phone}
	return c.call(ctx, "request_otp", http.MethodPost, "/auth/request-otp", body, nil, nil, nil, nil)
}

// VerifyOTP exchanges phone+code for a session.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*models.Session, error) {
	body := map[string]string{"phone": phone, "code": code}
	var out authResponse
	if err := c.call(ctx, "verify_otp", http.MethodPost, "/auth/verify-otp", body, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &models.Session{Token: out.Token, User: out.User}, nil
}

// Login signs in with phone and password.
func (c *Client) Login(ctx context.Context, phone, password string) (*models.Session, error) {
	body := map[string]string{"phone": phone, "password": password}
	var out authResponse
	if err := c.call(ctx, "login", http.MethodPost, "/auth/login", body, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &models.Session{Token: out.Token, User: out.User}, nil
}

// Register creates an account and signs in.
func (c *Client) Register(ctx context.Context, user models.User, password string) (*models.Session, error) {
	body := map[string]string{
		"name":     user.Name,
		"phone":    user.Phone,
		"village":  user.Village,
		"lang":     user.Lang,
		"password": password,
	}
	var out authResponse
	if err := c.call(ctx, "register", http.MethodPost, "/auth/register", body, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &models.Session{Token: out.Token, User: out.User}, nil
}

func idempotencyHeader(key string) http.Header {
	if key == "" {
		return nil
	}
	h := http.Header{}
	h.Set("X-Idempotency-Key", key)
	return h
}
