package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"polybot/internal/observability"
)

const apiBase = "https://api.telegram.org/bot"

// Telegram allows roughly 30 outgoing messages per second per bot.
const sendRate = 30

// APIError is returned when the Bot API answers with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error %d: %s", e.Method, e.Code, e.Description)
}

type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxTries   uint
	log        *observability.Logger
}

// NewClientWithOptions builds a client against base (the Bot API prefix the
// token is appended to). A nil httpClient gets a 15s timeout.
func NewClientWithOptions(token, base string, httpClient *http.Client) *Client {
	if base == "" {
		base = apiBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		token:      token,
		apiBase:    base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(sendRate), sendRate),
		maxTries:   3,
		log:        observability.Component("telegram"),
	}
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sendMessage rate limit: %w", err)
	}
	body, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}
	var sent Message
	if err := c.call(ctx, "sendMessage", "application/json", body, &sent); err != nil {
		return err
	}
	c.log.Debug(ctx, "message sent", "chat_id", chatID, "message_id", sent.MessageID)
	return nil
}

// SetWebhook registers url as the delivery endpoint and pins cert, the PEM
// encoded self-signed certificate the endpoint presents.
func (c *Client) SetWebhook(ctx context.Context, url string, cert []byte, secret string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("url", url); err != nil {
		return fmt.Errorf("setWebhook form: %w", err)
	}
	if secret != "" {
		if err := mw.WriteField("secret_token", secret); err != nil {
			return fmt.Errorf("setWebhook form: %w", err)
		}
	}
	part, err := mw.CreateFormFile("certificate", "cert.pem")
	if err != nil {
		return fmt.Errorf("setWebhook form: %w", err)
	}
	if _, err := part.Write(cert); err != nil {
		return fmt.Errorf("setWebhook form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("setWebhook form: %w", err)
	}

	var ok bool
	if err := c.call(ctx, "setWebhook", mw.FormDataContentType(), buf.Bytes(), &ok); err != nil {
		return err
	}
	c.log.Debug(ctx, "webhook set", "url", url)
	return nil
}

func (c *Client) GetWebhookInfo(ctx context.Context) (WebhookInfo, error) {
	var info WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", "", nil, &info); err != nil {
		return WebhookInfo{}, err
	}
	return info, nil
}

// call performs one Bot API method. Transport failures, 429 and 5xx answers
// are retried with exponential backoff; other ok=false answers are final.
func (c *Client) call(ctx context.Context, method, contentType string, body []byte, result any) error {
	ctx, span := observability.StartSpan(ctx, "telegram."+method)
	defer span.End()

	url := fmt.Sprintf("%s%s/%s", c.apiBase, c.token, method)
	op := func() (struct{}, error) {
		httpMethod := http.MethodGet
		var reader io.Reader
		if body != nil {
			httpMethod = http.MethodPost
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, httpMethod, url, reader)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%s request: %w", method, err))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s request: %w", method, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s read: %w", method, err)
		}

		env := response[json.RawMessage]{}
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 500 {
				return struct{}{}, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, raw)
			}
			return struct{}{}, backoff.Permanent(fmt.Errorf("%s decode: %w", method, err))
		}
		if !env.OK {
			apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return struct{}{}, apiErr
			}
			return struct{}{}, backoff.Permanent(apiErr)
		}
		if result != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, result); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("%s decode result: %w", method, err))
			}
		}
		return struct{}{}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		observability.SpanError(span, err)
		return err
	}
	return nil
}
