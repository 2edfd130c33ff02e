// Package relay posts outbound messages to the messaging relay backend.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crmchat/server/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const DefaultTimeout = 15 * time.Second

// Error is a failed send as shown to the user
type Error struct {
	Status  int // 0 when the relay was never reached
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "relay: " + e.Message
	}
	return fmt.Sprintf("relay: %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Client sends requests to a single relay endpoint
type Client struct {
	URL     string
	Timeout time.Duration
	Log     *zap.Logger
}

// New returns a client for url
func New(url string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{URL: url, Timeout: timeout, Log: log}
}

// Send posts req on behalf of the session holding token. An empty token
// omits the Authorization header. Non-2xx answers, ok:false bodies and
// unparseable bodies all come back as *Error.
func (c *Client) Send(ctx context.Context, token string, req models.SendRequest) (models.SendResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.SendResponse{}, &Error{Message: err.Error(), Err: err}
	}

	agent := fiber.Post(c.URL).JSON(req).Timeout(c.Timeout)
	if token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		c.Log.Warn("Relay unreachable", zap.String("to", req.To), zap.Errors("errors", errs))
		return models.SendResponse{}, &Error{Message: errs[0].Error(), Err: errs[0]}
	}

	resp, err := decode(status, body)
	if err != nil {
		c.Log.Warn("Relay rejected send",
			zap.String("to", req.To),
			zap.Int("status", status),
			zap.Error(err))
		return resp, err
	}
	return resp, nil
}

// reply covers the field names relays use for errors
type reply struct {
	OK      *bool               `json:"ok"`
	Results []models.SendResult `json:"results"`
	Error   json.RawMessage     `json:"error"`
	Message string              `json:"message"`
}

func decode(status int, body []byte) (models.SendResponse, error) {
	var r reply
	parseErr := json.Unmarshal(body, &r)

	if status < 200 || status > 299 {
		msg := ""
		if parseErr == nil {
			msg = r.message()
		}
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		return models.SendResponse{Error: msg}, &Error{Status: status, Message: msg}
	}
	if parseErr != nil {
		return models.SendResponse{}, &Error{Status: status, Message: "malformed relay response", Err: parseErr}
	}
	if r.OK == nil {
		return models.SendResponse{}, &Error{Status: status, Message: "malformed relay response", Err: errors.New(`missing "ok" field`)}
	}

	resp := models.SendResponse{OK: *r.OK, Results: r.Results, Error: r.message()}
	if resp.Results == nil {
		resp.Results = []models.SendResult{}
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = firstResultError(resp.Results)
		}
		if msg == "" {
			msg = "message not accepted"
		}
		return resp, &Error{Status: status, Message: msg}
	}
	return resp, nil
}

// message accepts "error" as a string or as {message} and falls back to
// a top-level "message".
func (r reply) message() string {
	if len(r.Error) > 0 && string(r.Error) != "null" {
		var s string
		if json.Unmarshal(r.Error, &s) == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(r.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		return string(r.Error)
	}
	return r.Message
}

func firstResultError(results []models.SendResult) string {
	for _, res := range results {
		if res.Error != "" {
			return res.Error
		}
	}
	return ""
}

// FailedRecipients returns the results that carry an error
func FailedRecipients(resp models.SendResponse) []models.SendResult {
	var out []models.SendResult
	for _, res := range resp.Results {
		if res.Error != "" {
			out = append(out, res)
		}
	}
	return out
}
