// Package client talks to the Maker API and drives the verification widgets of the front ends.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/maker/core/verification"
)

const apiPrefix = "/v1"

type (
	// Client is a Maker API client authenticated with a JWT.
	Client struct {
		baseURL string
		token   string
		rc      *rest.Client
		dialer  *websocket.Dialer
	}

	Option func(*Client)

	// APIError is a non 2xx response of the API.
	APIError struct {
		StatusCode int
		Message    string
		Fields     map[string]string
	}

	CodeResponse struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
		Code    string `json:"code"`
	}

	VerifyResponse struct {
		Success bool `json:"success"`
		verification.Verified
	}

	tokenResponse struct {
		Token string `json:"token"`
	}

	errorResponse struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
)

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.StatusCode)
	}
	return e.Message
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.rc = &rest.Client{HTTPClient: hc} }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New returns a client of the API served at baseURL (e.g. "https://maker.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rc:      &rest.Client{HTTPClient: http.DefaultClient},
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of c authenticated with token.
func (c *Client) WithToken(token string) *Client {
	cc := *c
	cc.token = token
	return &cc
}

func (c *Client) do(ctx context.Context, method rest.Method, path string, query map[string]string, body, dest interface{}) error {
	req := rest.Request{
		Method:      method,
		BaseURL:     c.baseURL + apiPrefix + path,
		Headers:     map[string]string{"Accept": "application/json"},
		QueryParams: query,
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		req.Body = data
		req.Headers["Content-Type"] = "application/json"
	}
	if c.token != "" {
		req.Headers["Authorization"] = "Bearer " + c.token
	}

	hreq, err := rest.BuildRequestObject(req)
	if err != nil {
		return errors.Wrapf(err, "building %s %s", method, path)
	}
	hres, err := c.rc.MakeRequest(hreq.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	res, err := rest.BuildResponse(hres)
	if err != nil {
		return errors.Wrapf(err, "reading %s %s", method, path)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		var eRes errorResponse
		if json.Unmarshal([]byte(res.Body), &eRes) == nil {
			apiErr.Message = eRes.Error
			apiErr.Fields = eRes.Fields
		}
		return apiErr
	}
	if dest != nil {
		if err = json.Unmarshal([]byte(res.Body), dest); err != nil {
			return errors.Wrap(err, "decoding response body")
		}
	}
	return nil
}

// Login returns a JWT for the user.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var res tokenResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, rest.Post, "/users/login", nil, body, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

// RequestCode returns the latest request of the level, or a new one.
// An empty key.ParticipantID stands for the authenticated user.
func (c *Client) RequestCode(ctx context.Context, key verification.LevelKey) (CodeResponse, error) {
	var res CodeResponse
	err := c.do(ctx, rest.Post, "/verifications/request", nil, key, &res)
	return res, err
}

// VerifyCode confirms the level completion the code stands for. Facilitators & admins only.
func (c *Client) VerifyCode(ctx context.Context, code string) (verification.Verified, error) {
	var res VerifyResponse
	err := c.do(ctx, rest.Post, "/verifications/verify", nil, map[string]string{"code": code}, &res)
	return res.Verified, err
}

// PollStatus returns the latest request of the level, nil if none was made.
func (c *Client) PollStatus(ctx context.Context, key verification.LevelKey) (*verification.Request, error) {
	query := map[string]string{
		"quest_id":    key.QuestID,
		"level_index": strconv.Itoa(key.LevelIndex),
	}
	if key.ParticipantID != "" {
		query["participant_id"] = key.ParticipantID
	}
	var res *verification.Request
	if err := c.do(ctx, rest.Get, "/verifications/status", query, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Subscribe streams the events of a request until ctx is done or the server closes the stream,
// which it does once the request is verified. The returned channel is closed at the end.
func (c *Client) Subscribe(ctx context.Context, requestID string) (<-chan verification.Event, error) {
	u, err := url.Parse(c.baseURL + apiPrefix + "/verifications/" + url.PathEscape(requestID) + "/events")
	if err != nil {
		return nil, errors.Wrap(err, "parsing events url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {c.token}}.Encode()

	conn, res, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if res != nil {
			return nil, &APIError{StatusCode: res.StatusCode, Message: fmt.Sprintf("subscribing: %s", res.Status)}
		}
		return nil, errors.Wrap(err, "dialing events stream")
	}

	out := make(chan verification.Event, 1)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close() // unblocks ReadMessage
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var evt verification.Event
			if err = json.Unmarshal(msg, &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
