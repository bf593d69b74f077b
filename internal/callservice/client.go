package callservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"strings"
	"time"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
	"github.com/jwalitptl/reschedule-agent/pkg/logger"
	"github.com/jwalitptl/reschedule-agent/pkg/metrics"
)

const (
	DefaultBaseURL        = "https://api.retellai.com"
	DefaultPollInterval   = 5 * time.Second
	DefaultAnalysisGrace  = 3 * time.Second
	DefaultMaxWait        = 600 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	keyNextOpenAppointments = "Next_Open_Appointments"
)

// ErrInvalidRecipient is returned when a person has no number to dial.
var ErrInvalidRecipient = apperrors.Validation("person has no phone number")

// RemoteServiceError is a non-2xx answer from the calling service.
type RemoteServiceError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is lets callers match against apperrors.ErrRemoteService.
func (e *RemoteServiceError) Is(target error) bool {
	t, ok := target.(*apperrors.AppError)
	return ok && t.Code == apperrors.ErrRemoteService && t.Message == ""
}

type Config struct {
	BaseURL        string
	APIKey         string
	AgentID        string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	AnalysisGrace  time.Duration
	MaxWait        time.Duration
}

// Client talks to the hosted voice agent API.
type Client struct {
	client  *http.Client
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewClient builds a client. m may be nil.
func NewClient(cfg Config, log *logger.Logger, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AnalysisGrace == 0 {
		cfg.AnalysisGrace = DefaultAnalysisGrace
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		client: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:         "call-service",
			MaxFailures:  5,
			Timeout:      30 * time.Second,
			IsSuccessful: isBreakerSuccess,
		}),
		metrics: m,
		logger:  log,
	}
}

// isBreakerSuccess keeps request-specific rejections (4xx) from tripping the
// breaker, so one person's bad number does not block the rest of a campaign.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var rse *RemoteServiceError
	return errors.As(err, &rse) && rse.StatusCode >= 400 && rse.StatusCode < 500
}

// NormalizeE164 prefixes a plus sign to numbers that lack one, stripping
// formatting characters first. Numbers already starting with '+' are kept.
func NormalizeE164(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	phone = strings.NewReplacer("(", "", ")", "", " ", "", "-", "").Replace(phone)
	return "+" + phone
}

// DynamicVariables builds the context handed to the voice agent for one person.
func DynamicVariables(person model.Person, slots []model.AppointmentSlot) (map[string]string, error) {
	vars := make(map[string]string, len(model.DynamicVariableColumns)+1)
	for _, col := range model.DynamicVariableColumns {
		if person.Has(col) {
			vars[col] = person.Get(col)
		}
	}

	open := make([]map[string]string, 0, len(slots))
	for _, s := range slots {
		open = append(open, s.Strings())
	}
	b, err := json.Marshal(open)
	if err != nil {
		return nil, fmt.Errorf("failed to encode open appointments: %w", err)
	}
	vars[keyNextOpenAppointments] = string(b)
	return vars, nil
}

type createCallRequest struct {
	FromNumber      string            `json:"from_number"`
	ToNumber        string            `json:"to_number"`
	OverrideAgentID string            `json:"override_agent_id,omitempty"`
	DynamicVars     map[string]string `json:"retell_llm_dynamic_variables"`
}

type createCallResponse struct {
	CallID string `json:"call_id"`
}

// CreateCall places an outbound call offering slots to person and returns the call id.
func (c *Client) CreateCall(ctx context.Context, person model.Person, slots []model.AppointmentSlot, fromNumber string) (string, error) {
	to := NormalizeE164(person.Phone())
	if to == "" {
		return "", ErrInvalidRecipient
	}

	vars, err := DynamicVariables(person, slots)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(createCallRequest{
		FromNumber:      NormalizeE164(fromNumber),
		ToNumber:        to,
		OverrideAgentID: c.cfg.AgentID,
		DynamicVars:     vars,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode call request: %w", err)
	}

	var callID string
	err = c.breaker.Execute(func() error {
		req, err := c.newRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/create-phone-call", bytes.NewReader(body))
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("create call request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &RemoteServiceError{Operation: "create call", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
		}

		var out createCallResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode create call response: %w", err)
		}
		if out.CallID == "" {
			return &RemoteServiceError{Operation: "create call", StatusCode: resp.StatusCode, Body: "response has no call_id"}
		}
		callID = out.CallID
		return nil
	})
	if err != nil {
		c.remoteError("create_call")
		c.logger.Error(err, "callservice.create_call.failed")
		return "", err
	}

	if c.metrics != nil {
		c.metrics.CallsPlaced.Inc()
	}
	c.logger.Info("callservice.create_call.success", "call_id", callID)
	return callID, nil
}

// GetCallStatus fetches the current call record. It reports false on any
// transport error or non-200 answer.
func (c *Client) GetCallStatus(ctx context.Context, callID string) (model.CallPayload, bool) {
	url := fmt.Sprintf("%s/v2/get-call/%s", c.cfg.BaseURL, nurl.PathEscape(callID))
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.remoteError("get_call")
		c.logger.Warn("callservice.get_call.failed", "call_id", callID, "error", err.Error())
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("callservice.get_call.unavailable", "call_id", callID, "status", resp.StatusCode)
		return nil, false
	}

	var payload model.CallPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("callservice.get_call.decode_failed", "call_id", callID, "error", err.Error())
		return nil, false
	}
	return payload, true
}

// PollUntilEnded waits for the call to reach a terminal state, then waits the
// analysis grace period and fetches once more so the post-call analysis is
// included. It reports false when maxWait elapses or ctx is done first.
func (c *Client) PollUntilEnded(ctx context.Context, callID string, maxWait time.Duration) (model.CallPayload, bool) {
	if maxWait <= 0 {
		maxWait = c.cfg.MaxWait
	}
	start := time.Now()
	deadline := start.Add(maxWait)
	defer func() {
		if c.metrics != nil {
			c.metrics.PollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	for time.Now().Before(deadline) {
		payload, ok := c.GetCallStatus(ctx, callID)
		if ok && payload.Ended() {
			if !sleep(ctx, c.cfg.AnalysisGrace) {
				return payload, true
			}
			if final, ok := c.GetCallStatus(ctx, callID); ok {
				return final, true
			}
			return payload, true
		}
		if !sleep(ctx, c.cfg.PollInterval) {
			return nil, false
		}
	}

	c.logger.Warn("callservice.poll.timeout", "call_id", callID, "max_wait", maxWait.String())
	return nil, false
}

// ListPhoneNumbers returns the origin numbers registered with the account.
func (c *Client) ListPhoneNumbers(ctx context.Context) ([]model.PhoneNumber, error) {
	var numbers []model.PhoneNumber
	err := c.breaker.Execute(func() error {
		req, err := c.newRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/list-phone-numbers", nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("list phone numbers request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &RemoteServiceError{Operation: "list phone numbers", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
		}
		if err := json.NewDecoder(resp.Body).Decode(&numbers); err != nil {
			return fmt.Errorf("decode phone numbers: %w", err)
		}
		return nil
	})
	if err != nil {
		c.remoteError("list_phone_numbers")
		c.logger.Error(err, "callservice.list_phone_numbers.failed")
		return nil, apperrors.RemoteService("failed to list phone numbers", err)
	}
	return numbers, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) remoteError(op string) {
	if c.metrics != nil {
		c.metrics.RemoteErrors.WithLabelValues(op).Inc()
	}
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
