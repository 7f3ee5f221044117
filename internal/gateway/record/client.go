package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"keel/internal/config"
)

// Gateway is the remote-call boundary to the system of record. Every call is
// scoped to a single bot identity; the backend rejects writes addressing
// another bot's rows. Implementations carry the ownership credential opaquely.
type Gateway interface {
	GetCanonicalPosition(ctx context.Context, status PositionStatus) (*PositionRow, error)
	UpsertPosition(ctx context.Context, payload Payload) (*UpsertAck, error)
	UpsertTrade(ctx context.Context, clientOrderID, exchangeOrderID string, payload Payload) error
	UpsertHealthEvidence(ctx context.Context, patch Payload) error
	Heartbeat(ctx context.Context, payload Payload) error
}

// Remote function names exposed by the system of record.
const (
	fnGetPosition    = "bot_runtime_get_position"
	fnUpsertPosition = "bot_runtime_upsert_position"
	fnUpsertTrade    = "bot_runtime_upsert_trade"
	fnUpsertHealth   = "bot_runtime_upsert_health_evidence"
	fnHeartbeat      = "bot_runtime_heartbeat"
)

// Client calls the system of record over its PostgREST-style RPC surface.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	serviceKey   string
	runtimeToken string
	botID        string
}

var _ Gateway = (*Client)(nil)

// NewClient constructs a record gateway client from configuration.
func NewClient(cfg config.RecordConfig, botID string) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("record.base_url must not be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing record.base_url failed: %w", err)
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, fmt.Errorf("record.service_key must not be empty")
	}
	if strings.TrimSpace(cfg.RuntimeToken) == "" {
		return nil, fmt.Errorf("record.runtime_token must not be empty")
	}
	if strings.TrimSpace(botID) == "" {
		return nil, fmt.Errorf("bot id must not be empty")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      parsed,
		httpClient:   &http.Client{Timeout: timeout},
		serviceKey:   strings.TrimSpace(cfg.ServiceKey),
		runtimeToken: strings.TrimSpace(cfg.RuntimeToken),
		botID:        strings.TrimSpace(botID),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCanonicalPosition fetches the canonical position with the given status.
// A nil row with nil error means the bot is flat, which is a valid result.
func (c *Client) GetCanonicalPosition(ctx context.Context, status PositionStatus) (*PositionRow, error) {
	raw, err := c.call(ctx, fnGetPosition, Payload{
		"p_bot_id": c.botID,
		"p_status": string(status),
	})
	if err != nil {
		return nil, err
	}
	return decodePositionRow(fnGetPosition, raw)
}

// UpsertPosition writes a partial position payload scoped to this bot. The
// payload must carry position_id when addressing an existing row.
func (c *Client) UpsertPosition(ctx context.Context, payload Payload) (*UpsertAck, error) {
	if len(payload) == 0 {
		return nil, NewValidationError(fnUpsertPosition, "empty payload")
	}
	raw, err := c.call(ctx, fnUpsertPosition, Payload{
		"p_bot_id":  c.botID,
		"p_payload": payload,
	})
	if err != nil {
		return nil, err
	}
	var ack UpsertAck
	if len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &ack); err != nil {
			return nil, &Error{Kind: KindTransient, Fn: fnUpsertPosition, Message: "undecodable ack", cause: err}
		}
	}
	return &ack, nil
}

// UpsertTrade writes an order-event payload addressed by (bot, client order
// id). When the exchange order id is known it rides in the same write so the
// row becomes addressable by either key afterwards.
func (c *Client) UpsertTrade(ctx context.Context, clientOrderID, exchangeOrderID string, payload Payload) error {
	if strings.TrimSpace(clientOrderID) == "" {
		return NewValidationError(fnUpsertTrade, "client order id is required")
	}
	body := Payload{
		"p_bot_id":          c.botID,
		"p_client_order_id": clientOrderID,
		"p_payload":         payload,
	}
	if strings.TrimSpace(exchangeOrderID) != "" {
		body["p_exchange_order_id"] = exchangeOrderID
	}
	_, err := c.call(ctx, fnUpsertTrade, body)
	return err
}

// UpsertHealthEvidence pushes an aggregated health patch.
func (c *Client) UpsertHealthEvidence(ctx context.Context, patch Payload) error {
	if len(patch) == 0 {
		return nil
	}
	_, err := c.call(ctx, fnUpsertHealth, Payload{
		"p_bot_id":  c.botID,
		"p_payload": patch,
	})
	return err
}

// Heartbeat writes lightweight runtime facts (sync status, liveness stamps).
func (c *Client) Heartbeat(ctx context.Context, payload Payload) error {
	_, err := c.call(ctx, fnHeartbeat, Payload{
		"p_bot_id":  c.botID,
		"p_payload": payload,
	})
	return err
}

func (c *Client) rpcURL(fn string) string {
	base := strings.TrimRight(c.baseURL.String(), "/")
	return base + "/rest/v1/rpc/" + fn
}

func (c *Client) call(ctx context.Context, fn string, body Payload) (json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, NewValidationError(fn, fmt.Sprintf("unencodable payload: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL(fn), bytes.NewReader(encoded))
	if err != nil {
		return nil, &Error{Kind: KindValidation, Fn: fn, Message: err.Error(), cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("x-runtime-token", c.runtimeToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Fn: fn, Message: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Fn: fn, Status: resp.StatusCode, Message: err.Error(), cause: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Fn:      fn,
			Status:  resp.StatusCode,
			Message: compactBody(payload),
		}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return payload, nil
}

// decodePositionRow tolerates the backend returning either a bare object or a
// single-element array, and treats null/empty as "no row".
func decodePositionRow(fn string, raw json.RawMessage) (*PositionRow, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("[]")) {
		return nil, nil
	}
	var row PositionRow
	if err := json.Unmarshal(trimmed, &row); err == nil {
		if row.ID == "" && row.Symbol == "" {
			return nil, nil
		}
		return &row, nil
	}
	var rows []PositionRow
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, &Error{Kind: KindTransient, Fn: fn, Message: "undecodable position row", cause: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	first := rows[0]
	return &first, nil
}

func compactBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}
