package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperengineering/cadence/internal/types"
)

// envelope is the remote API's response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *remoteError    `json:"error,omitempty"`
}

type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPDispatcher translates operations into calls against the remote habit
// API. Every request carries the operation id as a deduplication key, so a
// redispatch after a crash or timeout is a no-op server-side.
type HTTPDispatcher struct {
	baseURL  string
	apiKey   string
	deviceID string
	client   *http.Client
}

// NewHTTPDispatcher creates a dispatcher for the given remote.
// timeout bounds each dispatch call.
func NewHTTPDispatcher(baseURL, apiKey, deviceID string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDispatcher{
		baseURL:  baseURL,
		apiKey:   apiKey,
		deviceID: deviceID,
		client:   &http.Client{Timeout: timeout},
	}
}

// Dispatch performs exactly one remote call for the operation and interprets
// the response. Payloads are structurally validated before transmission; a
// malformed payload is a permanent failure, not a retry loop.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, op *types.Operation, remoteID string) Outcome {
	switch op.Kind {
	case types.OpCreate:
		return d.dispatchCreate(ctx, op)
	case types.OpUpdate:
		return d.dispatchUpdate(ctx, op, remoteID)
	case types.OpDelete:
		return d.dispatchDelete(ctx, op, remoteID)
	case types.OpComplete:
		return d.dispatchComplete(ctx, op, remoteID)
	default:
		return permanent(fmt.Sprintf("unknown operation kind %q", op.Kind))
	}
}

func (d *HTTPDispatcher) dispatchCreate(ctx context.Context, op *types.Operation) Outcome {
	var payload types.CreateHabitPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return permanent(fmt.Sprintf("invalid create payload: %s", err))
	}
	if payload.Name == "" {
		return permanent("invalid create payload: name is required")
	}

	body := struct {
		types.CreateHabitPayload
		ClientID string `json:"client_id"`
	}{payload, op.ResourceID}

	resp, err := d.send(ctx, op, http.MethodPost, "/api/v1/habits", body)
	if err != nil {
		return transient(err.Error())
	}

	// Duplicate create under the same operation id is an idempotent success;
	// the server echoes the original resource.
	if resp.status == http.StatusConflict {
		return successFrom(resp)
	}
	return interpret(resp)
}

func (d *HTTPDispatcher) dispatchUpdate(ctx context.Context, op *types.Operation, remoteID string) Outcome {
	var payload types.UpdateHabitPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return permanent(fmt.Sprintf("invalid update payload: %s", err))
	}
	if payload.Patch.Empty() {
		return permanent("invalid update payload: empty patch")
	}
	if remoteID == "" {
		return permanent("update before create was confirmed")
	}

	resp, err := d.send(ctx, op, http.MethodPatch, "/api/v1/habits/"+remoteID, payload)
	if err != nil {
		return transient(err.Error())
	}

	// Updating a resource the server deleted cannot be reconciled here.
	if resp.status == http.StatusNotFound {
		return permanent("habit deleted on server")
	}
	return interpret(resp)
}

func (d *HTTPDispatcher) dispatchDelete(ctx context.Context, op *types.Operation, remoteID string) Outcome {
	if remoteID == "" {
		// The habit never reached the server; deleting it locally is enough.
		return Outcome{Kind: OutcomeSuccess}
	}

	resp, err := d.send(ctx, op, http.MethodDelete, "/api/v1/habits/"+remoteID, nil)
	if err != nil {
		return transient(err.Error())
	}

	// Already deleted remotely: the desired end state holds.
	if resp.status == http.StatusNotFound {
		return Outcome{Kind: OutcomeSuccess}
	}
	return interpret(resp)
}

func (d *HTTPDispatcher) dispatchComplete(ctx context.Context, op *types.Operation, remoteID string) Outcome {
	var payload types.CompleteHabitPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return permanent(fmt.Sprintf("invalid complete payload: %s", err))
	}
	if _, err := types.ParseDay(payload.Day); err != nil {
		return permanent(err.Error())
	}
	if remoteID == "" {
		return permanent("completion before habit create was confirmed")
	}

	body := struct {
		Day string `json:"day"`
	}{payload.Day}

	resp, err := d.send(ctx, op, http.MethodPost, "/api/v1/habits/"+remoteID+"/completions", body)
	if err != nil {
		return transient(err.Error())
	}

	// At most one completion per habit per day; a conflict means the day is
	// already recorded, which is the state we wanted.
	if resp.status == http.StatusConflict {
		return successFrom(resp)
	}
	return interpret(resp)
}

type response struct {
	status   int
	envelope envelope
}

// send performs one authenticated request and decodes the response envelope.
// Transport errors (including timeouts) are returned as errors; any HTTP
// response, whatever the status, is returned for interpretation.
func (d *HTTPDispatcher) send(ctx context.Context, op *types.Operation, method, path string, body any) (*response, error) {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Operation-ID", op.ID)
	req.Header.Set("X-Device-ID", d.deviceID)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	r := &response{status: resp.StatusCode}
	// An undecodable body on an error status still carries the status code;
	// only decode failures on 2xx matter.
	if err := json.NewDecoder(resp.Body).Decode(&r.envelope); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}

// interpret maps an HTTP response to an outcome: 2xx success, 5xx and 429
// transient, anything else permanent.
func interpret(resp *response) Outcome {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return successFrom(resp)
	case resp.status >= 500 || resp.status == http.StatusTooManyRequests:
		return transient(remoteReason(resp))
	default:
		return permanent(remoteReason(resp))
	}
}

func successFrom(resp *response) Outcome {
	out := Outcome{Kind: OutcomeSuccess}
	if len(resp.envelope.Data) > 0 {
		var state ServerState
		if err := json.Unmarshal(resp.envelope.Data, &state); err == nil {
			out.Server = &state
		}
	}
	return out
}

func remoteReason(resp *response) string {
	if resp.envelope.Error != nil {
		return fmt.Sprintf("%s: %s (HTTP %d)", resp.envelope.Error.Code, resp.envelope.Error.Message, resp.status)
	}
	return fmt.Sprintf("HTTP %d", resp.status)
}

func transient(reason string) Outcome {
	return Outcome{Kind: OutcomeTransient, Reason: reason}
}

func permanent(reason string) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason}
}
