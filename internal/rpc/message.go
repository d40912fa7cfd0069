// Package rpc defines the step request/response messages exchanged between
// the execution orchestrator and the remote step executor, and the shared
// message channel they travel on.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/rahul/replayer/internal/script"
)

const (
	KindStep   = "step"
	KindResult = "result"
)

// Failure reasons carried in Response.Reason.
const (
	ReasonElementNotFound = "element_not_found"
	ReasonInvalidStep     = "invalid_step"
	ReasonActionFailed    = "action_failed"
)

// Request asks the remote executor to perform one step.
type Request struct {
	Kind       string `json:"kind"`
	SessionID  string `json:"sessionId,omitempty"`
	StepNumber int    `json:"stepNumber"`
	Code       string `json:"code"`
}

// Response reports the outcome of one step, correlated by session and
// step number.
type Response struct {
	Kind       string `json:"kind"`
	SessionID  string `json:"sessionId,omitempty"`
	StepNumber int    `json:"stepNumber"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// Matches reports whether r answers the request identified by sessionID
// and stepNumber.
func (r Response) Matches(sessionID string, stepNumber int) bool {
	return r.SessionID == sessionID && r.StepNumber == stepNumber
}

// NewRequest builds a step request whose code is the JSON-encoded step.
func NewRequest(sessionID string, stepNumber int, step script.Step) (Request, error) {
	code, err := json.Marshal(step)
	if err != nil {
		return Request{}, fmt.Errorf("encode step: %w", err)
	}
	return Request{Kind: KindStep, SessionID: sessionID, StepNumber: stepNumber, Code: string(code)}, nil
}

// Step decodes the request's code back into a step.
func (r Request) Step() (script.Step, error) {
	var s script.Step
	if err := json.Unmarshal([]byte(r.Code), &s); err != nil {
		return script.Step{}, fmt.Errorf("decode step %d: %w", r.StepNumber, err)
	}
	return s, nil
}

// Encode marshals a Request or Response for posting on a Channel.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode returns *Request or *Response depending on the message kind.
// Messages of any other kind yield (nil, nil) so listeners can ignore
// traffic that is not addressed to them.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	switch envelope.Kind {
	case KindStep:
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return &req, nil
	case KindResult:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &resp, nil
	}
	return nil, nil
}
