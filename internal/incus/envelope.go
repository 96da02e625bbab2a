package incus

import (
	"encoding/json"

	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// responseType is the `type` field of every Incus REST response envelope.
type responseType string

const (
	typeSync  responseType = "sync"
	typeAsync responseType = "async"
	typeError responseType = "error"
)

// envelope is the outer shape of every Incus API response:
// {type, status_code, metadata}.
type envelope struct {
	Type       responseType    `json:"type"`
	StatusCode int             `json:"status_code"`
	Error      string          `json:"error"`
	ErrorCode  int             `json:"error_code"`
	Metadata   json.RawMessage `json:"metadata"`
	Operation  string          `json:"operation"`
}

// operationMetadata is the Metadata payload of an async envelope, enough of
// it to drive OpHandle.Wait.
type operationMetadata struct {
	ID         string                 `json:"id"`
	Class      string                 `json:"class"`
	Status     string                 `json:"status"`
	StatusCode int                    `json:"status_code"`
	Err        string                 `json:"err"`
	Metadata   map[string]interface{} `json:"metadata"`
	MayCancel  bool                   `json:"may_cancel"`
}

// classify turns an error envelope, or any HTTP status of 400 or above,
// into a BackendError; any other envelope (sync or async) is returned
// unchanged.
func (c *Client) classify(env *envelope, httpStatus int) (*envelope, error) {
	if env.Type == typeError || httpStatus >= 400 {
		msg := env.Error
		if msg == "" {
			msg = "incus request failed"
		}
		return nil, kapsuleerrors.WithStatus(nil, statusOrHTTP(env.StatusCode, httpStatus), msg)
	}
	return env, nil
}

func statusOrHTTP(envelopeStatus, httpStatus int) int {
	if envelopeStatus != 0 {
		return envelopeStatus
	}
	return httpStatus
}
