package backend

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cuongbtq/script-studio/internal/job/domain"
)

// generateRequest is the body of POST /api/generate-script
type generateRequest struct {
	ProfileName  string `json:"profile_name"`
	Topic        string `json:"topic"`
	GeminiAPIKey string `json:"gemini_api_key"`
	ApifyAPIKey  string `json:"apify_api_key"`
}

type generateResponse struct {
	TaskID string `json:"task_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusResponse is the body of GET /api/status/{task_id}. Result is kept raw
// because the backend puts either an object or a bare string in it.
type statusResponse struct {
	State  string          `json:"state"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// resultBody is the object returned by a finished generation task. A task
// that caught its own exception still finishes as SUCCESS but reports
// status "Error" with a message.
type resultBody struct {
	Status  string `json:"status"`
	Script  string `json:"script"`
	Message string `json:"message"`
}

func newGenerateRequest(req domain.JobRequest) generateRequest {
	return generateRequest{
		ProfileName:  req.CreatorHandle,
		Topic:        req.Topic,
		GeminiAPIKey: req.Credentials.Gemini,
		ApifyAPIKey:  req.Credentials.Apify,
	}
}

// toJobStatus converts the wire status into a domain.JobStatus, folding a
// SUCCESS that carries an error result into FAILURE.
func (r statusResponse) toJobStatus() domain.JobStatus {
	switch r.State {
	case domain.StateSuccess:
		res := decodeResult(r.Result)
		if strings.EqualFold(res.Status, "error") {
			return domain.JobStatus{State: domain.StateFailure, Message: res.Message}
		}
		if res.Script == "" {
			return domain.JobStatus{State: domain.StateFailure, Message: domain.MessageEmptyScript}
		}
		return domain.JobStatus{
			State:   domain.StateSuccess,
			Message: r.Status,
			Result:  &domain.Result{Script: res.Script},
		}
	default:
		return domain.JobStatus{State: r.State, Message: r.Status}
	}
}

func decodeResult(raw json.RawMessage) resultBody {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return resultBody{}
	}

	var body resultBody
	if err := json.Unmarshal(raw, &body); err == nil {
		return body
	}

	var script string
	if err := json.Unmarshal(raw, &script); err == nil {
		return resultBody{Script: script}
	}
	return resultBody{}
}
