package dto

// CreateRunRequest is the body of POST /api/v1/jobs. Credentials are
// forwarded to the backend for this run only.
type CreateRunRequest struct {
	CreatorHandle string `json:"creator_handle"`
	Topic         string `json:"topic"`
	GeminiAPIKey  string `json:"gemini_api_key"`
	ApifyAPIKey   string `json:"apify_api_key"`
}

type CreateRunResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Label    string `json:"label"`
}

type ListRunsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	JobID         string `json:"job_id"`
	CreatorHandle string `json:"creator_handle"`
	Topic         string `json:"topic"`
	Status        string `json:"status"`
	State         string `json:"state"`
	Progress      int    `json:"progress"`
	Label         string `json:"label"`
	Message       string `json:"message,omitempty"`
	Script        string `json:"script,omitempty"`
	Polling       bool   `json:"polling"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	FinishedAt    string `json:"finished_at,omitempty"`
}

type ErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}
