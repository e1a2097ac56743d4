package domain

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Credentials are the per-session API keys forwarded to the backend.
// They are never persisted or logged.
type Credentials struct {
	Gemini string `json:"gemini_api_key" validate:"required"`
	Apify  string `json:"apify_api_key" validate:"required"`
}

// JobRequest is one script generation request. Build it with NewJobRequest
// and pass it by value.
type JobRequest struct {
	CreatorHandle string      `json:"profile_name" validate:"required"`
	Topic         string      `json:"topic" validate:"required"`
	Credentials   Credentials `json:"credentials"`
}

// JobHandle identifies one backend job.
type JobHandle struct {
	ID string
}

// Result is the payload of a successful job
type Result struct {
	Script string
}

// JobStatus is the state reported by one status poll. Result is set iff
// State is StateSuccess.
type JobStatus struct {
	State   string
	Message string
	Result  *Result
}

// NewJobRequest normalizes and validates the request fields
func NewJobRequest(creatorHandle, topic string, creds Credentials) (JobRequest, error) {
	req := JobRequest{
		CreatorHandle: NormalizeHandle(creatorHandle),
		Topic:         strings.TrimSpace(topic),
		Credentials: Credentials{
			Gemini: strings.TrimSpace(creds.Gemini),
			Apify:  strings.TrimSpace(creds.Apify),
		},
	}
	if err := req.Validate(); err != nil {
		return JobRequest{}, err
	}
	return req, nil
}

// Validate returns a *ValidationError naming every empty field
func (r JobRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &ValidationError{Fields: fields}
}

// NormalizeHandle returns the creator handle with exactly one leading "@".
// A profile URL such as https://www.tiktok.com/@name/video/1 yields "@name".
// Input that carries no handle yields "".
func NormalizeHandle(raw string) string {
	h := strings.TrimSpace(raw)
	if h == "" {
		return ""
	}

	if u, err := url.Parse(h); err == nil && u.Host != "" {
		for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
			if len(seg) > 1 && strings.HasPrefix(seg, "@") {
				return seg
			}
		}
		return ""
	}

	h = strings.TrimLeft(h, "@")
	if h == "" {
		return ""
	}
	return "@" + h
}
