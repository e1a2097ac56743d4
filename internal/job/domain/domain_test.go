package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressFor(t *testing.T) {
	tests := []struct {
		state   string
		percent int
		label   string
	}{
		{state: StateStarting, percent: 0, label: "Starting..."},
		{state: StateScraping, percent: 25, label: "Scraping content..."},
		{state: StateAnalyzing, percent: 50, label: "Analyzing style..."},
		{state: StateGenerating, percent: 75, label: "Generating script..."},
		{state: StateSuccess, percent: 100, label: "Generated successfully!"},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			p := ProgressFor(tt.state)
			assert.Equal(t, tt.percent, p.Percent)
			assert.Equal(t, tt.label, p.Label)
		})
	}
}

func TestProgressFor_UnknownStates(t *testing.T) {
	unknown := []string{"", StatePending, "scraping", "RETRY", "UPLOADING", StateFailure}
	for _, state := range unknown {
		t.Run("state "+state, func(t *testing.T) {
			assert.Equal(t, Progress{Percent: 0, Label: "Starting..."}, ProgressFor(state))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StateSuccess))
	assert.True(t, IsTerminal(StateFailure))
	assert.False(t, IsTerminal(StateGenerating))
	assert.False(t, IsTerminal("success"))
}

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare handle", in: "3blue1brown", want: "@3blue1brown"},
		{name: "already prefixed", in: "@3blue1brown", want: "@3blue1brown"},
		{name: "double prefix", in: "@@3blue1brown", want: "@3blue1brown"},
		{name: "surrounding whitespace", in: "  creator \t", want: "@creator"},
		{name: "profile url", in: "https://www.tiktok.com/@creator", want: "@creator"},
		{name: "video url", in: "https://www.tiktok.com/@creator/video/7499089278320921886", want: "@creator"},
		{name: "url without handle", in: "https://www.tiktok.com/explore", want: ""},
		{name: "only at sign", in: "@", want: ""},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHandle(tt.in))
		})
	}
}

func TestNewJobRequest(t *testing.T) {
	creds := Credentials{Gemini: "gem-key", Apify: "apify-key"}

	t.Run("valid request is normalized", func(t *testing.T) {
		req, err := NewJobRequest("creator", "  how fractals work ", creds)
		require.NoError(t, err)
		assert.Equal(t, "@creator", req.CreatorHandle)
		assert.Equal(t, "how fractals work", req.Topic)
		assert.Equal(t, creds, req.Credentials)
	})

	t.Run("empty topic", func(t *testing.T) {
		_, err := NewJobRequest("creator", "   ", creds)
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, []string{"topic"}, verr.Fields)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("every field missing", func(t *testing.T) {
		_, err := NewJobRequest("", "", Credentials{})
		require.Error(t, err)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.ElementsMatch(t,
			[]string{"profile_name", "topic", "gemini_api_key", "apify_api_key"},
			verr.Fields)
	})

	t.Run("missing one credential", func(t *testing.T) {
		_, err := NewJobRequest("creator", "topic", Credentials{Gemini: "gem-key"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "apify_api_key")
	})
}

func TestJobRequest_ValidateZeroValue(t *testing.T) {
	err := JobRequest{}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOutcomes(t *testing.T) {
	t.Run("failed outcome keeps backend message", func(t *testing.T) {
		o := FailedOutcome("job-1", "quota exceeded")
		assert.Equal(t, OutcomeJobFailed, o.Kind)
		assert.Equal(t, "quota exceeded", o.Message)
		assert.ErrorIs(t, o.Err, ErrJobFailed)

		var jf *JobFailure
		require.True(t, errors.As(o.Err, &jf))
		assert.Equal(t, "quota exceeded", jf.Message)
	})

	t.Run("failed outcome default message", func(t *testing.T) {
		o := FailedOutcome("job-1", "")
		assert.Equal(t, MessageJobFailed, o.Message)
	})

	t.Run("connection lost is distinct from job failure", func(t *testing.T) {
		last := &TransientPollError{JobID: "job-1", Attempt: 4, Err: errors.New("dial tcp: refused")}
		o := ConnectionLostOutcome("job-1", last)
		assert.Equal(t, OutcomeConnectionLost, o.Kind)
		assert.Equal(t, MessageConnectionLost, o.Message)
		assert.ErrorIs(t, o.Err, ErrConnectionLost)
		assert.NotErrorIs(t, o.Err, ErrJobFailed)

		var tpe *TransientPollError
		require.True(t, errors.As(o.Err, &tpe))
		assert.Equal(t, 4, tpe.Attempt)
	})

	t.Run("succeeded outcome", func(t *testing.T) {
		o := SucceededOutcome("job-1", "S")
		assert.True(t, o.Succeeded())
		assert.NoError(t, o.Err)
		assert.Equal(t, "S", o.Script)
	})
}

func TestSubmissionError(t *testing.T) {
	err := &SubmissionError{StatusCode: 500, Err: errors.New("boom")}
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Contains(t, err.Error(), "status 500")

	unreachable := &SubmissionError{Err: errors.New("connection refused")}
	assert.NotContains(t, unreachable.Error(), "status")
}
