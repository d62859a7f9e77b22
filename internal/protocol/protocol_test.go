package protocol

import (
	"errors"
	"testing"

	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyErr(t *testing.T) {
	assert.NoError(t, OK().Err())

	r := Fail(domain.ErrNoPermission)
	assert.False(t, r.OK)
	assert.Equal(t, domain.ReasonNoPermission, r.Reason)
	assert.ErrorIs(t, r.Err(), domain.ErrNoPermission)

	assert.Equal(t, domain.ReasonCaptureRejected, Fail(errors.New("denied")).Reason)
}

func TestEnvelope(t *testing.T) {
	data, err := Encode("tab_updated", "42", map[string]any{"tabId": 7, "url": "https://meet.google.com/x"})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "tab_updated", env.Type)
	assert.Equal(t, "42", env.ID)

	var p struct {
		Tab domain.TabID `json:"tabId"`
		URL string       `json:"url"`
	}
	require.NoError(t, env.Into(&p))
	assert.Equal(t, domain.TabID(7), p.Tab)
	assert.Equal(t, "https://meet.google.com/x", p.URL)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"id":"1"}`))
	assert.ErrorIs(t, err, ErrEmptyType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	env, err := Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Error(t, env.Into(&struct{}{}))
}
