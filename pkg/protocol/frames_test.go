package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameType(t *testing.T) {
	ft, err := ParseFrameType([]byte(`{"type":"req","id":"1","method":"status"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameTypeRequest, ft)

	_, err = ParseFrameType([]byte(`{"id":"1"}`))
	assert.Error(t, err)
	_, err = ParseFrameType([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
	_, err = ParseFrameType([]byte(`not json`))
	assert.Error(t, err)
}

func TestResponseShapes(t *testing.T) {
	ok, err := json.Marshal(NewOKResponse("7", map[string]int{"n": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"res","id":"7","ok":true,"payload":{"n":1}}`, string(ok))

	bad, err := json.Marshal(NewErrorResponse("8", ErrUnknownMethod, "nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"res","id":"8","ok":false,"error":{"code":"UNKNOWN_METHOD","message":"nope"}}`, string(bad))
}
