package cdp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDecodeFrameRequest(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	frame, err := DecodeFrame([]byte(`{"id": 5, "method": "Page.navigate", "params": {"url": "https://example.com"}}`))
	require.NoError(err)
	require.NotNil(frame)

	assert.True(frame.IsRequest())
	assert.False(frame.IsResponse())
	assert.False(frame.IsEvent())
	assert.Equal("Page.navigate", frame.Method)
	assert.Equal("5", frame.Key())
}

func testDecodeFrameStringID(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	numeric, err := DecodeFrame([]byte(`{"id": 5, "method": "Runtime.evaluate"}`))
	require.NoError(err)
	quoted, err := DecodeFrame([]byte(`{"id": "5", "method": "Runtime.evaluate"}`))
	require.NoError(err)

	// numeric and string ids must never collide
	assert.NotEqual(numeric.Key(), quoted.Key())
}

func testDecodeFrameResponse(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	frame, err := DecodeFrame([]byte(`{"id": 1, "result": {"frameId": "F1"}}`))
	require.NoError(err)

	assert.True(frame.IsResponse())
	assert.False(frame.IsRequest())
	assert.False(frame.IsEvent())
}

func testDecodeFrameEvent(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	frame, err := DecodeFrame([]byte(`{"method": "Page.loadEventFired", "params": {}}`))
	require.NoError(err)

	assert.True(frame.IsEvent())
	assert.False(frame.IsRequest())
	assert.False(frame.IsResponse())
}

func testDecodeFrameRejected(t *testing.T) {
	assert := assert.New(t)

	for _, payload := range []string{
		``,
		`   `,
		`[1, 2, 3]`,
		`"just a string"`,
		`{}`,
		`{"params": {"url": "https://example.com"}}`,
		`{"id": 1, "method":`,
	} {
		frame, err := DecodeFrame([]byte(payload))
		assert.Nil(frame, "payload should have been rejected: %s", payload)
		assert.Error(err)
	}
}

func TestDecodeFrame(t *testing.T) {
	t.Run("Request", testDecodeFrameRequest)
	t.Run("StringID", testDecodeFrameStringID)
	t.Run("Response", testDecodeFrameResponse)
	t.Run("Event", testDecodeFrameEvent)
	t.Run("Rejected", testDecodeFrameRejected)
}

func testNewResponseEmptyResult(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	frame, err := NewResponse(json.RawMessage(`17`), nil)
	require.NoError(err)

	data, err := frame.Encode()
	require.NoError(err)
	assert.JSONEq(`{"id": 17, "result": {}}`, string(data))
}

func testNewResponseEchoesRawID(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	frame, err := NewResponse(json.RawMessage(`"abc"`), map[string]string{"value": "x"})
	require.NoError(err)

	data, err := frame.Encode()
	require.NoError(err)
	assert.JSONEq(`{"id": "abc", "result": {"value": "x"}}`, string(data))
}

func TestNewResponse(t *testing.T) {
	t.Run("EmptyResult", testNewResponseEmptyResult)
	t.Run("EchoesRawID", testNewResponseEchoesRawID)
}

func TestNewErrorResponse(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	frame := NewErrorResponse(json.RawMessage(`42`), "DEVICE_NOT_FOUND", "no device exists with id [x]")
	require.NotNil(frame.Error)

	assert.Equal(ErrorCodeServer, frame.Error.Code)
	assert.Equal("DEVICE_NOT_FOUND: no device exists with id [x]", frame.Error.Message)

	data, err := frame.Encode()
	require.NoError(err)

	decoded, err := DecodeFrame(data)
	require.NoError(err)
	assert.Equal("42", decoded.Key())
	assert.True(decoded.IsResponse())
}

func TestNewEvent(t *testing.T) {
	var (
		assert  = assert.New(t)
		require = require.New(t)
	)

	frame, err := NewEvent("Target.attachedToTarget", map[string]interface{}{
		"sessionId": "S1",
	})

	require.NoError(err)
	assert.True(frame.IsEvent())
	assert.Equal("Target.attachedToTarget", frame.Method)
}
