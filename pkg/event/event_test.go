package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := Marshal(TypeSendMessage, Send{ConversationID: "conv1", Content: "hi"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeSendMessage, env.Type)

	var p Send
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "conv1", p.ConversationID)
	assert.Equal(t, "hi", p.Content)
}

func TestMarshalWithoutPayload(t *testing.T) {
	data, err := Marshal(TypeError, nil)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Empty(t, env.Payload)
	assert.Error(t, env.Decode(&Error{}))
}

func TestDecodeMismatchedPayload(t *testing.T) {
	data, err := Marshal(TypeAuth, Auth{Token: "abc"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))

	// Decoding into a compatible struct with different fields just leaves
	// them zero; the type tag is the source of truth.
	var p Room
	require.NoError(t, env.Decode(&p))
	assert.Empty(t, p.ConversationID)
}
