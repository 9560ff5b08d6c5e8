package rabbitmq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	env, err := DecodeInbound([]byte(`{"id":"01HX","attempt":2,"inbound":{"client":"acme","channel":"whatsapp","user_id":"9715","message_id":"wamid.1","text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, 2, env.Attempt)
	assert.Equal(t, "wamid.1", env.Inbound.MessageID)

	_, err = DecodeInbound([]byte(`not json`))
	assert.True(t, errors.Is(err, ErrBadEnvelope))

	_, err = DecodeInbound([]byte(`{"id":"01HX","inbound":{"client":"acme","channel":"whatsapp"}}`))
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "inbound_messages.retry", RetryQueue("inbound_messages"))
	assert.Equal(t, "inbound_messages.dlq", DeadLetterQueue("inbound_messages"))
}
