package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"keymesh/internal/domain"
)

func TestMessageDeliveryTransitions(t *testing.T) {
	m := domain.NewOutgoingMessage("chat-1", "alice", domain.MessageText)
	require.NotEmpty(t, m.ID)
	require.Equal(t, domain.DeliverySending, m.State)

	require.NoError(t, m.Advance(domain.DeliverySent))
	require.NoError(t, m.Advance(domain.DeliveryDelivered))
	require.NoError(t, m.Advance(domain.DeliveryRead))

	// Read is terminal.
	require.Error(t, m.Advance(domain.DeliveryDelivered))
}

func TestMessageSkippingStatesIsIllegal(t *testing.T) {
	m := domain.NewOutgoingMessage("chat-1", "alice", domain.MessageText)

	require.Error(t, m.Advance(domain.DeliveryRead))
	require.Error(t, m.Advance(domain.DeliveryDelivered))
	require.Equal(t, domain.DeliverySending, m.State)
}

func TestMessageFailedOnlyFromSending(t *testing.T) {
	m := domain.NewOutgoingMessage("chat-1", "alice", domain.MessageText)
	require.NoError(t, m.Advance(domain.DeliveryFailed))

	m = domain.NewOutgoingMessage("chat-1", "alice", domain.MessageText)
	require.NoError(t, m.Advance(domain.DeliverySent))
	require.Error(t, m.Advance(domain.DeliveryFailed))
}

func TestMessageReactions(t *testing.T) {
	m := domain.NewOutgoingMessage("chat-1", "alice", domain.MessageText)
	m.React("bob", "thumbs-up")
	m.React("bob", "heart")
	require.Equal(t, map[string]string{"bob": "heart"}, m.Reactions)
}

func TestProtocolAddressString(t *testing.T) {
	addr := domain.ProtocolAddress{UserID: "alice", DeviceID: 3}
	require.Equal(t, "alice.3", addr.String())
}
