package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatMessageValidation(t *testing.T) {
	msg, err := NewChatMessage("s-1", "p-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, SessionID("s-1"), msg.Session)
	assert.False(t, msg.Timestamp.IsZero())

	_, err = NewChatMessage("s-1", "p-1", "")
	assert.ErrorIs(t, err, ErrMessageEmpty)

	_, err = NewChatMessage("s-1", "p-1", strings.Repeat("x", MaxMessageLen+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestCriteriaNormalizeCapsInterests(t *testing.T) {
	interests := make([]string, MaxInterestTags+5)
	for i := range interests {
		interests[i] = "tag"
	}

	c := MatchCriteria{Interests: interests}.Normalize()
	assert.Len(t, c.Interests, MaxInterestTags)

	// Under the cap, untouched.
	c = MatchCriteria{Interests: []string{"a", "b"}}.Normalize()
	assert.Len(t, c.Interests, 2)
}
