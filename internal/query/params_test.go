package query

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2024-01-31", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime("2024-01-31", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), got)

	got, err = ParseTime("2024-01-31T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC), got)

	_, err = ParseTime("31/01/2024", false)
	require.Error(t, err)
}

func TestParamsBuild(t *testing.T) {
	sender := uuid.New()
	f, err := Params{
		Sender:    sender.String(),
		StartDate: "2024-01-01",
		EndDate:   "2024-01-31",
		Search:    "  hello ",
		Ordering:  "-sent_at",
	}.Build()
	require.NoError(t, err)
	require.NotNil(t, f.SenderID)
	assert.Equal(t, sender, *f.SenderID)
	assert.Nil(t, f.ConversationID)
	assert.Equal(t, "hello", f.Search)
	assert.Equal(t, OrderSentDesc, f.Ordering)
	assert.True(t, f.EndTime.After(*f.StartTime))
}

func TestParamsBuildReportsField(t *testing.T) {
	cases := map[string]Params{
		"sender":       {Sender: "nope"},
		"conversation": {Conversation: "123"},
		"start_date":   {StartDate: "soon"},
		"end_date":     {EndDate: "later"},
		"ordering":     {Ordering: "sender"},
	}
	for field, p := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := p.Build()
			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, field, fe.Field)
		})
	}
}
