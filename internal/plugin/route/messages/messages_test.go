package messages_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/plugin/route/conversations"
	"github.com/chirino/chat-service/internal/plugin/route/httpapi"
	"github.com/chirino/chat-service/internal/plugin/route/messages"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/testutil/testapi"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	env                *testapi.Env
	alice, bob, carol  model.User
	admin              model.User
	shared, aliceCarol uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	env := testapi.New(t, func(r gin.IRouter, e *testapi.Env) {
		conversations.MountRoutes(r, e.Service, e.Auth)
		messages.MountRoutes(r, e.Service, e.Auth)
	})
	f := &fixture{
		env:   env,
		alice: env.User("Alice", "Smith", "alice@example.com", false),
		bob:   env.User("Bob", "Jones", "bob@example.com", false),
		carol: env.User("Carol", "White", "carol@example.com", false),
		admin: env.User("Ada", "Admin", "admin@example.com", true),
	}
	f.shared = f.conversation(f.alice, f.bob)
	f.aliceCarol = f.conversation(f.alice, f.carol)
	return f
}

func (f *fixture) conversation(creator model.User, others ...model.User) uuid.UUID {
	ids := make([]string, 0, len(others))
	for _, u := range others {
		ids = append(ids, u.ID.String())
	}
	rec := f.env.Do(http.MethodPost, "/v1/conversations", &creator, gin.H{"participants": ids})
	f.env.Status(rec, http.StatusCreated)
	var conv httpapi.Conversation
	f.env.Decode(rec, &conv)
	return conv.ID
}

func (f *fixture) send(sender model.User, conv uuid.UUID, body string) httpapi.Message {
	rec := f.env.Do(http.MethodPost, "/v1/messages", &sender, gin.H{"conversation": conv.String(), "message_body": body})
	f.env.Status(rec, http.StatusCreated)
	var msg httpapi.Message
	f.env.Decode(rec, &msg)
	return msg
}

func (f *fixture) list(caller model.User, params url.Values) httpapi.List[httpapi.Message] {
	rec := f.env.Do(http.MethodGet, "/v1/messages?"+params.Encode(), &caller, nil)
	f.env.Status(rec, http.StatusOK)
	var list httpapi.List[httpapi.Message]
	f.env.Decode(rec, &list)
	return list
}

func bodies(list httpapi.List[httpapi.Message]) []string {
	out := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		out = append(out, m.Body)
	}
	return out
}

func TestCreateMessage(t *testing.T) {
	f := newFixture(t)

	msg := f.send(f.alice, f.shared, "hello bob")
	require.Equal(t, f.alice.ID, msg.SenderID)
	require.Equal(t, f.shared, msg.ConversationID)
	require.Equal(t, "alice@example.com", msg.SenderEmail)
	require.False(t, msg.SentAt.IsZero())

	rec := f.env.Do(http.MethodPost, "/v1/messages", &f.bob, gin.H{
		"conversation": f.shared.String(), "sender": f.bob.ID.String(), "message_body": "hi",
	})
	f.env.Status(rec, http.StatusCreated)
}

func TestCreateMessageRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		caller model.User
		body   gin.H
		status int
	}{
		{
			name:   "spoofed sender",
			caller: f.alice,
			body:   gin.H{"conversation": f.shared.String(), "sender": f.bob.ID.String(), "message_body": "as bob"},
			status: http.StatusForbidden,
		},
		{
			name:   "not a participant",
			caller: f.carol,
			body:   gin.H{"conversation": f.shared.String(), "message_body": "let me in"},
			status: http.StatusForbidden,
		},
		{
			name:   "privileged non participant",
			caller: f.admin,
			body:   gin.H{"conversation": f.shared.String(), "message_body": "audit"},
			status: http.StatusForbidden,
		},
		{
			name:   "empty body",
			caller: f.alice,
			body:   gin.H{"conversation": f.shared.String(), "message_body": "   "},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown conversation",
			caller: f.alice,
			body:   gin.H{"conversation": uuid.NewString(), "message_body": "anyone?"},
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed conversation",
			caller: f.alice,
			body:   gin.H{"conversation": "abc", "message_body": "hi"},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.env.Do(http.MethodPost, "/v1/messages", &tt.caller, tt.body)
			f.env.Status(rec, tt.status)
		})
	}
	require.Empty(t, f.list(f.admin, nil).Data)
}

func TestListMessagesIsScoped(t *testing.T) {
	f := newFixture(t)
	f.send(f.alice, f.shared, "one")
	f.send(f.bob, f.shared, "two")
	f.send(f.carol, f.aliceCarol, "three")

	require.Equal(t, []string{"one", "two", "three"}, bodies(f.list(f.alice, nil)))
	require.Equal(t, []string{"one", "two"}, bodies(f.list(f.bob, nil)))
	require.Equal(t, []string{"three"}, bodies(f.list(f.carol, nil)))
	require.Equal(t, []string{"one", "two", "three"}, bodies(f.list(f.admin, nil)))

	// Filtering on a conversation the caller cannot see narrows to nothing.
	require.Empty(t, f.list(f.bob, url.Values{"conversation": {f.aliceCarol.String()}}).Data)
}

func TestListMessagesFilters(t *testing.T) {
	f := newFixture(t)
	f.send(f.alice, f.shared, "Lunch at noon?")
	f.send(f.bob, f.shared, "sure")
	f.send(f.carol, f.aliceCarol, "LUNCH tomorrow")

	got := f.list(f.alice, url.Values{"search": {"lunch"}})
	require.Equal(t, []string{"Lunch at noon?", "LUNCH tomorrow"}, bodies(got))

	got = f.list(f.alice, url.Values{"search": {"lunch"}, "sender": {f.carol.ID.String()}})
	require.Equal(t, []string{"LUNCH tomorrow"}, bodies(got))

	got = f.list(f.alice, url.Values{"search": {"JONES"}})
	require.Equal(t, []string{"sure"}, bodies(got))

	got = f.list(f.alice, url.Values{"ordering": {"-sent_at"}})
	require.Equal(t, []string{"LUNCH tomorrow", "sure", "Lunch at noon?"}, bodies(got))

	got = f.list(f.alice, url.Values{"start_date": {"2000-01-01"}, "end_date": {"2000-12-31"}})
	require.Empty(t, got.Data)

	for _, bad := range []url.Values{
		{"sender": {"nope"}},
		{"start_date": {"yesterday"}},
		{"ordering": {"body"}},
	} {
		rec := f.env.Do(http.MethodGet, "/v1/messages?"+bad.Encode(), &f.alice, nil)
		f.env.Status(rec, http.StatusBadRequest)
		require.Equal(t, registrystore.CodeInvalidArgument, f.env.ErrorCode(rec))
	}
}

func TestListMessagesPaging(t *testing.T) {
	f := newFixture(t)
	var want []string
	for _, body := range []string{"a", "b", "c", "d", "e"} {
		f.send(f.alice, f.shared, body)
		want = append(want, body)
	}

	var got []string
	params := url.Values{"page_size": {"2"}}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 3)
		list := f.list(f.bob, params)
		got = append(got, bodies(list)...)
		if list.NextPageToken == nil {
			break
		}
		params.Set("page_token", *list.NextPageToken)
	}
	require.Equal(t, want, got)

	first := f.list(f.bob, url.Values{"page_size": {"2"}})
	require.NotNil(t, first.NextPageToken)

	// Tokens do not carry over to a caller who cannot see the referenced message.
	rec := f.env.Do(http.MethodGet, "/v1/messages?page_token="+*first.NextPageToken, &f.carol, nil)
	f.env.Status(rec, http.StatusBadRequest)
	require.Equal(t, registrystore.CodeInvalidCursor, f.env.ErrorCode(rec))

	rec = f.env.Do(http.MethodGet, "/v1/messages?page_token=%25%25%25", &f.bob, nil)
	f.env.Status(rec, http.StatusBadRequest)
	require.Equal(t, registrystore.CodeInvalidCursor, f.env.ErrorCode(rec))
}

func TestGetMessage(t *testing.T) {
	f := newFixture(t)
	msg := f.send(f.alice, f.shared, "secret")
	path := "/v1/messages/" + msg.ID.String()

	rec := f.env.Do(http.MethodGet, path, &f.bob, nil)
	f.env.Status(rec, http.StatusOK)
	var got httpapi.Message
	f.env.Decode(rec, &got)
	require.Equal(t, "secret", got.Body)

	f.env.Status(f.env.Do(http.MethodGet, path, &f.carol, nil), http.StatusForbidden)
	f.env.Status(f.env.Do(http.MethodGet, path, &f.admin, nil), http.StatusOK)
	f.env.Status(f.env.Do(http.MethodGet, "/v1/messages/"+uuid.NewString(), &f.admin, nil), http.StatusNotFound)
	f.env.Status(f.env.Do(http.MethodGet, path, nil, nil), http.StatusUnauthorized)
}
