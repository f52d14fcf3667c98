package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/chat"
	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/pagination"
	"github.com/chirino/chat-service/internal/plugin/cache/local"
	"github.com/chirino/chat-service/internal/plugin/store/memory"
	"github.com/chirino/chat-service/internal/query"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx   context.Context
	store *memory.Store
	svc   *chat.Service
	clock time.Time
	a     security.Identity
	b     security.Identity
	c     security.Identity
	admin security.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), clock: time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC)}
	f.store = memory.NewWithClock(func() time.Time { return f.clock })
	cache, err := local.New(1000, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cache.Close()) })
	f.svc = chat.NewService(f.store, cache, chat.Options{DefaultPageSize: 20, MaxPageSize: 50, MaxMessageLength: 100})

	f.a = f.user(t, "Ada", "Lovelace", "ada@example.com", false)
	f.b = f.user(t, "Bert", "Jansch", "bert@example.com", false)
	f.c = f.user(t, "Cleo", "Laine", "cleo@example.com", false)
	f.admin = f.user(t, "Root", "Admin", "root@example.com", true)
	return f
}

func (f *fixture) user(t *testing.T, first, last, email string, superuser bool) security.Identity {
	t.Helper()
	u, err := f.store.CreateUser(f.ctx, registrystore.NewUser{FirstName: first, LastName: last, Email: email, IsSuperuser: superuser})
	require.NoError(t, err)
	return security.Identity{UserID: u.ID, Privileged: superuser}
}

func (f *fixture) at(ts time.Time) { f.clock = ts }

func (f *fixture) send(t *testing.T, id security.Identity, conv uuid.UUID, body string) *model.Message {
	t.Helper()
	m, err := f.svc.Messages.Send(f.ctx, id, chat.SendRequest{ConversationID: conv, Body: body})
	require.NoError(t, err)
	return m
}

func ids(convs []model.Conversation) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}

func bodies(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func requireForbidden(t *testing.T, err error) {
	t.Helper()
	var forbidden *registrystore.ForbiddenError
	require.True(t, errors.As(err, &forbidden), "expected ForbiddenError, got %v", err)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.True(t, registrystore.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestCreateConversationAddsCreator(t *testing.T) {
	f := newFixture(t)

	conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{f.a.UserID, f.b.UserID}, conv.ParticipantIDs())

	t.Run("creator listed explicitly is not duplicated", func(t *testing.T) {
		conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.a.UserID, f.b.UserID, f.b.UserID})
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{f.a.UserID, f.b.UserID}, conv.ParticipantIDs())
	})

	t.Run("empty request yields a solo conversation", func(t *testing.T) {
		conv, err := f.svc.Conversations.Create(f.ctx, f.a, nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{f.a.UserID}, conv.ParticipantIDs())
	})

	t.Run("unknown participant", func(t *testing.T) {
		_, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID, uuid.New()})
		requireCode(t, err, registrystore.CodeUnknownParticipant)
	})

	t.Run("unknown creator", func(t *testing.T) {
		_, err := f.svc.Conversations.Create(f.ctx, security.Identity{UserID: uuid.New()}, []uuid.UUID{f.b.UserID})
		requireCode(t, err, registrystore.CodeUnknownParticipant)
	})

	t.Run("no identity and no participants", func(t *testing.T) {
		_, err := f.svc.Conversations.Create(f.ctx, security.Identity{}, nil)
		requireCode(t, err, registrystore.CodeEmptyParticipants)
	})
}

func TestVisibilityScenario(t *testing.T) {
	f := newFixture(t)
	conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)
	f.send(t, f.a, conv.ID, "hi bert")

	t.Run("participants see the conversation", func(t *testing.T) {
		for _, id := range []security.Identity{f.a, f.b} {
			page, err := f.svc.VisibleConversations(f.ctx, id, query.ConversationFilter{}, chat.PageRequest{})
			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{conv.ID}, ids(page.Items))
		}
	})

	t.Run("outsider sees nothing", func(t *testing.T) {
		page, err := f.svc.VisibleConversations(f.ctx, f.c, query.ConversationFilter{}, chat.PageRequest{})
		require.NoError(t, err)
		assert.Empty(t, page.Items)

		msgs, err := f.svc.VisibleMessages(f.ctx, f.c, query.Filter{}, chat.PageRequest{})
		require.NoError(t, err)
		assert.Empty(t, msgs.Items)

		_, err = f.svc.ConversationMessages(f.ctx, f.c, conv.ID, query.Filter{}, chat.PageRequest{})
		requireForbidden(t, err)

		_, err = f.svc.GetConversation(f.ctx, f.c, conv.ID)
		requireForbidden(t, err)
	})

	t.Run("outsider cannot learn whether an object exists", func(t *testing.T) {
		_, err := f.svc.ConversationMessages(f.ctx, f.c, uuid.New(), query.Filter{}, chat.PageRequest{})
		requireForbidden(t, err)
		_, err = f.svc.GetMessage(f.ctx, f.c, uuid.New())
		requireForbidden(t, err)
	})

	t.Run("privileged sees everything", func(t *testing.T) {
		page, err := f.svc.VisibleConversations(f.ctx, f.admin, query.ConversationFilter{}, chat.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{conv.ID}, ids(page.Items))

		msgs, err := f.svc.ConversationMessages(f.ctx, f.admin, conv.ID, query.Filter{}, chat.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, []string{"hi bert"}, bodies(msgs.Items))

		_, err = f.svc.GetConversation(f.ctx, f.admin, uuid.New())
		var notFound *registrystore.NotFoundError
		require.True(t, errors.As(err, &notFound))
	})

	t.Run("outsider filtering by the conversation gets nothing", func(t *testing.T) {
		msgs, err := f.svc.VisibleMessages(f.ctx, f.c, query.Filter{ConversationID: &conv.ID}, chat.PageRequest{})
		require.NoError(t, err)
		assert.Empty(t, msgs.Items)
	})
}

func TestSenderAndDateFilter(t *testing.T) {
	f := newFixture(t)
	conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)

	f.at(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC))
	f.send(t, f.a, conv.ID, "old year")
	f.at(time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC))
	f.send(t, f.a, conv.ID, "jan from ada")
	f.at(time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC))
	f.send(t, f.b, conv.ID, "jan from bert")
	f.at(time.Date(2024, 1, 31, 18, 0, 0, 0, time.UTC))
	f.send(t, f.a, conv.ID, "end of jan")
	f.at(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	f.send(t, f.a, conv.ID, "february")

	filter, err := query.Params{Sender: f.a.UserID.String(), StartDate: "2024-01-01", EndDate: "2024-01-31"}.Build()
	require.NoError(t, err)

	for _, id := range []security.Identity{f.a, f.b} {
		page, err := f.svc.VisibleMessages(f.ctx, id, filter, chat.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, []string{"jan from ada", "end of jan"}, bodies(page.Items))
	}

	page, err := f.svc.VisibleMessages(f.ctx, f.c, filter, chat.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestSearchAcrossSenderFields(t *testing.T) {
	f := newFixture(t)
	conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)
	f.send(t, f.a, conv.ID, "Meeting notes")
	f.send(t, f.b, conv.ID, "thanks")

	cases := map[string][]string{
		"MEETING":          {"Meeting notes"},
		"bert@example.com": {"thanks"},
		"jansch":           {"thanks"},
		"ada lovelace":     {"Meeting notes"},
		"nothing":          {},
	}
	for term, want := range cases {
		page, err := f.svc.VisibleMessages(f.ctx, f.a, query.Filter{Search: term}, chat.PageRequest{})
		require.NoError(t, err, term)
		assert.Equal(t, want, bodies(page.Items), term)
	}
}

func TestMessagePagination(t *testing.T) {
	f := newFixture(t)
	conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)
	var want []string
	for i := 0; i < 7; i++ {
		body := string(rune('a' + i))
		want = append(want, body)
		f.send(t, f.a, conv.ID, body)
	}

	walk := func(filter query.Filter) ([]string, int) {
		var got []string
		pages := 0
		size := 3
		token := ""
		for {
			page, err := f.svc.ConversationMessages(f.ctx, f.b, conv.ID, filter, chat.PageRequest{Size: &size, Token: token})
			require.NoError(t, err)
			got = append(got, bodies(page.Items)...)
			pages++
			if page.NextPageToken == nil {
				return got, pages
			}
			token = *page.NextPageToken
		}
	}

	got, pages := walk(query.Filter{})
	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)

	got, _ = walk(query.Filter{Ordering: query.OrderSentDesc})
	assert.Equal(t, []string{"g", "f", "e", "d", "c", "b", "a"}, got)
}

func TestPageSizeValidation(t *testing.T) {
	f := newFixture(t)
	zero, huge := 0, 10_000

	_, err := f.svc.VisibleMessages(f.ctx, f.a, query.Filter{}, chat.PageRequest{Size: &zero})
	requireCode(t, err, registrystore.CodeInvalidArgument)

	conv, err := f.svc.Conversations.Create(f.ctx, f.a, nil)
	require.NoError(t, err)
	for i := 0; i < 60; i++ {
		f.send(t, f.a, conv.ID, "msg")
	}
	page, err := f.svc.VisibleMessages(f.ctx, f.a, query.Filter{}, chat.PageRequest{Size: &huge})
	require.NoError(t, err)
	assert.Len(t, page.Items, 50)
	assert.NotNil(t, page.NextPageToken)

	page, err = f.svc.VisibleMessages(f.ctx, f.a, query.Filter{}, chat.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 20)
}

func TestInvalidCursors(t *testing.T) {
	f := newFixture(t)
	mine, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)
	theirs, err := f.svc.Conversations.Create(f.ctx, f.c, nil)
	require.NoError(t, err)
	first := f.send(t, f.a, mine.ID, "one")
	f.send(t, f.a, mine.ID, "two")
	hidden := f.send(t, f.c, theirs.ID, "secret")

	cases := map[string]string{
		"garbage":           "!!!",
		"wrong ordering":    pagination.Encode(query.MessageKey(*first), true),
		"unknown message":   pagination.Encode(pagination.Key{At: first.SentAt, ID: uuid.New()}, false),
		"timestamp drift":   pagination.Encode(pagination.Key{At: first.SentAt.Add(time.Second), ID: first.ID}, false),
		"foreign message":   pagination.Encode(query.MessageKey(*hidden), false),
		"filtered out item": pagination.Encode(query.MessageKey(*first), false),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			filter := query.Filter{}
			if name == "filtered out item" {
				filter.Search = "two"
			}
			_, err := f.svc.VisibleMessages(f.ctx, f.a, filter, chat.PageRequest{Token: token})
			requireCode(t, err, registrystore.CodeInvalidCursor)
		})
	}

	t.Run("deleted message", func(t *testing.T) {
		size := 1
		page, err := f.svc.VisibleMessages(f.ctx, f.a, query.Filter{}, chat.PageRequest{Size: &size})
		require.NoError(t, err)
		require.NotNil(t, page.NextPageToken)
		require.NoError(t, f.svc.DeleteConversation(f.ctx, f.a, mine.ID))
		_, err = f.svc.VisibleMessages(f.ctx, f.a, query.Filter{}, chat.PageRequest{Size: &size, Token: *page.NextPageToken})
		requireCode(t, err, registrystore.CodeInvalidCursor)
	})
}

func TestConversationPaginationAndSearch(t *testing.T) {
	f := newFixture(t)
	var created []uuid.UUID
	for i := 0; i < 5; i++ {
		f.at(f.clock.Add(time.Minute))
		others := []uuid.UUID{f.b.UserID}
		if i%2 == 0 {
			others = []uuid.UUID{f.c.UserID}
		}
		conv, err := f.svc.Conversations.Create(f.ctx, f.a, others)
		require.NoError(t, err)
		created = append(created, conv.ID)
	}

	size := 2
	var got []uuid.UUID
	token := ""
	for {
		page, err := f.svc.VisibleConversations(f.ctx, f.a, query.ConversationFilter{}, chat.PageRequest{Size: &size, Token: token})
		require.NoError(t, err)
		got = append(got, ids(page.Items)...)
		if page.NextPageToken == nil {
			break
		}
		token = *page.NextPageToken
	}
	assert.Equal(t, created, got)

	page, err := f.svc.VisibleConversations(f.ctx, f.a, query.ConversationFilter{Search: "laine"}, chat.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{created[0], created[2], created[4]}, ids(page.Items))

	_, err = f.svc.VisibleConversations(f.ctx, f.b, query.ConversationFilter{}, chat.PageRequest{Token: pagination.Encode(pagination.Key{At: time.Now(), ID: created[0]}, false)})
	requireCode(t, err, registrystore.CodeInvalidCursor)
}

func TestSendAuthorization(t *testing.T) {
	f := newFixture(t)
	conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)

	t.Run("participant posts as self", func(t *testing.T) {
		m, err := f.svc.Messages.Send(f.ctx, f.b, chat.SendRequest{ConversationID: conv.ID, SenderID: &f.b.UserID, Body: "hello"})
		require.NoError(t, err)
		assert.Equal(t, f.b.UserID, m.SenderID)
		require.NotNil(t, m.Sender)
		assert.Equal(t, "bert@example.com", m.Sender.Email)
	})

	t.Run("spoofed sender", func(t *testing.T) {
		_, err := f.svc.Messages.Send(f.ctx, f.b, chat.SendRequest{ConversationID: conv.ID, SenderID: &f.a.UserID, Body: "as ada"})
		requireForbidden(t, err)
	})

	t.Run("non participant", func(t *testing.T) {
		_, err := f.svc.Messages.Send(f.ctx, f.c, chat.SendRequest{ConversationID: conv.ID, Body: "let me in"})
		requireForbidden(t, err)
	})

	t.Run("privileged non participant", func(t *testing.T) {
		_, err := f.svc.Messages.Send(f.ctx, f.admin, chat.SendRequest{ConversationID: conv.ID, Body: "admin here"})
		requireForbidden(t, err)
	})

	t.Run("empty body", func(t *testing.T) {
		_, err := f.svc.Messages.Send(f.ctx, f.a, chat.SendRequest{ConversationID: conv.ID, Body: "   "})
		requireCode(t, err, registrystore.CodeInvalidArgument)
	})

	t.Run("body too long", func(t *testing.T) {
		long := make([]byte, 101)
		for i := range long {
			long[i] = 'x'
		}
		_, err := f.svc.Messages.Send(f.ctx, f.a, chat.SendRequest{ConversationID: conv.ID, Body: string(long)})
		requireCode(t, err, registrystore.CodeInvalidArgument)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, err := f.svc.Messages.Send(f.ctx, f.a, chat.SendRequest{ConversationID: uuid.New(), Body: "anyone?"})
		requireCode(t, err, registrystore.CodeInvalidArgument)
	})
}

func TestGetAndDelete(t *testing.T) {
	f := newFixture(t)
	conv, err := f.svc.Conversations.Create(f.ctx, f.a, []uuid.UUID{f.b.UserID})
	require.NoError(t, err)
	m := f.send(t, f.a, conv.ID, "keep")

	got, err := f.svc.GetMessage(f.ctx, f.b, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Body)

	_, err = f.svc.GetMessage(f.ctx, f.c, m.ID)
	requireForbidden(t, err)

	requireForbidden(t, f.svc.DeleteConversation(f.ctx, f.c, conv.ID))

	// Any participant may delete, not only the creator.
	require.NoError(t, f.svc.DeleteConversation(f.ctx, f.b, conv.ID))
	_, err = f.svc.GetMessage(f.ctx, f.admin, m.ID)
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))

	_, err = f.svc.ConversationMessages(f.ctx, f.a, conv.ID, query.Filter{}, chat.PageRequest{})
	requireForbidden(t, err)
}
