// Package storetest holds behaviour every ChatStore implementation must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/pagination"
	"github.com/chirino/chat-service/internal/query"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) (registrystore.ChatStore, context.Context)

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore) })
	t.Run("Conversations", func(t *testing.T) { testConversations(t, newStore) })
	t.Run("ConversationSearch", func(t *testing.T) { testConversationSearch(t, newStore) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore) })
	t.Run("MessageFilters", func(t *testing.T) { testMessageFilters(t, newStore) })
	t.Run("UnicodeSearch", func(t *testing.T) { testUnicodeSearch(t, newStore) })
	t.Run("MessageKeyset", func(t *testing.T) { testMessageKeyset(t, newStore) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore) })
}

func user(t *testing.T, ctx context.Context, s registrystore.ChatStore, first, last, email string) model.User {
	t.Helper()
	u, err := s.CreateUser(ctx, registrystore.NewUser{FirstName: first, LastName: last, Email: email})
	require.NoError(t, err)
	return *u
}

// post creates a message and sleeps past the coarsest store clock resolution so that
// consecutive messages get distinct timestamps.
func post(t *testing.T, ctx context.Context, s registrystore.ChatStore, conv, sender uuid.UUID, body string) model.Message {
	t.Helper()
	m, err := s.CreateMessage(ctx, registrystore.NewMessage{ConversationID: conv, SenderID: sender, Body: body})
	require.NoError(t, err)
	time.Sleep(3 * time.Millisecond)
	return *m
}

func bodies(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func testUsers(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	phone := " +1 555 0100 "
	u, err := s.CreateUser(ctx, registrystore.NewUser{FirstName: "Ada", LastName: "Lovelace", Email: " Ada@Example.com ", PhoneNumber: &phone})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, model.RoleGuest, u.Role)
	require.NotNil(t, u.PhoneNumber)
	assert.Equal(t, "+1 555 0100", *u.PhoneNumber)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, "Ada Lovelace", got.Name())

	_, err = s.CreateUser(ctx, registrystore.NewUser{FirstName: "Other", LastName: "Ada", Email: "ada@example.com"})
	var conflict *registrystore.ConflictError
	require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)

	_, err = s.GetUser(ctx, uuid.New())
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))

	found, err := s.FindUsers(ctx, []uuid.UUID{u.ID, uuid.New(), u.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, u.ID, found[0].ID)
}

func testConversations(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	a := user(t, ctx, s, "Ada", "Lovelace", "ada@example.com")
	b := user(t, ctx, s, "Bert", "Jansch", "bert@example.com")
	c := user(t, ctx, s, "Cleo", "Laine", "cleo@example.com")

	ab, err := s.CreateConversation(ctx, []uuid.UUID{a.ID, b.ID, a.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ab.ParticipantIDs())
	time.Sleep(3 * time.Millisecond)
	bc, err := s.CreateConversation(ctx, []uuid.UUID{b.ID, c.ID})
	require.NoError(t, err)

	_, err = s.CreateConversation(ctx, []uuid.UUID{a.ID, uuid.New()})
	require.True(t, registrystore.HasCode(err, registrystore.CodeUnknownParticipant), "got %v", err)
	_, err = s.CreateConversation(ctx, nil)
	require.True(t, registrystore.HasCode(err, registrystore.CodeEmptyParticipants), "got %v", err)

	got, err := s.GetConversation(ctx, ab.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, got.ParticipantIDs())
	assert.True(t, got.CreatedAt.Equal(ab.CreatedAt), "created_at should round-trip: %v vs %v", got.CreatedAt, ab.CreatedAt)

	ids, err := s.ListParticipantIDs(ctx, bc.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b.ID, c.ID}, ids)
	_, err = s.ListParticipantIDs(ctx, uuid.New())
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))

	list := func(scope registrystore.Scope) []uuid.UUID {
		convs, err := s.ListConversations(ctx, registrystore.ConversationQuery{Scope: scope})
		require.NoError(t, err)
		out := make([]uuid.UUID, 0, len(convs))
		for _, c := range convs {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []uuid.UUID{ab.ID}, list(registrystore.VisibleTo(a.ID)))
	assert.Equal(t, []uuid.UUID{ab.ID, bc.ID}, list(registrystore.VisibleTo(b.ID)))
	assert.Equal(t, []uuid.UUID{bc.ID}, list(registrystore.VisibleTo(c.ID)))
	assert.Equal(t, []uuid.UUID{ab.ID, bc.ID}, list(registrystore.Unrestricted()))

	after := query.ConversationKey(*ab)
	convs, err := s.ListConversations(ctx, registrystore.ConversationQuery{Scope: registrystore.Unrestricted(), After: &after, Limit: 5})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, bc.ID, convs[0].ID)
	assert.Len(t, convs[0].Participants, 2)
}

func testConversationSearch(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	a := user(t, ctx, s, "Ada", "Lovelace", "ada@example.com")
	b := user(t, ctx, s, "Bert", "Jansch", "bert@example.com")
	c := user(t, ctx, s, "Cleo", "Laine", "cleo_100%@example.com")

	ab, err := s.CreateConversation(ctx, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	ac, err := s.CreateConversation(ctx, []uuid.UUID{a.ID, c.ID})
	require.NoError(t, err)

	search := func(term string) []uuid.UUID {
		convs, err := s.ListConversations(ctx, registrystore.ConversationQuery{
			Scope:  registrystore.VisibleTo(a.ID),
			Filter: query.ConversationFilter{Search: term},
		})
		require.NoError(t, err)
		out := []uuid.UUID{}
		for _, c := range convs {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []uuid.UUID{ab.ID}, search("JANSCH"))
	assert.Equal(t, []uuid.UUID{ac.ID}, search("cleo laine"))
	assert.Equal(t, []uuid.UUID{ac.ID}, search("_100%"))
	assert.Empty(t, search("b_rt"))
	assert.ElementsMatch(t, []uuid.UUID{ab.ID, ac.ID}, search("ada"))
}

func testMessages(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	a := user(t, ctx, s, "Ada", "Lovelace", "ada@example.com")
	b := user(t, ctx, s, "Bert", "Jansch", "bert@example.com")
	c := user(t, ctx, s, "Cleo", "Laine", "cleo@example.com")
	conv, err := s.CreateConversation(ctx, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)

	m, err := s.CreateMessage(ctx, registrystore.NewMessage{ConversationID: conv.ID, SenderID: a.ID, Body: "hello"})
	require.NoError(t, err)
	require.NotNil(t, m.Sender)
	assert.Equal(t, a.Email, m.Sender.Email)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Body)
	assert.True(t, got.SentAt.Equal(m.SentAt), "sent_at should round-trip: %v vs %v", got.SentAt, m.SentAt)
	require.NotNil(t, got.Sender)
	assert.Equal(t, a.ID, got.Sender.ID)

	_, err = s.CreateMessage(ctx, registrystore.NewMessage{ConversationID: conv.ID, SenderID: c.ID, Body: "intruder"})
	var forbidden *registrystore.ForbiddenError
	require.True(t, errors.As(err, &forbidden), "got %v", err)

	_, err = s.CreateMessage(ctx, registrystore.NewMessage{ConversationID: uuid.New(), SenderID: a.ID, Body: "void"})
	require.True(t, registrystore.HasCode(err, registrystore.CodeInvalidArgument), "got %v", err)

	_, err = s.CreateMessage(ctx, registrystore.NewMessage{ConversationID: conv.ID, SenderID: a.ID, Body: " "})
	require.True(t, registrystore.HasCode(err, registrystore.CodeInvalidArgument), "got %v", err)

	_, err = s.GetMessage(ctx, uuid.New())
	var notFound *registrystore.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func testMessageFilters(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	a := user(t, ctx, s, "Ada", "Lovelace", "ada@example.com")
	b := user(t, ctx, s, "Bert", "Jansch", "bert@example.com")
	c := user(t, ctx, s, "Cleo", "Laine", "cleo@example.com")
	ab, err := s.CreateConversation(ctx, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	bc, err := s.CreateConversation(ctx, []uuid.UUID{b.ID, c.ID})
	require.NoError(t, err)

	m1 := post(t, ctx, s, ab.ID, a.ID, "Quarterly report")
	m2 := post(t, ctx, s, ab.ID, b.ID, "looks good")
	m3 := post(t, ctx, s, bc.ID, c.ID, "50% done_ish")
	m4 := post(t, ctx, s, bc.ID, b.ID, "thanks cleo")

	list := func(scope registrystore.Scope, f query.Filter) []string {
		msgs, err := s.ListMessages(ctx, registrystore.MessageQuery{Scope: scope, Filter: f})
		require.NoError(t, err)
		for _, m := range msgs {
			require.NotNil(t, m.Sender, "sender must be loaded")
		}
		return bodies(msgs)
	}
	all := registrystore.Unrestricted()

	assert.Equal(t, []string{m1.Body, m2.Body}, list(registrystore.VisibleTo(a.ID), query.Filter{}))
	assert.Equal(t, []string{m1.Body, m2.Body, m3.Body, m4.Body}, list(registrystore.VisibleTo(b.ID), query.Filter{}))
	assert.Equal(t, []string{m1.Body, m2.Body, m3.Body, m4.Body}, list(all, query.Filter{}))
	assert.Equal(t, []string{m4.Body, m3.Body, m2.Body, m1.Body}, list(all, query.Filter{Ordering: query.OrderSentDesc}))

	t.Run("scope applies before filters", func(t *testing.T) {
		assert.Empty(t, list(registrystore.VisibleTo(a.ID), query.Filter{ConversationID: &bc.ID}))
		assert.Empty(t, list(registrystore.VisibleTo(a.ID), query.Filter{SenderID: &c.ID}))
	})

	t.Run("sender", func(t *testing.T) {
		assert.Equal(t, []string{m2.Body, m4.Body}, list(all, query.Filter{SenderID: &b.ID}))
	})

	t.Run("conversation", func(t *testing.T) {
		assert.Equal(t, []string{m3.Body, m4.Body}, list(all, query.Filter{ConversationID: &bc.ID}))
	})

	t.Run("inclusive range", func(t *testing.T) {
		start, end := m2.SentAt, m3.SentAt
		assert.Equal(t, []string{m2.Body, m3.Body}, list(all, query.Filter{StartTime: &start, EndTime: &end}))
		assert.Equal(t, []string{m2.Body, m3.Body, m4.Body}, list(all, query.Filter{StartTime: &start}))
		assert.Equal(t, []string{m1.Body, m2.Body, m3.Body}, list(all, query.Filter{EndTime: &end}))
		assert.Empty(t, list(all, query.Filter{StartTime: &end, EndTime: &start}))

		// Re-narrowing a store result in memory with a compatible bound changes nothing.
		ranged, err := s.ListMessages(ctx, registrystore.MessageQuery{
			Scope:  all,
			Filter: query.Filter{StartTime: &start, EndTime: &end},
		})
		require.NoError(t, err)
		assert.Equal(t, bodies(ranged), bodies(query.Filter{StartTime: &start}.Apply(ranged)))
		assert.Equal(t, bodies(ranged), list(all, query.Filter{StartTime: &start, EndTime: &end}))
	})

	t.Run("search", func(t *testing.T) {
		assert.Equal(t, []string{m1.Body}, list(all, query.Filter{Search: "QUARTERLY"}))
		assert.Equal(t, []string{m2.Body, m4.Body}, list(all, query.Filter{Search: "bert@example"}))
		assert.Equal(t, []string{m3.Body, m4.Body}, list(all, query.Filter{Search: "cleo"}))
		assert.Equal(t, []string{m1.Body}, list(all, query.Filter{Search: "ada lovelace"}))
		assert.Equal(t, []string{m3.Body}, list(all, query.Filter{Search: "50%"}))
		assert.Equal(t, []string{m3.Body}, list(all, query.Filter{Search: "done_"}))
		assert.Empty(t, list(all, query.Filter{Search: "l_oks"}))
	})

	t.Run("combined", func(t *testing.T) {
		start := m2.SentAt
		assert.Equal(t, []string{m4.Body}, list(all, query.Filter{SenderID: &b.ID, StartTime: &start, Search: "cleo"}))
	})
}

// testUnicodeSearch checks that case folding covers non-ASCII text on every backend, matching
// query.Filter.Matches.
func testUnicodeSearch(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	e := user(t, ctx, s, "Élodie", "Ångström", "elodie@example.com")
	b := user(t, ctx, s, "Bert", "Jansch", "bert@example.com")
	conv, err := s.CreateConversation(ctx, []uuid.UUID{e.ID, b.ID})
	require.NoError(t, err)
	m1 := post(t, ctx, s, conv.ID, e.ID, "Über cool")
	m2 := post(t, ctx, s, conv.ID, b.ID, "plain ascii")

	for _, term := range []string{"Über", "über", "ÜBER"} {
		f := query.Filter{Search: term}
		msgs, err := s.ListMessages(ctx, registrystore.MessageQuery{Scope: registrystore.Unrestricted(), Filter: f})
		require.NoError(t, err)
		require.Equal(t, []string{m1.Body}, bodies(msgs), "search %q", term)
		assert.True(t, f.Matches(msgs[0]), "in-memory evaluation must agree for %q", term)
	}
	for _, term := range []string{"élodie", "ÉLODIE", "ångström"} {
		msgs, err := s.ListMessages(ctx, registrystore.MessageQuery{
			Scope:  registrystore.Unrestricted(),
			Filter: query.Filter{Search: term},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{m1.Body}, bodies(msgs), "search %q", term)

		convs, err := s.ListConversations(ctx, registrystore.ConversationQuery{
			Scope:  registrystore.VisibleTo(b.ID),
			Filter: query.ConversationFilter{Search: term},
		})
		require.NoError(t, err)
		require.Len(t, convs, 1, "conversation search %q", term)
		assert.Equal(t, conv.ID, convs[0].ID)
	}
	msgs, err := s.ListMessages(ctx, registrystore.MessageQuery{
		Scope:  registrystore.Unrestricted(),
		Filter: query.Filter{Search: "ASCII"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{m2.Body}, bodies(msgs))
}

func testMessageKeyset(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	a := user(t, ctx, s, "Ada", "Lovelace", "ada@example.com")
	conv, err := s.CreateConversation(ctx, []uuid.UUID{a.ID})
	require.NoError(t, err)

	var msgs []model.Message
	for _, body := range []string{"a", "b", "c", "d", "e"} {
		// No sleep: equal timestamps must still page in id order.
		m, err := s.CreateMessage(ctx, registrystore.NewMessage{ConversationID: conv.ID, SenderID: a.ID, Body: body})
		require.NoError(t, err)
		msgs = append(msgs, *m)
	}

	walk := func(ordering query.Ordering) []string {
		var out []string
		var after *pagination.Key
		for i := 0; i < 10; i++ {
			page, err := s.ListMessages(ctx, registrystore.MessageQuery{
				Scope:  registrystore.VisibleTo(a.ID),
				Filter: query.Filter{Ordering: ordering},
				After:  after,
				Limit:  2,
			})
			require.NoError(t, err)
			if len(page) == 0 {
				return out
			}
			out = append(out, bodies(page)...)
			k := query.MessageKey(page[len(page)-1])
			after = &k
		}
		t.Fatal("pagination did not terminate")
		return nil
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, walk(query.OrderSentAsc))
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, walk(query.OrderSentDesc))
}

func testDelete(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	a := user(t, ctx, s, "Ada", "Lovelace", "ada@example.com")
	conv, err := s.CreateConversation(ctx, []uuid.UUID{a.ID})
	require.NoError(t, err)
	m := post(t, ctx, s, conv.ID, a.ID, "bye")

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	var notFound *registrystore.NotFoundError
	_, err = s.GetConversation(ctx, conv.ID)
	require.True(t, errors.As(err, &notFound))
	_, err = s.GetMessage(ctx, m.ID)
	require.True(t, errors.As(err, &notFound))
	_, err = s.ListParticipantIDs(ctx, conv.ID)
	require.True(t, errors.As(err, &notFound))
	require.True(t, errors.As(s.DeleteConversation(ctx, conv.ID), &notFound))

	msgs, err := s.ListMessages(ctx, registrystore.MessageQuery{Scope: registrystore.Unrestricted()})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
