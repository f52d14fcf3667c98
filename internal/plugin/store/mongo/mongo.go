package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DatabaseName is the database used by the mongo store.
const DatabaseName = "chat_service"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return New(client.Database(DatabaseName)), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

// ForceImport can be referenced by tests to ensure this package's init() runs.
var ForceImport = 0

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil // skip if not using mongo
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	if err := EnsureIndexes(ctx, client.Database(DatabaseName)); err != nil {
		return err
	}
	log.Info("MongoDB schema migration complete")
	return nil
}

// EnsureIndexes creates the collections and indexes the store relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"conversations": {
			{Keys: bson.D{{Key: "participants", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "sender_id", Value: 1}}},
		},
	}
	for name, indexes := range collections {
		// Ensure collection exists; an "already exists" error is expected on reruns.
		_ = db.CreateCollection(ctx, name)
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// MongoStore implements ChatStore using MongoDB. Participants are embedded in the
// conversation document and sender search fields are copied onto each message.
type MongoStore struct {
	db             *mongo.Database
	noTransactions atomic.Bool
}

// New returns a store over db.
func New(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// --- MongoDB document types ---

type userDoc struct {
	ID          string    `bson:"_id"`
	FirstName   string    `bson:"first_name"`
	LastName    string    `bson:"last_name"`
	Email       string    `bson:"email"`
	PhoneNumber *string   `bson:"phone_number,omitempty"`
	Role        string    `bson:"role"`
	IsSuperuser bool      `bson:"is_superuser"`
	CreatedAt   time.Time `bson:"created_at"`
}

type convDoc struct {
	ID           string    `bson:"_id"`
	CreatedAt    time.Time `bson:"created_at"`
	Participants []string  `bson:"participants"`
}

type messageDoc struct {
	ID              string    `bson:"_id"`
	ConversationID  string    `bson:"conversation_id"`
	SenderID        string    `bson:"sender_id"`
	Body            string    `bson:"message_body"`
	SentAt          time.Time `bson:"sent_at"`
	SenderEmail     string    `bson:"sender_email"`
	SenderFirstName string    `bson:"sender_first_name"`
	SenderLastName  string    `bson:"sender_last_name"`
	SenderName      string    `bson:"sender_name"`
}

type idDoc struct {
	ID string `bson:"_id"`
}

func (s *MongoStore) users() *mongo.Collection         { return s.db.Collection("users") }
func (s *MongoStore) conversations() *mongo.Collection { return s.db.Collection("conversations") }
func (s *MongoStore) messages() *mongo.Collection      { return s.db.Collection("messages") }

func uuidToStr(id uuid.UUID) string { return id.String() }
func strToUUID(s string) uuid.UUID  { u, _ := uuid.Parse(s); return u }

// now is the store clock; BSON dates only keep milliseconds.
func now() time.Time { return registrystore.Now().Truncate(time.Millisecond) }

func (d userDoc) toModel() model.User {
	return model.User{
		ID:          strToUUID(d.ID),
		FirstName:   d.FirstName,
		LastName:    d.LastName,
		Email:       d.Email,
		PhoneNumber: d.PhoneNumber,
		Role:        model.Role(d.Role),
		IsSuperuser: d.IsSuperuser,
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

func (d messageDoc) toModel() model.Message {
	return model.Message{
		ID:             strToUUID(d.ID),
		ConversationID: strToUUID(d.ConversationID),
		SenderID:       strToUUID(d.SenderID),
		Body:           d.Body,
		SentAt:         d.SentAt.UTC(),
	}
}

func idStrings(ids []uuid.UUID) []string {
	return lo.Map(ids, func(id uuid.UUID, _ int) string { return uuidToStr(id) })
}

// containsCI builds a case-insensitive substring match for term.
func containsCI(term string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(term), "$options": "i"}
}

// --- Users ---

func (s *MongoStore) CreateUser(ctx context.Context, in registrystore.NewUser) (*model.User, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	doc := userDoc{
		ID:          uuidToStr(uuid.New()),
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		Role:        string(in.Role),
		IsSuperuser: in.IsSuperuser,
		CreatedAt:   now(),
	}
	if _, err := s.users().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, registrystore.DuplicateEmail(in.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	u := doc.toModel()
	return &u, nil
}

func (s *MongoStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var doc userDoc
	if err := s.users().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u := doc.toModel()
	return &u, nil
}

func (s *MongoStore) FindUsers(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	ids = registrystore.UniqueIDs(ids)
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	return s.findUsers(ctx, bson.M{"_id": bson.M{"$in": idStrings(ids)}})
}

func (s *MongoStore) findUsers(ctx context.Context, filter bson.M) ([]model.User, error) {
	cur, err := s.users().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return lo.Map(docs, func(d userDoc, _ int) model.User { return d.toModel() }), nil
}

// usersByID loads the users for ids into a map.
func (s *MongoStore) usersByID(ctx context.Context, ids []string) (map[string]model.User, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return map[string]model.User{}, nil
	}
	users, err := s.findUsers(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(users, func(u model.User) (string, model.User) { return uuidToStr(u.ID), u }), nil
}

// --- Conversations ---

func (s *MongoStore) CreateConversation(ctx context.Context, participantIDs []uuid.UUID) (*model.Conversation, error) {
	ids := registrystore.UniqueIDs(participantIDs)
	if len(ids) == 0 {
		return nil, registrystore.EmptyParticipants()
	}
	users, err := s.FindUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	if missing := registrystore.MissingIDs(ids, users); len(missing) > 0 {
		return nil, registrystore.UnknownParticipant(missing)
	}
	doc := convDoc{ID: uuidToStr(uuid.New()), CreatedAt: now(), Participants: idStrings(ids)}
	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	byID := lo.SliceToMap(users, func(u model.User) (uuid.UUID, model.User) { return u.ID, u })
	conv := model.Conversation{ID: strToUUID(doc.ID), CreatedAt: doc.CreatedAt}
	for _, id := range ids {
		conv.Participants = append(conv.Participants, byID[id])
	}
	return &conv, nil
}

// materialize converts docs to conversations with participants loaded.
func (s *MongoStore) materialize(ctx context.Context, docs []convDoc) ([]model.Conversation, error) {
	var all []string
	for _, d := range docs {
		all = append(all, d.Participants...)
	}
	users, err := s.usersByID(ctx, all)
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(docs))
	for _, d := range docs {
		conv := model.Conversation{ID: strToUUID(d.ID), CreatedAt: d.CreatedAt.UTC(), Participants: make([]model.User, 0, len(d.Participants))}
		for _, p := range d.Participants {
			if u, ok := users[p]; ok {
				conv.Participants = append(conv.Participants, u)
			}
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *MongoStore) findConversation(ctx context.Context, id uuid.UUID) (*convDoc, error) {
	var doc convDoc
	if err := s.conversations().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	doc, err := s.findConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	convs, err := s.materialize(ctx, []convDoc{*doc})
	if err != nil {
		return nil, err
	}
	return &convs[0], nil
}

func (s *MongoStore) ListConversations(ctx context.Context, q registrystore.ConversationQuery) ([]model.Conversation, error) {
	var and []bson.M
	if q.Scope.VisibleTo != nil {
		and = append(and, bson.M{"participants": uuidToStr(*q.Scope.VisibleTo)})
	}
	if term := strings.TrimSpace(q.Filter.Search); term != "" {
		matched, err := s.findUsers(ctx, userSearchFilter(term))
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			return []model.Conversation{}, nil
		}
		and = append(and, bson.M{"participants": bson.M{"$in": idStrings(lo.Map(matched, func(u model.User, _ int) uuid.UUID { return u.ID }))}})
	}
	if q.After != nil {
		at := q.After.At.UTC()
		and = append(and, bson.M{"$or": bson.A{
			bson.M{"created_at": bson.M{"$gt": at}},
			bson.M{"created_at": at, "_id": bson.M{"$gt": uuidToStr(q.After.ID)}},
		}})
	}
	filter := bson.M{}
	if len(and) > 0 {
		filter["$and"] = and
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.conversations().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var docs []convDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return s.materialize(ctx, docs)
}

// userSearchFilter matches users whose email, first name, last name or full name contains term.
func userSearchFilter(term string) bson.M {
	re := containsCI(term)
	return bson.M{"$or": bson.A{
		bson.M{"email": re},
		bson.M{"first_name": re},
		bson.M{"last_name": re},
		bson.M{"$expr": bson.M{"$regexMatch": bson.M{
			"input":   bson.M{"$trim": bson.M{"input": bson.M{"$concat": bson.A{"$first_name", " ", "$last_name"}}}},
			"regex":   regexp.QuoteMeta(term),
			"options": "i",
		}}},
	}}
}

func (s *MongoStore) ListParticipantIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	doc, err := s.findConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return lo.Map(doc.Participants, func(p string, _ int) uuid.UUID { return strToUUID(p) }), nil
}

func (s *MongoStore) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	res, err := s.conversations().DeleteOne(ctx, bson.M{"_id": uuidToStr(id)})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
	}
	if _, err := s.messages().DeleteMany(ctx, bson.M{"conversation_id": uuidToStr(id)}); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// --- Messages ---

// CreateMessage checks membership and inserts inside one transaction. Standalone servers
// have no transactions, so sends there fall back to insert-then-verify.
func (s *MongoStore) CreateMessage(ctx context.Context, in registrystore.NewMessage) (*model.Message, error) {
	if strings.TrimSpace(in.Body) == "" {
		return nil, &registrystore.ValidationError{Field: "message_body", Message: "must not be empty"}
	}
	if !s.noTransactions.Load() {
		msg, err := s.createMessageTx(ctx, in)
		if !transactionsUnsupported(err) {
			return msg, err
		}
		s.noTransactions.Store(true)
		log.Warn("MongoDB transactions unavailable; sends fall back to insert-then-verify", "err", err)
	}
	return s.createMessageUnsafe(ctx, in)
}

func (s *MongoStore) createMessageTx(ctx context.Context, in registrystore.NewMessage) (*model.Message, error) {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	var (
		doc    messageDoc
		sender *model.User
	)
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		conv, u, err := s.checkSender(ctx, in)
		if err != nil {
			return nil, err
		}
		// Writing the conversation makes a concurrent delete conflict with this send.
		res, err := s.conversations().UpdateOne(ctx, bson.M{"_id": conv.ID}, bson.M{"$inc": bson.M{"message_count": 1}})
		if err != nil {
			return nil, fmt.Errorf("failed to update conversation: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, &registrystore.ValidationError{Field: "conversation", Message: "conversation does not exist"}
		}
		d, err := newMessageDoc(conv, u, in)
		if err != nil {
			return nil, err
		}
		if _, err := s.messages().InsertOne(ctx, d); err != nil {
			return nil, fmt.Errorf("failed to create message: %w", err)
		}
		doc, sender = d, u
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	msg := doc.toModel()
	msg.Sender = sender
	return &msg, nil
}

func (s *MongoStore) createMessageUnsafe(ctx context.Context, in registrystore.NewMessage) (*model.Message, error) {
	conv, sender, err := s.checkSender(ctx, in)
	if err != nil {
		return nil, err
	}
	doc, err := newMessageDoc(conv, sender, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.messages().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	// A concurrent delete can slip in between the participant check and the insert;
	// undo the insert if the conversation is gone.
	if n, err := s.conversations().CountDocuments(ctx, bson.M{"_id": conv.ID}); err == nil && n == 0 {
		_, _ = s.messages().DeleteOne(ctx, bson.M{"_id": doc.ID})
		return nil, &registrystore.ValidationError{Field: "conversation", Message: "conversation does not exist"}
	}
	msg := doc.toModel()
	msg.Sender = sender
	return &msg, nil
}

func (s *MongoStore) checkSender(ctx context.Context, in registrystore.NewMessage) (*convDoc, *model.User, error) {
	conv, err := s.findConversation(ctx, in.ConversationID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil, &registrystore.ValidationError{Field: "conversation", Message: "conversation does not exist"}
		}
		return nil, nil, err
	}
	if !lo.Contains(conv.Participants, uuidToStr(in.SenderID)) {
		return nil, nil, &registrystore.ForbiddenError{Reason: "sender is not a participant"}
	}
	sender, err := s.GetUser(ctx, in.SenderID)
	if err != nil {
		return nil, nil, err
	}
	return conv, sender, nil
}

func newMessageDoc(conv *convDoc, sender *model.User, in registrystore.NewMessage) (messageDoc, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return messageDoc{}, err
	}
	return messageDoc{
		ID:              uuidToStr(id),
		ConversationID:  conv.ID,
		SenderID:        uuidToStr(in.SenderID),
		Body:            in.Body,
		SentAt:          now(),
		SenderEmail:     sender.Email,
		SenderFirstName: sender.FirstName,
		SenderLastName:  sender.LastName,
		SenderName:      sender.Name(),
	}, nil
}

// transactionsUnsupported reports the IllegalOperation error a standalone server returns
// for transaction numbers.
func transactionsUnsupported(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(20)
}

func (s *MongoStore) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	var doc messageDoc
	if err := s.messages().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	msgs, err := s.withSenders(ctx, []messageDoc{doc})
	if err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *MongoStore) withSenders(ctx context.Context, docs []messageDoc) ([]model.Message, error) {
	users, err := s.usersByID(ctx, lo.Map(docs, func(d messageDoc, _ int) string { return d.SenderID }))
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		m := d.toModel()
		if u, ok := users[d.SenderID]; ok {
			m.Sender = &u
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, q registrystore.MessageQuery) ([]model.Message, error) {
	f := q.Filter
	var and []bson.M
	if q.Scope.VisibleTo != nil {
		ids, err := s.conversationIDsOf(ctx, *q.Scope.VisibleTo)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return []model.Message{}, nil
		}
		and = append(and, bson.M{"conversation_id": bson.M{"$in": ids}})
	}
	if f.ConversationID != nil {
		and = append(and, bson.M{"conversation_id": uuidToStr(*f.ConversationID)})
	}
	if f.SenderID != nil {
		and = append(and, bson.M{"sender_id": uuidToStr(*f.SenderID)})
	}
	if f.StartTime != nil {
		and = append(and, bson.M{"sent_at": bson.M{"$gte": f.StartTime.UTC()}})
	}
	if f.EndTime != nil {
		and = append(and, bson.M{"sent_at": bson.M{"$lte": f.EndTime.UTC()}})
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		re := containsCI(term)
		and = append(and, bson.M{"$or": bson.A{
			bson.M{"message_body": re},
			bson.M{"sender_email": re},
			bson.M{"sender_first_name": re},
			bson.M{"sender_last_name": re},
			bson.M{"sender_name": re},
		}})
	}

	dir, cmp := 1, "$gt"
	if f.Ordering.Descending() {
		dir, cmp = -1, "$lt"
	}
	if q.After != nil {
		at := q.After.At.UTC()
		and = append(and, bson.M{"$or": bson.A{
			bson.M{"sent_at": bson.M{cmp: at}},
			bson.M{"sent_at": at, "_id": bson.M{cmp: uuidToStr(q.After.ID)}},
		}})
	}
	filter := bson.M{}
	if len(and) > 0 {
		filter["$and"] = and
	}
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: dir}, {Key: "_id", Value: dir}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return s.withSenders(ctx, docs)
}

func (s *MongoStore) conversationIDsOf(ctx context.Context, userID uuid.UUID) ([]string, error) {
	cur, err := s.conversations().Find(ctx, bson.M{"participants": uuidToStr(userID)},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list visible conversations: %w", err)
	}
	var docs []idDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode visible conversations: %w", err)
	}
	return lo.Map(docs, func(d idDoc, _ int) string { return d.ID }), nil
}
