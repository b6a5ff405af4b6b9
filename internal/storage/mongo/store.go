// Package mongo: хранилище чата в MongoDB (альтернатива postgres, store_driver=mongo).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alumnichat/internal/logger"
	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
)

const (
	colUsers    = "users"
	colRooms    = "chat_rooms"
	colMessages = "chat_messages"
	colDirect   = "direct_messages"
	colPresence = "user_presence"
	colCounters = "counters"
)

type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	rooms    *mongo.Collection
	messages *mongo.Collection
	direct   *mongo.Collection
	presence *mongo.Collection
	counters *mongo.Collection
}

var _ storage.Store = (*Store)(nil)

// Connect подключается, проверяет соединение и создаёт индексы.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client, database)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		users:    db.Collection(colUsers),
		rooms:    db.Collection(colRooms),
		messages: db.Collection(colMessages),
		direct:   db.Collection(colDirect),
		presence: db.Collection(colPresence),
		counters: db.Collection(colCounters),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	defer logger.DeferLogDuration("mongo.EnsureIndexes", time.Now())()
	_, err := s.rooms.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// Не более одной активной комнаты на (тип, атрибут).
			Keys: bson.D{{Key: "room_type", Value: 1}, {Key: "attribute", Value: 1}},
			Options: options.Index().SetName("room_attribute_uniq").SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_active": true, "attribute": bson.M{"$exists": true}}),
		},
		{Keys: bson.D{{Key: "participants", Value: 1}}, Options: options.Index().SetName("room_participants_idx")},
	})
	if err != nil {
		return fmt.Errorf("mongo.EnsureIndexes rooms: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "seq", Value: -1}},
		Options: options.Index().SetName("room_created_idx"),
	})
	if err != nil {
		return fmt.Errorf("mongo.EnsureIndexes messages: %w", err)
	}
	_, err = s.direct.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("pair_created_idx")},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}, Options: options.Index().SetName("receiver_unread_idx")},
	})
	if err != nil {
		return fmt.Errorf("mongo.EnsureIndexes direct: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextSeq: монотонный счётчик в коллекции counters ($inc + upsert атомарны).
func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var res struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&res)
	if err != nil {
		return 0, fmt.Errorf("mongo.nextSeq %s: %w", name, err)
	}
	return res.Value, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("mongo.GetUser", time.Now())()
	var d userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("mongo.GetUser: %w", err)
	}
	return d.user(), nil
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("mongo.CreateUser", time.Now())()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if _, err := s.users.InsertOne(ctx, toUserDoc(u)); err != nil {
		return fmt.Errorf("mongo.CreateUser: %w", err)
	}
	return nil
}

func decodeRoom(res *mongo.SingleResult) (*model.Room, error) {
	var d roomDoc
	if err := res.Decode(&d); err != nil {
		return nil, err
	}
	return d.RoomRow.Room()
}

func (s *Store) CreateRoom(ctx context.Context, r *model.Room) error {
	defer logger.DeferLogDuration("mongo.CreateRoom", time.Now())()
	if _, err := s.rooms.InsertOne(ctx, toRoomDoc(r)); err != nil {
		return fmt.Errorf("mongo.CreateRoom: %w", err)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("mongo.GetRoom", time.Now())()
	room, err := decodeRoom(s.rooms.FindOne(ctx, bson.M{"_id": id}))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo.GetRoom: %w", err)
	}
	return room, nil
}

func (s *Store) FindAttributeRoom(ctx context.Context, t model.RoomType, attr string) (*model.Room, error) {
	defer logger.DeferLogDuration("mongo.FindAttributeRoom", time.Now())()
	room, err := decodeRoom(s.rooms.FindOne(ctx,
		bson.M{"room_type": t, "attribute": attr, "is_active": true},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo.FindAttributeRoom: %w", err)
	}
	return room, nil
}

// InsertAttributeRoom: при гонке второй InsertOne упирается в room_attribute_uniq и читает победителя.
func (s *Store) InsertAttributeRoom(ctx context.Context, r *model.Room) (*model.Room, error) {
	defer logger.DeferLogDuration("mongo.InsertAttributeRoom", time.Now())()
	_, err := s.rooms.InsertOne(ctx, toRoomDoc(r))
	if err == nil {
		return r, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("mongo.InsertAttributeRoom: %w", err)
	}
	return s.FindAttributeRoom(ctx, r.Type(), r.Attribute())
}

func (s *Store) ListParticipantRooms(ctx context.Context, userID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("mongo.ListParticipantRooms", time.Now())()
	cur, err := s.rooms.Find(ctx,
		bson.M{"room_type": model.RoomTypeCustom, "is_active": true, "participants": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo.ListParticipantRooms: %w", err)
	}
	defer cur.Close(ctx)
	rooms := make([]model.Room, 0, 4)
	for cur.Next(ctx) {
		var d roomDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongo.ListParticipantRooms decode: %w", err)
		}
		room, err := d.RoomRow.Room()
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo.ListParticipantRooms cursor: %w", err)
	}
	return rooms, nil
}

func (s *Store) DeactivateRoom(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("mongo.DeactivateRoom", time.Now())()
	res, err := s.rooms.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		return fmt.Errorf("mongo.DeactivateRoom: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("mongo.CreateMessage", time.Now())()
	seq, err := s.nextSeq(ctx, colMessages)
	if err != nil {
		return err
	}
	m.Seq = seq
	if _, err := s.messages.InsertOne(ctx, toMessageDoc(m)); err != nil {
		return fmt.Errorf("mongo.CreateMessage: %w", err)
	}
	return nil
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}

func (s *Store) ListRoomMessages(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("mongo.ListRoomMessages", time.Now())()
	cur, err := s.messages.Find(ctx,
		bson.M{"room_id": roomID, "is_deleted": false},
		options.Find().SetSort(newestFirst).SetSkip(int64(offset)).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo.ListRoomMessages: %w", err)
	}
	defer cur.Close(ctx)
	out := make([]model.Message, 0, limit)
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongo.ListRoomMessages decode: %w", err)
		}
		out = append(out, d.message())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo.ListRoomMessages cursor: %w", err)
	}
	return out, nil
}

func (s *Store) CreateDirectMessage(ctx context.Context, m *model.DirectMessage) error {
	defer logger.DeferLogDuration("mongo.CreateDirectMessage", time.Now())()
	seq, err := s.nextSeq(ctx, colDirect)
	if err != nil {
		return err
	}
	m.Seq = seq
	if _, err := s.direct.InsertOne(ctx, toDirectDoc(m)); err != nil {
		return fmt.Errorf("mongo.CreateDirectMessage: %w", err)
	}
	return nil
}

func pairFilter(a, b string) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"sender_id": a, "receiver_id": b},
			bson.M{"sender_id": b, "receiver_id": a},
		},
		"is_deleted": false,
	}
}

func (s *Store) ListThread(ctx context.Context, a, b string, limit, offset int) ([]model.DirectMessage, error) {
	defer logger.DeferLogDuration("mongo.ListThread", time.Now())()
	cur, err := s.direct.Find(ctx, pairFilter(a, b),
		options.Find().SetSort(newestFirst).SetSkip(int64(offset)).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo.ListThread: %w", err)
	}
	defer cur.Close(ctx)
	out := make([]model.DirectMessage, 0, limit)
	for cur.Next(ctx) {
		var d directDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongo.ListThread decode: %w", err)
		}
		out = append(out, d.direct())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo.ListThread cursor: %w", err)
	}
	return out, nil
}

func (s *Store) MarkThreadRead(ctx context.Context, to, from string) (int64, error) {
	defer logger.DeferLogDuration("mongo.MarkThreadRead", time.Now())()
	res, err := s.direct.UpdateMany(ctx,
		bson.M{"receiver_id": to, "sender_id": from, "is_read": false, "is_deleted": false},
		bson.M{"$set": bson.M{"is_read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mongo.MarkThreadRead: %w", err)
	}
	return res.ModifiedCount, nil
}

// conversationsPipeline группирует переписки userID по собеседнику: последнее сообщение и непрочитанные.
func conversationsPipeline(userID string) mongo.Pipeline {
	isSender := bson.M{"$eq": bson.A{"$sender_id", userID}}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"$or":        bson.A{bson.M{"sender_id": userID}, bson.M{"receiver_id": userID}},
			"is_deleted": false,
		}}},
		{{Key: "$addFields", Value: bson.M{
			"peer_id":   bson.M{"$cond": bson.A{isSender, "$receiver_id", "$sender_id"}},
			"peer_name": bson.M{"$cond": bson.A{isSender, "$receiver_name", "$sender_name"}},
		}}},
		{{Key: "$sort", Value: newestFirst}},
		{{Key: "$group", Value: bson.M{
			"_id":       "$peer_id",
			"peer_name": bson.M{"$first": "$peer_name"},
			"last":      bson.M{"$first": "$$ROOT"},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiver_id", userID}},
					bson.M{"$eq": bson.A{"$is_read", false}},
				}},
				1, 0,
			}}},
		}}},
	}
}

func (s *Store) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("mongo.Conversations", time.Now())()
	cur, err := s.direct.Aggregate(ctx, conversationsPipeline(userID))
	if err != nil {
		return nil, fmt.Errorf("mongo.Conversations: %w", err)
	}
	defer cur.Close(ctx)
	out := make([]model.Conversation, 0, 8)
	for cur.Next(ctx) {
		var d conversationDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("mongo.Conversations decode: %w", err)
		}
		out = append(out, model.Conversation{
			OtherUserID:   d.PeerID,
			OtherUserName: d.PeerName,
			LastMessage:   d.Last.direct(),
			UnreadCount:   d.Unread,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo.Conversations cursor: %w", err)
	}
	return out, nil
}

func (s *Store) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	defer logger.DeferLogDuration("mongo.UpsertPresence", time.Now())()
	_, err := s.presence.ReplaceOne(ctx, bson.M{"_id": rec.UserID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo.UpsertPresence: %w", err)
	}
	return nil
}

func (s *Store) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	defer logger.DeferLogDuration("mongo.GetPresence", time.Now())()
	var rec model.PresenceRecord
	if err := s.presence.FindOne(ctx, bson.M{"_id": userID}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("mongo.GetPresence: %w", err)
	}
	return &rec, nil
}
