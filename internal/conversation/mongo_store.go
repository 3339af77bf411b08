package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoRecord struct {
	Scope                string `bson:"scope"`
	OpenAIConversationID string `bson:"openai_conversation_id"`
	GrokConversationID   string `bson:"grok_conversation_id"`
	LastResponseID       string `bson:"last_response_id"`
	ShareLinkID          string `bson:"share_link_id"`
	Token                string `bson:"token"`
	HistoryHash          string `bson:"history_hash"`
	CreatedAt            int64  `bson:"created_at"`
	UpdatedAt            int64  `bson:"updated_at"`
	ExpiresAt            int64  `bson:"expires_at"`
}

func (m mongoRecord) toRecord() *Record {
	return &Record{
		Scope:                m.Scope,
		OpenAIConversationID: m.OpenAIConversationID,
		GrokConversationID:   m.GrokConversationID,
		LastResponseID:       m.LastResponseID,
		ShareLinkID:          m.ShareLinkID,
		Token:                m.Token,
		HistoryHash:          m.HistoryHash,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		ExpiresAt:            m.ExpiresAt,
	}
}

// NewMongo connects to MongoDB and ensures the collection indexes.
func NewMongo(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection("conversations"),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "scope", Value: 1}, {Key: "openai_conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "history_hash", Value: 1}}},
		{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "token", Value: 1}, {Key: "updated_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func idFilter(scope, id string) bson.M {
	return bson.M{"scope": scope, "openai_conversation_id": id}
}

func (m *MongoStore) Upsert(ctx context.Context, rec *Record) error {
	update := bson.M{
		"$set": bson.M{
			"grok_conversation_id": rec.GrokConversationID,
			"last_response_id":     rec.LastResponseID,
			"share_link_id":        rec.ShareLinkID,
			"token":                rec.Token,
			"history_hash":         rec.HistoryHash,
			"updated_at":           rec.UpdatedAt,
			"expires_at":           rec.ExpiresAt,
		},
		"$setOnInsert": bson.M{"created_at": rec.CreatedAt},
	}
	_, err := m.coll.UpdateOne(ctx, idFilter(rec.Scope, rec.OpenAIConversationID),
		update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (m *MongoStore) GetByID(ctx context.Context, scope, id string, now time.Time) (*Record, error) {
	var doc mongoRecord
	err := m.coll.FindOne(ctx, idFilter(scope, id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	rec := doc.toRecord()
	if rec.Expired(now) {
		if err := m.DeleteByID(ctx, scope, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec, nil
}

func (m *MongoStore) FindByHistoryHash(ctx context.Context, scope, hash string, now time.Time) (*Record, error) {
	_, err := m.coll.DeleteMany(ctx, bson.M{
		"scope":      scope,
		"expires_at": bson.M{"$gt": 0, "$lte": now.UnixMilli()},
	})
	if err != nil {
		return nil, fmt.Errorf("purge expired: %w", err)
	}

	var doc mongoRecord
	err = m.coll.FindOne(ctx, bson.M{"scope": scope, "history_hash": hash},
		options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by history hash: %w", err)
	}
	return doc.toRecord(), nil
}

func (m *MongoStore) DeleteByID(ctx context.Context, scope, id string) error {
	if _, err := m.coll.DeleteOne(ctx, idFilter(scope, id)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (m *MongoStore) CleanupExpired(ctx context.Context, limit int, now time.Time) (int, error) {
	limit = clampCleanupLimit(limit)
	cursor, err := m.coll.Find(ctx,
		bson.M{"expires_at": bson.M{"$gt": 0, "$lte": now.UnixMilli()}},
		options.Find().
			SetSort(bson.D{{Key: "expires_at", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"scope": 1, "openai_conversation_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("select expired: %w", err)
	}
	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("decode expired: %w", err)
	}

	removed := 0
	for _, doc := range docs {
		res, err := m.coll.DeleteOne(ctx, idFilter(doc.Scope, doc.OpenAIConversationID))
		if err != nil {
			return removed, fmt.Errorf("delete expired: %w", err)
		}
		removed += int(res.DeletedCount)
	}
	return removed, nil
}

func (m *MongoStore) TrimForToken(ctx context.Context, scope, token string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	cursor, err := m.coll.Find(ctx, bson.M{"scope": scope, "token": token},
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: -1}}).
			SetSkip(int64(keep)).
			SetProjection(bson.M{"openai_conversation_id": 1, "scope": 1}))
	if err != nil {
		return 0, fmt.Errorf("select for trim: %w", err)
	}
	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("decode for trim: %w", err)
	}

	removed := 0
	for _, doc := range docs {
		if err := m.DeleteByID(ctx, scope, doc.OpenAIConversationID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (m *MongoStore) Stats(ctx context.Context, topN int, now time.Time) (Stats, error) {
	var st Stats
	nowMS := now.UnixMilli()

	liveFilter := bson.M{"$or": bson.A{
		bson.M{"expires_at": 0},
		bson.M{"expires_at": bson.M{"$gt": nowMS}},
	}}
	active, err := m.coll.CountDocuments(ctx, liveFilter)
	if err != nil {
		return st, fmt.Errorf("count active: %w", err)
	}
	expired, err := m.coll.CountDocuments(ctx, bson.M{"expires_at": bson.M{"$gt": 0, "$lte": nowMS}})
	if err != nil {
		return st, fmt.Errorf("count expired: %w", err)
	}
	st.ActiveTotal = int(active)
	st.ExpiredTotal = int(expired)

	if topN <= 0 {
		return st, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"token": bson.M{"$ne": ""}, "$or": bson.A{
			bson.M{"expires_at": 0},
			bson.M{"expires_at": bson.M{"$gt": nowMS}},
		}}}},
		{{Key: "$group", Value: bson.M{"_id": "$token", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
		{{Key: "$limit", Value: topN}},
	}
	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return st, fmt.Errorf("top tokens: %w", err)
	}
	var groups []struct {
		Token string `bson:"_id"`
		Count int    `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return st, fmt.Errorf("decode top tokens: %w", err)
	}
	for _, g := range groups {
		st.TopTokens = append(st.TopTokens, TokenCount{TokenSuffix: tokenSuffix(g.Token), Count: g.Count})
	}
	return st, nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
