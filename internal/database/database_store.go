package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
)

type DBStore struct {
	sessions         *mongo.Collection
	operationTimeout time.Duration
}

func NewDatabaseStore(sessions *mongo.Collection, operationTimeout time.Duration) *DBStore {
	return &DBStore{sessions: sessions, operationTimeout: operationTimeout}
}

func (ds *DBStore) GetSession(ctx context.Context, clientID string) (*SessionData, error) {
	if clientID == "" {
		return nil, ErrClientIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: clientID}}
	var session SessionData

	startTime := time.Now()
	err := ds.sessions.FindOne(ctx, filter).Decode(&session)
	logger.DebugF("session query cost: %v", time.Since(startTime))

	if err != nil {
		return nil, handleErr(err)
	}
	return &session, nil
}

func (ds *DBStore) SaveSession(ctx context.Context, session *SessionData) error {
	if session == nil || session.ClientID == "" {
		return ErrClientIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: session.ClientID}}
	opts := options.Replace().SetUpsert(true)

	result, err := ds.sessions.ReplaceOne(ctx, filter, session, opts)
	if err != nil {
		return handleErr(err)
	}

	logger.DebugF("Session saved: client_id=%s, matched=%d, modified=%d, upserted=%v",
		session.ClientID,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ds *DBStore) DeleteSession(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrClientIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "client_id", Value: clientID}}
	result, err := ds.sessions.DeleteOne(ctx, filter)
	if err != nil {
		return handleErr(err)
	}

	logger.DebugF("Session deleted: client_id=%s, deleted=%d", clientID, result.DeletedCount)
	return nil
}

func handleErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}
