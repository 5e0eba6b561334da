package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewMongoDB(uri, database string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(200).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := &MongoDB{
		Client:   client,
		Database: client.Database(database),
	}

	// Create indexes in the background (non-blocking)
	go db.ensureIndexes()

	return db, nil
}

// ensureIndexes creates all required indexes. Called once on startup.
func (m *MongoDB) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	indexes := []struct {
		collection string
		models     []mongo.IndexModel
	}{
		{
			"agents",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "name", Value: 1}}},
				{Keys: bson.D{{Key: "codeHash", Value: 1}}},
				{Keys: bson.D{{Key: "active", Value: 1}, {Key: "executionMode", Value: 1}}},
			},
		},
		{
			"rankings",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "rating", Value: -1}}},
			},
		},
		{
			"matches",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "status", Value: 1}, {Key: "matchType", Value: 1}, {Key: "createdAt", Value: 1}}},
				{Keys: bson.D{{Key: "whiteAgentId", Value: 1}, {Key: "status", Value: 1}}},
				{Keys: bson.D{{Key: "blackAgentId", Value: 1}, {Key: "status", Value: 1}}},
				{Keys: bson.D{{Key: "status", Value: 1}, {Key: "startedAt", Value: 1}}},
				{Keys: bson.D{{Key: "matchType", Value: 1}, {Key: "completedAt", Value: -1}}},
			},
		},
		{
			"game_states",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "matchId", Value: 1}, {Key: "moveNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			},
		},
		{
			"local_agent_connections",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "status", Value: 1}}},
				{Keys: bson.D{{Key: "connectedAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(7 * 24 * 3600)},
			},
		},
		{
			"validation_queue",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
				{Keys: bson.D{{Key: "codeHash", Value: 1}}},
			},
		},
	}

	for _, idx := range indexes {
		coll := m.Database.Collection(idx.collection)
		_, err := coll.Indexes().CreateMany(ctx, idx.models)
		if err != nil {
			log.Printf("Warning: failed to create indexes on %s: %v", idx.collection, err)
		}
	}

	log.Println("Database indexes ensured")
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *MongoDB) Agents() *mongo.Collection {
	return m.Database.Collection("agents")
}

func (m *MongoDB) Rankings() *mongo.Collection {
	return m.Database.Collection("rankings")
}

func (m *MongoDB) Matches() *mongo.Collection {
	return m.Database.Collection("matches")
}

func (m *MongoDB) GameStates() *mongo.Collection {
	return m.Database.Collection("game_states")
}

func (m *MongoDB) LocalAgentConnections() *mongo.Collection {
	return m.Database.Collection("local_agent_connections")
}

func (m *MongoDB) ValidationQueue() *mongo.Collection {
	return m.Database.Collection("validation_queue")
}
