package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"fragment-arena/internal/config"
	"fragment-arena/internal/db"
)

// Clears all match and connection data. Agents, rankings, and the validation
// queue are left alone; use this to reset the arena between test runs.
func main() {
	cfg, err := config.Load(config.GetEnv())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongodb.Close(ctx)
	}()

	ctx := context.Background()
	collections := []struct {
		name string
		coll *mongo.Collection
	}{
		{"game states", mongodb.GameStates()},
		{"matches", mongodb.Matches()},
		{"local agent connections", mongodb.LocalAgentConnections()},
	}

	for _, c := range collections {
		res, err := c.coll.DeleteMany(ctx, bson.M{})
		if err != nil {
			log.Fatalf("Failed to delete %s: %v", c.name, err)
		}
		fmt.Printf("Deleted %d %s\n", res.DeletedCount, c.name)
	}

	fmt.Println("Database cleared successfully")
}
