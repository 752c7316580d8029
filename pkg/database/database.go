package database

import (
	"context"
	"time"

	"github.com/schoolrun/schoolrun/pkg/util"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

var Instance *MongoInstance

const defaultConnectionString = "mongodb://localhost:27017/"
const defaultDatabase = "schoolrun"

func Connect() error {
	connectionString := defaultConnectionString
	dbName := defaultDatabase

	env := util.GetEnvironmentVariables()

	if env["SCHOOLRUN_MONGODB_CONNECTION"] != "" {
		connectionString = env["SCHOOLRUN_MONGODB_CONNECTION"]
	}

	if env["SCHOOLRUN_MONGODB_DATABASE"] != "" {
		dbName = env["SCHOOLRUN_MONGODB_DATABASE"]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return err
	}

	Instance = &MongoInstance{
		Client:   client,
		Database: client.Database(dbName),
	}

	if err := client.Ping(context.Background(), nil); err != nil {
		return err
	}

	createIndexes()

	return nil
}

func GetCollection(collectionName string) *mongo.Collection {
	return Instance.Database.Collection(collectionName)
}

func createIndexes() {
	childrenCollection := GetCollection("children")
	childrenCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "parentidentifiers", Value: 1}},
		},
	})

	busesCollection := GetCollection("buses")
	busesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "driveridentifier", Value: 1}},
		},
	})

	routesCollection := GetCollection("routes")
	routesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "busidentifier", Value: 1}},
		},
	})

	notificationPreferencesCollection := GetCollection("notification_preferences")
	notificationPreferencesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "busidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "childidentifier", Value: 1}},
		},
	})

	pushTargetCollection := GetCollection("user_push_notification_target")
	pushTargetCollection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "userid", Value: 1}},
	})
}
