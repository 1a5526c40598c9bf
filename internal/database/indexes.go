package database

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureOrderIndexes(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	indexes := db.Collection(ordersCollection).Indexes()

	userIDIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("userId_createdAt"),
	}

	log.Println("[DB] [INFO] EnsureOrderIndexes: creating userId_createdAt index")
	if _, err := indexes.CreateOne(ctx, userIDIndex); err != nil {
		log.Println("[DB] [ERROR] EnsureOrderIndexes: userId index error:", err)
		return err
	}

	// One order per payment intent. Orders without an intent are not
	// constrained.
	intentIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "paymentIntentId", Value: 1}},
		Options: options.Index().
			SetName("paymentIntentId_unique").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{
				"paymentIntentId": bson.M{
					"$exists": true,
				},
			}),
	}

	log.Println("[DB] [INFO] EnsureOrderIndexes: creating paymentIntentId_unique index")
	if _, err := indexes.CreateOne(ctx, intentIndex); err != nil {
		log.Println("[DB] [ERROR] EnsureOrderIndexes: paymentIntentId index error:", err)
		return err
	}
	log.Println("[DB] [INFO] EnsureOrderIndexes: order indexes created")
	return nil
}
