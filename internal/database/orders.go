// Package database owns the MongoDB connection and the order documents.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"storefront/internal/models"
)

const ordersCollection = "orders"

var ErrOrderNotFound = errors.New("order not found")

// OrderFilter selects a page of orders. An empty UserID lists every order.
type OrderFilter struct {
	UserID string
	Page   int64
	Limit  int64
}

// StatusUpdate is an admin status change.
type StatusUpdate struct {
	Status         string
	TrackingNumber string
	UpdatedBy      string
	At             time.Time
}

type OrderRepository struct {
	coll *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{coll: db.Collection(ordersCollection)}
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.coll.Database().Client().Ping(checkCtx, readpref.Primary())
}

// Insert stores a new order. When an order for the same payment intent
// already exists, that order is returned with existing set and nothing is
// written.
func (r *OrderRepository) Insert(ctx context.Context, order models.Order) (models.Order, bool, error) {
	_, err := r.coll.InsertOne(ctx, order)
	if err == nil {
		return order, false, nil
	}
	if !mongo.IsDuplicateKeyError(err) || order.PaymentIntentID == "" {
		return models.Order{}, false, fmt.Errorf("insert order: %w", err)
	}

	existing, findErr := r.FindByPaymentIntent(ctx, order.PaymentIntentID)
	if findErr != nil {
		return models.Order{}, false, fmt.Errorf("load order for %s after duplicate insert: %w", order.PaymentIntentID, findErr)
	}
	return existing, true, nil
}

func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (models.Order, error) {
	var order models.Order
	err := r.coll.FindOne(ctx, bson.M{"paymentIntentId": paymentIntentID}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("find order by payment intent: %w", err)
	}
	return order, nil
}

// List returns one page of orders, newest first, and the total match count.
func (r *OrderRepository) List(ctx context.Context, f OrderFilter) ([]models.Order, int64, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip((f.Page - 1) * f.Limit).
		SetLimit(f.Limit)

	cursor, err := r.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, fmt.Errorf("decode orders: %w", err)
	}
	return orders, total, nil
}

// UpdateStatus applies an admin status change and appends it to the
// history. It returns the order as it was before and after the change.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, u StatusUpdate) (models.Order, models.Order, error) {
	entry := models.StatusHistoryEntry{
		Status:         u.Status,
		Timestamp:      u.At,
		UpdatedBy:      u.UpdatedBy,
		TrackingNumber: u.TrackingNumber,
	}
	set := bson.M{
		"status":       u.Status,
		"lastModified": u.At,
	}
	if u.TrackingNumber != "" {
		set["trackingNumber"] = u.TrackingNumber
	}
	update := bson.M{
		"$set":  set,
		"$push": bson.M{"statusHistory": entry},
	}

	var before models.Order
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Order{}, models.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, models.Order{}, fmt.Errorf("update order status: %w", err)
	}

	after := before
	after.Status = u.Status
	if u.TrackingNumber != "" {
		after.TrackingNumber = u.TrackingNumber
	}
	after.StatusHistory = append(append([]models.StatusHistoryEntry(nil), before.StatusHistory...), entry)
	at := u.At
	after.LastModified = &at
	return before, after, nil
}

func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrOrderNotFound
	}
	return nil
}
