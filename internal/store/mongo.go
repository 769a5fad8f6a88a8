package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type mongoRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	CustomerID string             `bson:"customer_id"`
	ProductID  string             `bson:"product_id"`
	Quantity   int                `bson:"quantity"`
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
}

func (r mongoRecord) toRecord() domain.RemoteRecord {
	return domain.RemoteRecord{
		ID:         r.ID.Hex(),
		CustomerID: r.CustomerID,
		ProductID:  r.ProductID,
		Quantity:   r.Quantity,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// MongoStore keeps one document per cart record. Ids are ObjectID hex strings.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("cart_records")}
}

// CreateIndexes enforces one record per customer and product.
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "customer_id", Value: 1}, {Key: "product_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) List(ctx context.Context, customerID string) ([]domain.RemoteRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.collection.Find(ctx, bson.M{"customer_id": customerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart records: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]domain.RemoteRecord, 0)
	for cur.Next(ctx) {
		var rec mongoRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode cart record: %w", err)
		}
		out = append(out, rec.toRecord())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return out, nil
}

func (m *MongoStore) Get(ctx context.Context, customerID, id string) (domain.RemoteRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.RemoteRecord{}, ErrNotFound
	}

	var rec mongoRecord
	err = m.collection.FindOne(ctx, bson.M{"_id": oid, "customer_id": customerID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.RemoteRecord{}, ErrNotFound
		}
		return domain.RemoteRecord{}, fmt.Errorf("failed to get cart record: %w", err)
	}
	return rec.toRecord(), nil
}

func (m *MongoStore) Create(ctx context.Context, customerID, productID string, quantity int) (domain.RemoteRecord, error) {
	if err := validate(customerID, productID, quantity); err != nil {
		return domain.RemoteRecord{}, err
	}

	// mongo keeps milliseconds
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := mongoRecord{
		ID:         primitive.NewObjectID(),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := m.collection.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.RemoteRecord{}, ErrDuplicate
		}
		return domain.RemoteRecord{}, fmt.Errorf("failed to insert cart record: %w", err)
	}
	return rec.toRecord(), nil
}

func (m *MongoStore) UpdateQuantity(ctx context.Context, customerID, id string, quantity int) (domain.RemoteRecord, error) {
	if err := validQuantity(quantity); err != nil {
		return domain.RemoteRecord{}, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.RemoteRecord{}, ErrNotFound
	}

	update := bson.M{
		"$set": bson.M{
			"quantity":   quantity,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec mongoRecord
	err = m.collection.FindOneAndUpdate(ctx, bson.M{"_id": oid, "customer_id": customerID}, update, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.RemoteRecord{}, ErrNotFound
		}
		return domain.RemoteRecord{}, fmt.Errorf("failed to update cart record: %w", err)
	}
	return rec.toRecord(), nil
}

func (m *MongoStore) Delete(ctx context.Context, customerID, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": oid, "customer_id": customerID})
	if err != nil {
		return fmt.Errorf("failed to delete cart record: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.collection.Database().Client().Disconnect(ctx)
}
