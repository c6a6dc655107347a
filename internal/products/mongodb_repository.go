package products

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AgentCommerce/ucp/internal/money"
)

// MongoDBRepository implements Repository using MongoDB.
type MongoDBRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// mongoProduct represents the MongoDB document structure.
type mongoProduct struct {
	ID           string    `bson:"_id"`
	SKU          string    `bson:"sku"`
	Name         string    `bson:"name"`
	Description  string    `bson:"description"`
	PriceCents   int64     `bson:"priceCents"`
	Currency     string    `bson:"currency"`
	Category     string    `bson:"category"`
	Brand        string    `bson:"brand"`
	ImageURL     string    `bson:"imageUrl"`
	Availability string    `bson:"availability"`
	Condition    string    `bson:"condition"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

// NewMongoDBRepository creates a MongoDB-backed repository.
func NewMongoDBRepository(connectionString, database, collection string) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sku", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "active", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}},
		},
	}

	if _, err := coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &MongoDBRepository{
		client:     client,
		collection: coll,
	}, nil
}

// GetProduct retrieves a product by ID, including inactive products.
func (r *MongoDBRepository) GetProduct(ctx context.Context, id string) (Product, error) {
	var mp mongoProduct
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&mp)
	if err == mongo.ErrNoDocuments {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("find product: %w", err)
	}

	return mongoToProduct(mp), nil
}

// GetProductBySKU retrieves a product by SKU, including inactive products.
func (r *MongoDBRepository) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	var mp mongoProduct
	err := r.collection.FindOne(ctx, bson.M{"sku": sku}).Decode(&mp)
	if err == mongo.ErrNoDocuments {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("find product by sku: %w", err)
	}

	return mongoToProduct(mp), nil
}

// SearchProducts returns active products matching the query, ordered by ID.
func (r *MongoDBRepository) SearchProducts(ctx context.Context, q Query) ([]Product, error) {
	q = q.Normalized()

	filter := bson.M{"active": true}
	if q.Text != "" {
		pattern := primitive.Regex{Pattern: regexp.QuoteMeta(q.Text), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"name": pattern},
			bson.M{"description": pattern},
			bson.M{"category": pattern},
		}
	}
	if q.Category != "" {
		filter["category"] = primitive.Regex{Pattern: regexp.QuoteMeta(q.Category), Options: "i"}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(q.Limit))

	return r.findProducts(ctx, filter, opts)
}

// ListProducts returns products ordered by ID.
func (r *MongoDBRepository) ListProducts(ctx context.Context, listOpts ListOptions) ([]Product, error) {
	filter := bson.M{}
	if !listOpts.IncludeInactive {
		filter["active"] = true
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if listOpts.Offset > 0 {
		opts = opts.SetSkip(int64(listOpts.Offset))
	}
	if listOpts.Limit > 0 {
		opts = opts.SetLimit(int64(listOpts.Limit))
	}

	return r.findProducts(ctx, filter, opts)
}

func (r *MongoDBRepository) findProducts(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Product, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer cursor.Close(ctx)

	var result []Product
	for cursor.Next(ctx) {
		var mp mongoProduct
		if err := cursor.Decode(&mp); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		result = append(result, mongoToProduct(mp))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return result, nil
}

// CreateProduct creates a new product.
func (r *MongoDBRepository) CreateProduct(ctx context.Context, p Product) error {
	if p.Availability == "" {
		p.Availability = DefaultAvailability
	}
	if p.Condition == "" {
		p.Condition = DefaultCondition
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, productToMongo(p))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSKUExists
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

// UpdateProduct updates an existing product.
func (r *MongoDBRepository) UpdateProduct(ctx context.Context, p Product) error {
	p.UpdatedAt = time.Now()

	update := bson.M{
		"$set": bson.M{
			"name":         p.Name,
			"description":  p.Description,
			"priceCents":   p.Price.MinorUnits(),
			"currency":     p.Price.Currency,
			"category":     p.Category,
			"brand":        p.Brand,
			"imageUrl":     p.ImageURL,
			"availability": p.Availability,
			"condition":    p.Condition,
			"active":       p.Active,
			"updatedAt":    p.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": p.ID}, update)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrProductNotFound
	}

	return nil
}

// DeleteProduct soft-deletes a product (sets active = false).
func (r *MongoDBRepository) DeleteProduct(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{
			"active":    false,
			"updatedAt": time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrProductNotFound
	}

	return nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// mongoToProduct converts a MongoDB document to a Product.
func mongoToProduct(mp mongoProduct) Product {
	return Product{
		ID:           mp.ID,
		SKU:          mp.SKU,
		Name:         mp.Name,
		Description:  mp.Description,
		Price:        money.FromMinorUnits(mp.Currency, mp.PriceCents),
		Category:     mp.Category,
		Brand:        mp.Brand,
		ImageURL:     mp.ImageURL,
		Availability: mp.Availability,
		Condition:    mp.Condition,
		Active:       mp.Active,
		CreatedAt:    mp.CreatedAt,
		UpdatedAt:    mp.UpdatedAt,
	}
}

// productToMongo converts a Product to a MongoDB document.
func productToMongo(p Product) mongoProduct {
	return mongoProduct{
		ID:           p.ID,
		SKU:          p.SKU,
		Name:         p.Name,
		Description:  p.Description,
		PriceCents:   p.Price.MinorUnits(),
		Currency:     p.Price.Currency,
		Category:     p.Category,
		Brand:        p.Brand,
		ImageURL:     p.ImageURL,
		Availability: p.Availability,
		Condition:    p.Condition,
		Active:       p.Active,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
