package reqlog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore persists request logs in two collections, one per kind.
type MongoDBStore struct {
	client *mongo.Client
	ucp    *mongo.Collection
	ap2    *mongo.Collection
}

// NewMongoDBStore connects, pings, and ensures the log indexes exist.
// Empty collection names fall back to the table-name defaults.
func NewMongoDBStore(connectionString, database, ucpCollection, ap2Collection string) (*MongoDBStore, error) {
	if ucpCollection == "" {
		ucpCollection = defaultUCPTable
	}
	if ap2Collection == "" {
		ap2Collection = defaultAP2Table
	}

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

	store := &MongoDBStore{
		client: client,
		ucp:    client.Database(database).Collection(ucpCollection),
		ap2:    client.Database(database).Collection(ap2Collection),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "mandateId", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	for _, coll := range []*mongo.Collection{store.ucp, store.ap2} {
		if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("create log indexes: %w", err)
		}
	}
	return store, nil
}

func (s *MongoDBStore) collectionFor(kind Kind) *mongo.Collection {
	if kind == KindAP2 {
		return s.ap2
	}
	return s.ucp
}

// Insert implements Store.
func (s *MongoDBStore) Insert(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if _, err := s.collectionFor(entry.Kind).InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

func mongoLogFilter(q Query) bson.M {
	filter := bson.M{}
	if q.Endpoint != "" {
		filter["endpoint"] = bson.M{"$regex": regexp.QuoteMeta(q.Endpoint)}
	}
	if q.Method != "" {
		filter["method"] = q.Method
	}
	if q.Status != 0 {
		filter["status"] = q.Status
	}
	if q.MessageType != "" {
		filter["messageType"] = q.MessageType
	}
	if q.MandateID != "" {
		filter["mandateId"] = q.MandateID
	}
	if !q.Since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": q.Since}
	}
	return filter
}

// List implements Store. For a single kind the query runs server-side;
// the both-kinds view fetches a page-sized window from each collection
// and merges.
func (s *MongoDBStore) List(ctx context.Context, q Query) ([]Entry, int64, error) {
	q = q.Normalized()
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	filter := mongoLogFilter(q)

	if q.Kind == KindUCP || q.Kind == KindAP2 {
		coll := s.collectionFor(q.Kind)
		total, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("count log entries: %w", err)
		}
		opts := options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetSkip(int64(q.Offset)).
			SetLimit(int64(q.Limit))
		cursor, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("query log entries: %w", err)
		}
		entries, err := decodeEntries(ctx, cursor, q.Kind)
		if err != nil {
			return nil, 0, err
		}
		return entries, total, nil
	}

	var total int64
	merged := make([]Entry, 0, 2*(q.Offset+q.Limit))
	for _, src := range []struct {
		kind Kind
		coll *mongo.Collection
	}{
		{KindUCP, s.ucp},
		{KindAP2, s.ap2},
	} {
		count, err := src.coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, 0, fmt.Errorf("count log entries: %w", err)
		}
		total += count

		opts := options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(int64(q.Offset + q.Limit))
		cursor, err := src.coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("query log entries: %w", err)
		}
		entries, err := decodeEntries(ctx, cursor, src.kind)
		if err != nil {
			return nil, 0, err
		}
		merged = append(merged, entries...)
	}

	sortByTimestampDesc(merged)
	if q.Offset >= len(merged) {
		return []Entry{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > len(merged) {
		end = len(merged)
	}
	return merged[q.Offset:end], total, nil
}

func decodeEntries(ctx context.Context, cursor *mongo.Cursor, kind Kind) ([]Entry, error) {
	defer cursor.Close(ctx)
	var entries []Entry
	for cursor.Next(ctx) {
		var e Entry
		if err := cursor.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		e.Kind = kind
		entries = append(entries, e)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return entries, nil
}

// statsAggregate is the per-collection roll-up document.
type statsAggregate struct {
	Count         int64     `bson:"count"`
	Errors        int64     `bson:"errors"`
	TotalDuration int64     `bson:"totalDuration"`
	Oldest        time.Time `bson:"oldest"`
	Newest        time.Time `bson:"newest"`
}

// Stats implements Store.
func (s *MongoDBStore) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	stats := Stats{
		ByEndpoint: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}

	var totalDuration int64
	var totalCount int64
	var oldest, newest time.Time

	for _, t := range []struct {
		coll  *mongo.Collection
		total *int64
	}{
		{s.ucp, &stats.TotalUCP},
		{s.ap2, &stats.TotalAP2},
	} {
		pipeline := mongo.Pipeline{
			{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: nil},
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
				{Key: "errors", Value: bson.D{{Key: "$sum", Value: bson.D{
					{Key: "$cond", Value: bson.A{
						bson.D{{Key: "$gte", Value: bson.A{"$status", 400}}}, 1, 0,
					}},
				}}}},
				{Key: "totalDuration", Value: bson.D{{Key: "$sum", Value: "$durationMs"}}},
				{Key: "oldest", Value: bson.D{{Key: "$min", Value: "$timestamp"}}},
				{Key: "newest", Value: bson.D{{Key: "$max", Value: "$timestamp"}}},
			}}},
		}
		cursor, err := t.coll.Aggregate(ctx, pipeline)
		if err != nil {
			return Stats{}, fmt.Errorf("aggregate logs: %w", err)
		}
		var agg []statsAggregate
		if err := cursor.All(ctx, &agg); err != nil {
			return Stats{}, fmt.Errorf("decode log aggregate: %w", err)
		}
		if len(agg) == 0 {
			continue
		}
		a := agg[0]
		*t.total = a.Count
		stats.ErrorCount += a.Errors
		totalDuration += a.TotalDuration
		totalCount += a.Count
		if oldest.IsZero() || (!a.Oldest.IsZero() && a.Oldest.Before(oldest)) {
			oldest = a.Oldest
		}
		if a.Newest.After(newest) {
			newest = a.Newest
		}

		groupPipeline := mongo.Pipeline{
			{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: bson.D{
					{Key: "endpoint", Value: "$endpoint"},
					{Key: "status", Value: "$status"},
				}},
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			}}},
		}
		groupCursor, err := t.coll.Aggregate(ctx, groupPipeline)
		if err != nil {
			return Stats{}, fmt.Errorf("group logs: %w", err)
		}
		var groups []struct {
			ID struct {
				Endpoint string `bson:"endpoint"`
				Status   int    `bson:"status"`
			} `bson:"_id"`
			Count int64 `bson:"count"`
		}
		if err := groupCursor.All(ctx, &groups); err != nil {
			return Stats{}, fmt.Errorf("decode log groups: %w", err)
		}
		for _, g := range groups {
			stats.ByEndpoint[g.ID.Endpoint] += g.Count
			stats.ByStatus[strconv.Itoa(g.ID.Status)] += g.Count
		}
	}

	success, err := s.ap2.CountDocuments(ctx, bson.M{"paymentStatus": "SUCCESS"})
	if err != nil {
		return Stats{}, fmt.Errorf("count successful payments: %w", err)
	}
	stats.SuccessfulPayments = success

	if totalCount > 0 {
		stats.AvgDurationMS = float64(totalDuration) / float64(totalCount)
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}
	return stats, nil
}

// Clear implements Store.
func (s *MongoDBStore) Clear(ctx context.Context, kind Kind) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var colls []*mongo.Collection
	switch kind {
	case KindUCP:
		colls = []*mongo.Collection{s.ucp}
	case KindAP2:
		colls = []*mongo.Collection{s.ap2}
	default:
		colls = []*mongo.Collection{s.ucp, s.ap2}
	}

	var removed int64
	for _, coll := range colls {
		result, err := coll.DeleteMany(ctx, bson.M{})
		if err != nil {
			return removed, fmt.Errorf("clear %s: %w", coll.Name(), err)
		}
		removed += result.DeletedCount
	}
	return removed, nil
}

// Close implements Store.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
