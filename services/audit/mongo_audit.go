package audit

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"seller_agent_backend/services/pricing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB names
const (
	MongoDBName               = "seller_agent"
	MongoRepriceCollection    = "reprice_audit"
	MongoConnectTimeout       = 10 * time.Second
	MongoWriteTimeout         = 5 * time.Second
	DefaultAuditRetentionDays = 180
)

// RepriceAuditDoc is one applied price change as stored for history
type RepriceAuditDoc struct {
	ListingID       string    `bson:"listing_id"`
	RuleID          string    `bson:"rule_id"`
	OldPrice        float64   `bson:"old_price"`
	NewPrice        float64   `bson:"new_price"`
	Reason          string    `bson:"reason"`
	CompetitorPrice *float64  `bson:"competitor_price,omitempty"`
	AppliedAt       time.Time `bson:"applied_at"`
}

// Sink records applied repricing results to MongoDB when a MONGODB_URI is
// configured. The sink is best-effort: the pricing pipeline never waits on
// it and never fails because of it.
type Sink struct {
	client      *mongo.Client
	collection  *mongo.Collection
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
}

// NewSink builds an audit sink from the environment. Without MONGODB_URI the
// sink stays disabled and every Record call is a no-op.
func NewSink() *Sink {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		log.Println("MONGODB_URI not set, reprice audit sink disabled")
		return &Sink{}
	}

	sink := &Sink{uriSet: true}
	if err := sink.connect(uri); err != nil {
		log.Printf("Reprice audit sink unavailable: %v", err)
	}
	return sink
}

func (s *Sink) connect(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), MongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("MongoDB ping failed: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.collection = client.Database(MongoDBName).Collection(MongoRepriceCollection)
	s.isConnected = true
	s.mu.Unlock()

	log.Println("Reprice audit sink connected to MongoDB")
	return nil
}

// IsEnabled reports whether the sink is connected and recording
func (s *Sink) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

// Record stores one applied repricing result. Failures are logged only.
func (s *Sink) Record(res pricing.Result) {
	s.mu.RLock()
	coll := s.collection
	connected := s.isConnected
	s.mu.RUnlock()
	if !connected {
		return
	}

	doc := RepriceAuditDoc{
		ListingID:       res.ListingID,
		RuleID:          res.RuleID,
		OldPrice:        res.OldPrice,
		NewPrice:        res.NewPrice,
		Reason:          res.Reason,
		CompetitorPrice: res.CompetitorPrice,
		AppliedAt:       time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), MongoWriteTimeout)
	defer cancel()
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		log.Printf("Error recording reprice audit for listing %s: %v", res.ListingID, err)
	}
}

// Cleanup removes audit documents older than the retention window
func (s *Sink) Cleanup(retentionDays int) {
	s.mu.RLock()
	coll := s.collection
	connected := s.isConnected
	s.mu.RUnlock()
	if !connected {
		return
	}
	if retentionDays <= 0 {
		retentionDays = DefaultAuditRetentionDays
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), MongoConnectTimeout)
	defer cancel()

	res, err := coll.DeleteMany(ctx, bson.M{"applied_at": bson.M{"$lt": cutoff}})
	if err != nil {
		log.Printf("Error cleaning up reprice audit: %v", err)
		return
	}
	if res.DeletedCount > 0 {
		log.Printf("Removed %d old reprice audit document(s)", res.DeletedCount)
	}
}

// Close disconnects from MongoDB
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isConnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), MongoConnectTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		log.Printf("Error disconnecting MongoDB: %v", err)
	}
	s.isConnected = false
}
