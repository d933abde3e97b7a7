package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/specwatch/internal/types"
)

// MongoLedger mirrors a model's ledger into "ledger_<model>" and its archive
// into "archive_<model>".
type MongoLedger struct {
	client  *mongo.Client
	ledger  *mongo.Collection
	archive *mongo.Collection
	mu      sync.Mutex
	logger  *slog.Logger
}

// archiveDoc wraps an archive entry so the same vehicle can be archived more
// than once without colliding on _id.
type archiveDoc struct {
	ID    primitive.ObjectID `bson:"_id"`
	Entry types.ArchiveEntry `bson:"entry"`
}

// NewMongoLedger connects to uri and selects the model's collections.
func NewMongoLedger(ctx context.Context, uri, database string, p Paths, logger *slog.Logger) (*MongoLedger, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	db := client.Database(database)
	return &MongoLedger{
		client:  client,
		ledger:  db.Collection("ledger_" + p.Safe),
		archive: db.Collection("archive_" + p.Safe),
		logger:  logger.With("component", "mongo_ledger", "model", p.Safe),
	}, nil
}

func (s *MongoLedger) Name() string { return "mongodb" }

func (s *MongoLedger) LoadLedger(ctx context.Context) ([]types.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cur, err := s.ledger.Find(ctx, bson.M{})
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("find: %w", err)}
	}
	var entries []types.LedgerEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("decode: %w", err)}
	}
	return entries, nil
}

// SaveLedger upserts every entry and removes documents no longer in the
// ledger, so the collection ends up equal to entries.
func (s *MongoLedger) SaveLedger(ctx context.Context, entries []types.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ids := make([]string, 0, len(entries))
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": e.ID}).
			SetReplacement(e).
			SetUpsert(true))
	}

	if len(models) > 0 {
		if _, err := s.ledger.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("bulk write: %w", err)}
		}
	}
	res, err := s.ledger.DeleteMany(ctx, bson.M{"_id": bson.M{"$nin": ids}})
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("prune: %w", err)}
	}

	s.logger.Debug("ledger mirrored", "entries", len(entries), "pruned", res.DeletedCount)
	return nil
}

func (s *MongoLedger) AppendArchive(ctx context.Context, entries []types.ArchiveEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = archiveDoc{ID: primitive.NewObjectID(), Entry: e}
	}
	if _, err := s.archive.InsertMany(ctx, docs); err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("insert archive: %w", err)}
	}
	return nil
}

func (s *MongoLedger) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// --- Fan-out ---

// MultiLedger reads from its primary backend and writes to all of them.
// Mirror write failures are logged; only a primary failure is returned.
type MultiLedger struct {
	primary LedgerStore
	mirrors []LedgerStore
	logger  *slog.Logger
}

// NewMultiLedger wraps primary with zero or more mirrors.
func NewMultiLedger(primary LedgerStore, mirrors []LedgerStore, logger *slog.Logger) *MultiLedger {
	return &MultiLedger{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.With("component", "multi_ledger"),
	}
}

func (s *MultiLedger) Name() string { return "multi" }

func (s *MultiLedger) LoadLedger(ctx context.Context) ([]types.LedgerEntry, error) {
	return s.primary.LoadLedger(ctx)
}

func (s *MultiLedger) SaveLedger(ctx context.Context, entries []types.LedgerEntry) error {
	if err := s.primary.SaveLedger(ctx, entries); err != nil {
		return err
	}
	for _, m := range s.mirrors {
		if err := m.SaveLedger(ctx, entries); err != nil {
			s.logger.Error("mirror save failed", "backend", m.Name(), "error", err)
		}
	}
	return nil
}

func (s *MultiLedger) AppendArchive(ctx context.Context, entries []types.ArchiveEntry) error {
	if err := s.primary.AppendArchive(ctx, entries); err != nil {
		return err
	}
	for _, m := range s.mirrors {
		if err := m.AppendArchive(ctx, entries); err != nil {
			s.logger.Error("mirror archive failed", "backend", m.Name(), "error", err)
		}
	}
	return nil
}

func (s *MultiLedger) Close() error {
	firstErr := s.primary.Close()
	for _, m := range s.mirrors {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
