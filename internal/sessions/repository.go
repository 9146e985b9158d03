package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements Store using a Mongo collection
type MongoRepository struct {
	col *mongo.Collection
	// set once a transaction attempt proves the deployment is standalone
	noTx atomic.Bool
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the digest lookup index, a subject index and a TTL index
// on expiresAt so Mongo drops expired records on its own.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "subjectId", Value: 1}, {Key: "revoked", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("sessions: ensure indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, rec *RefreshRecord) error {
	if _, err := r.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("sessions: insert record: %w", ErrDuplicate)
		}
		return fmt.Errorf("sessions: insert record: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindActive(ctx context.Context, subjectID, digest string) (*RefreshRecord, error) {
	var rec RefreshRecord
	err := r.col.FindOne(ctx, bson.M{"subjectId": subjectID, "tokenHash": digest, "revoked": false}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: find active: %w", err)
	}
	return &rec, nil
}

func (r *MongoRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "revoked": false}, bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		return fmt.Errorf("sessions: revoke: %w", err)
	}
	return nil
}

func (r *MongoRepository) RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	res, err := r.col.UpdateMany(ctx, bson.M{"subjectId": subjectID, "revoked": false}, bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		return 0, fmt.Errorf("sessions: revoke all: %w", err)
	}
	return res.ModifiedCount, nil
}

// Rotate runs revoke+insert in a transaction on replica sets. Standalone
// servers fall back to revoke-then-insert: a crash in between leaves the
// subject with zero active records, never two.
func (r *MongoRepository) Rotate(ctx context.Context, oldID string, next *RefreshRecord) error {
	if !r.noTx.Load() {
		err := r.rotateTx(ctx, oldID, next)
		if !isTxUnsupported(err) {
			return err
		}
		r.noTx.Store(true)
	}
	if err := r.revokeActive(ctx, oldID); err != nil {
		return err
	}
	return r.Create(ctx, next)
}

func (r *MongoRepository) rotateTx(ctx context.Context, oldID string, next *RefreshRecord) error {
	sess, err := r.col.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("sessions: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := r.revokeActive(sc, oldID); err != nil {
			return nil, err
		}
		return nil, r.Create(sc, next)
	})
	return err
}

func (r *MongoRepository) revokeActive(ctx context.Context, id string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "revoked": false}, bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		return fmt.Errorf("sessions: conditional revoke: %w", err)
	}
	if res.ModifiedCount == 0 {
		return ErrNotActive
	}
	return nil
}

func (r *MongoRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("sessions: delete expired: %w", err)
	}
	return res.DeletedCount, nil
}

// isTxUnsupported reports the IllegalOperation error standalone servers return for transactions.
func isTxUnsupported(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Code == 20
	}
	return false
}
