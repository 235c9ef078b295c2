package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/videotube/internal/common"
	"github.com/dmitrijs2005/videotube/internal/server/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersCollection is the MongoDB collection holding account documents.
const UsersCollection = "users"

type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(UsersCollection)}
}

// EnsureIndexes creates the unique username and email indexes that make
// the collection authoritative for account uniqueness.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("mongo error: %w", err)
	}
	return nil
}

func mongoErr(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return common.ErrorNotFound
	case mongo.IsDuplicateKeyError(err):
		return common.ErrorAlreadyExists
	default:
		return fmt.Errorf("mongo error: %w", err)
	}
}

func (r *MongoRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	a := *account
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}
	a.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	a.UpdatedAt = a.CreatedAt

	if _, err := r.coll.InsertOne(ctx, &a); err != nil {
		return nil, mongoErr(err)
	}
	return &a, nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter any) (*models.Account, error) {
	a := &models.Account{}
	if err := r.coll.FindOne(ctx, filter).Decode(a); err != nil {
		return nil, mongoErr(err)
	}
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}
	return a, nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error) {
	var or bson.A
	if username != "" {
		or = append(or, bson.M{"username": username})
	}
	if email != "" {
		or = append(or, bson.M{"email": email})
	}
	if len(or) == 0 {
		return nil, common.ErrorNotFound
	}
	return r.findOne(ctx, bson.M{"$or": or})
}

// updateOne applies update to the document matching filter and maps a
// zero match count to noMatch.
func (r *MongoRepository) updateOne(ctx context.Context, filter, update bson.M, noMatch error) error {
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return mongoErr(err)
	}
	if res.MatchedCount == 0 {
		return noMatch
	}
	return nil
}

func setWithTimestamp(fields bson.M) bson.M {
	fields["updatedAt"] = time.Now().UTC()
	return bson.M{"$set": fields}
}

func (r *MongoRepository) SetRefreshToken(ctx context.Context, id, token string) error {
	return r.updateOne(ctx, bson.M{"_id": id},
		setWithTimestamp(bson.M{"refreshToken": token}), common.ErrorNotFound)
}

func (r *MongoRepository) RotateRefreshToken(ctx context.Context, id, current, next string) error {
	if current == "" {
		return common.ErrorRefreshTokenMismatch
	}
	return r.updateOne(ctx, bson.M{"_id": id, "refreshToken": current},
		setWithTimestamp(bson.M{"refreshToken": next}), common.ErrorRefreshTokenMismatch)
}

func (r *MongoRepository) ClearRefreshToken(ctx context.Context, id string) error {
	return r.updateOne(ctx, bson.M{"_id": id}, bson.M{
		"$unset": bson.M{"refreshToken": ""},
		"$set":   bson.M{"updatedAt": time.Now().UTC()},
	}, common.ErrorNotFound)
}

func (r *MongoRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.updateOne(ctx, bson.M{"_id": id},
		setWithTimestamp(bson.M{"password": passwordHash}), common.ErrorNotFound)
}

func (r *MongoRepository) findOneAndSet(ctx context.Context, id string, fields bson.M) (*models.Account, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	a := &models.Account{}
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, setWithTimestamp(fields), opts).Decode(a)
	if err != nil {
		return nil, mongoErr(err)
	}
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}
	return a, nil
}

func (r *MongoRepository) UpdateDetails(ctx context.Context, id, fullName, email string) (*models.Account, error) {
	fields := bson.M{}
	if fullName != "" {
		fields["fullName"] = fullName
	}
	if email != "" {
		fields["email"] = email
	}
	return r.findOneAndSet(ctx, id, fields)
}

func (r *MongoRepository) UpdateAvatar(ctx context.Context, id, url string) (*models.Account, error) {
	return r.findOneAndSet(ctx, id, bson.M{"avatar": url})
}

func (r *MongoRepository) UpdateCoverImage(ctx context.Context, id, url string) (*models.Account, error) {
	return r.findOneAndSet(ctx, id, bson.M{"coverImage": url})
}

func (r *MongoRepository) WatchHistory(ctx context.Context, id string) ([]string, error) {
	opts := options.FindOne().SetProjection(bson.M{"watchHistory": 1})

	var doc struct {
		WatchHistory []string `bson:"watchHistory"`
	}
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc); err != nil {
		return nil, mongoErr(err)
	}
	if doc.WatchHistory == nil {
		return []string{}, nil
	}
	return doc.WatchHistory, nil
}
