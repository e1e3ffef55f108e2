package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/medcare-service/internal/domain"
)

const (
	identitiesCollection = "identities"
	sessionsCollection   = "refresh_sessions"
)

type identityDocument struct {
	ID                  string     `bson:"_id"`
	Email               string     `bson:"email"`
	PasswordHash        string     `bson:"password_hash"`
	Verify              string     `bson:"verify"`
	Tier                string     `bson:"tier"`
	Name                string     `bson:"name"`
	Bio                 string     `bson:"bio"`
	Location            string     `bson:"location"`
	Phone               string     `bson:"phone"`
	Username            string     `bson:"username"`
	Avatar              string     `bson:"avatar"`
	DateOfBirth         *time.Time `bson:"date_of_birth,omitempty"`
	EmailVerifyToken    *string    `bson:"email_verify_token"`
	ForgotPasswordToken *string    `bson:"forgot_password_token"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

type sessionDocument struct {
	Fingerprint string    `bson:"_id"`
	IdentityID  string    `bson:"identity_id"`
	IssuedAt    time.Time `bson:"issued_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
}

// MongoStore is a CredentialStore on MongoDB. Refresh sessions expire through a TTL index.
type MongoStore struct {
	identities *mongodriver.Collection
	sessions   *mongodriver.Collection
}

// NewMongoStore prepares collections and indexes in db.
func NewMongoStore(ctx context.Context, db *mongodriver.Database) (*MongoStore, error) {
	s := &MongoStore{
		identities: db.Collection(identitiesCollection),
		sessions:   db.Collection(sessionsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.identities.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("uniq_email").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo ensure identity indexes: %w", err)
	}

	_, err = s.sessions.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "identity_id", Value: 1}},
			Options: options.Index().SetName("identity_id"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo ensure session indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateIdentity(ctx context.Context, identity *domain.Identity) error {
	identity.Email = domain.NormalizeEmail(identity.Email)
	if _, err := s.identities.InsertOne(ctx, toIdentityDocument(identity)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *MongoStore) FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return s.findIdentity(ctx, bson.D{{Key: "email", Value: domain.NormalizeEmail(email)}})
}

func (s *MongoStore) FindIdentityByID(ctx context.Context, id string) (*domain.Identity, error) {
	return s.findIdentity(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) findIdentity(ctx context.Context, filter bson.D) (*domain.Identity, error) {
	var doc identityDocument
	if err := s.identities.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) UpdateIdentity(ctx context.Context, id string, update domain.IdentityUpdate) (*domain.Identity, error) {
	filter := bson.D{{Key: "_id", Value: id}}
	if g := update.Guard; g != nil {
		column, err := slotColumn(g.Slot)
		if err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: column, Value: g.Expected})
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc identityDocument
	err := s.identities.FindOneAndUpdate(ctx, filter, identityUpdateDocument(update, time.Now().UTC()), opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			if update.Guard != nil {
				if _, lookupErr := s.FindIdentityByID(ctx, id); lookupErr == nil {
					return nil, domain.ErrAlreadyConsumedOrStale
				}
			}
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func identityUpdateDocument(u domain.IdentityUpdate, now time.Time) bson.D {
	set := bson.D{{Key: "updated_at", Value: now}}
	add := func(key string, value any) { set = append(set, bson.E{Key: key, Value: value}) }

	if u.PasswordHash != nil {
		add("password_hash", *u.PasswordHash)
	}
	if u.Verify != nil {
		add("verify", string(*u.Verify))
	}
	if u.Tier != nil {
		add("tier", string(*u.Tier))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Bio != nil {
		add("bio", *u.Bio)
	}
	if u.Location != nil {
		add("location", *u.Location)
	}
	if u.Phone != nil {
		add("phone", *u.Phone)
	}
	if u.Username != nil {
		add("username", *u.Username)
	}
	if u.Avatar != nil {
		add("avatar", *u.Avatar)
	}
	if u.DateOfBirth != nil {
		add("date_of_birth", u.DateOfBirth.UTC())
	}
	switch {
	case u.ClearEmailVerifyToken:
		add("email_verify_token", nil)
	case u.EmailVerifyToken != nil:
		add("email_verify_token", *u.EmailVerifyToken)
	}
	switch {
	case u.ClearForgotPasswordToken:
		add("forgot_password_token", nil)
	case u.ForgotPasswordToken != nil:
		add("forgot_password_token", *u.ForgotPasswordToken)
	}

	return bson.D{{Key: "$set", Value: set}}
}

func (s *MongoStore) CreateRefreshRecord(ctx context.Context, session domain.RefreshSession) error {
	doc := sessionDocument{
		Fingerprint: session.Fingerprint,
		IdentityID:  session.IdentityID,
		IssuedAt:    session.IssuedAt.UTC(),
		ExpiresAt:   session.ExpiresAt.UTC(),
	}
	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert refresh session: %w", err)
	}
	return nil
}

func (s *MongoStore) FindRefreshRecord(ctx context.Context, fingerprint string) (*domain.RefreshSession, error) {
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, bson.D{{Key: "_id", Value: fingerprint}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.RefreshSession{
		Fingerprint: doc.Fingerprint,
		IdentityID:  doc.IdentityID,
		IssuedAt:    doc.IssuedAt,
		ExpiresAt:   doc.ExpiresAt,
	}, nil
}

func (s *MongoStore) DeleteRefreshRecord(ctx context.Context, fingerprint string) (bool, error) {
	res, err := s.sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: fingerprint}})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

func (s *MongoStore) DeleteAllRefreshRecordsForIdentity(ctx context.Context, identityID string) (int64, error) {
	res, err := s.sessions.DeleteMany(ctx, bson.D{{Key: "identity_id", Value: identityID}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func toIdentityDocument(i *domain.Identity) identityDocument {
	return identityDocument{
		ID:                  i.ID,
		Email:               i.Email,
		PasswordHash:        i.PasswordHash,
		Verify:              string(i.Verify),
		Tier:                string(i.Tier),
		Name:                i.Name,
		Bio:                 i.Bio,
		Location:            i.Location,
		Phone:               i.Phone,
		Username:            i.Username,
		Avatar:              i.Avatar,
		DateOfBirth:         i.DateOfBirth,
		EmailVerifyToken:    i.EmailVerifyToken,
		ForgotPasswordToken: i.ForgotPasswordToken,
		CreatedAt:           i.CreatedAt.UTC(),
		UpdatedAt:           i.UpdatedAt.UTC(),
	}
}

func (d identityDocument) toDomain() *domain.Identity {
	return &domain.Identity{
		ID:                  d.ID,
		Email:               d.Email,
		PasswordHash:        d.PasswordHash,
		Verify:              domain.VerifyStatus(d.Verify),
		Tier:                domain.AccountTier(d.Tier),
		Name:                d.Name,
		Bio:                 d.Bio,
		Location:            d.Location,
		Phone:               d.Phone,
		Username:            d.Username,
		Avatar:              d.Avatar,
		DateOfBirth:         d.DateOfBirth,
		EmailVerifyToken:    d.EmailVerifyToken,
		ForgotPasswordToken: d.ForgotPasswordToken,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}
