package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	CollUsers         = "usuarios"
	CollLots          = "parqueaderos"
	CollSubscriptions = "suscripciones"
	CollReports       = "reportes_parqueaderos"
	CollConversation  = "mensajes_conversacion"
	CollInbound       = "mensajes"
	CollEmbeddings    = "parqueaderos_embeddings"
)

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

// NewMongoStore connects with exponential backoff for up to 30s.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout).
		SetMaxPoolSize(100)

	var client *mongo.Client
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		c, err := mongo.Connect(ctx, clientOptions)
		if err != nil {
			slog.Warn("mongodb connect failed", "error", err)
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := c.Ping(pingCtx, nil); err != nil {
			slog.Warn("mongodb ping failed", "error", err)
			c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(retry, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	slog.Info("mongodb connected", "database", cfg.Database)
	return &MongoStore{
		client:  client,
		db:      client.Database(cfg.Database),
		timeout: cfg.Timeout,
	}, nil
}

func (s *MongoStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Init ensures the collection indexes.
func (s *MongoStore) Init(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		CollConversation: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "activo", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("user_activo_timestamp_idx"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("user_timestamp_idx"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetName("user_idx"),
			},
		},
		CollLots: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetName("name_unique_idx").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "tiene_cupos", Value: 1}, {Key: "ultima_actualizacion", Value: -1}},
				Options: options.Index().SetName("disponibles_idx"),
			},
		},
		CollUsers: {
			{
				Keys:    bson.D{{Key: "codigo_referido", Value: 1}},
				Options: options.Index().SetName("codigo_referido_idx").SetUnique(true).SetSparse(true),
			},
		},
		CollSubscriptions: {
			{
				Keys:    bson.D{{Key: "conductor_id", Value: 1}, {Key: "activa", Value: 1}},
				Options: options.Index().SetName("conductor_activa_idx"),
			},
			{
				Keys:    bson.D{{Key: "parqueadero_id", Value: 1}, {Key: "activa", Value: 1}},
				Options: options.Index().SetName("parqueadero_activa_idx"),
			},
		},
		CollReports: {
			{
				Keys:    bson.D{{Key: "parqueadero_id", Value: 1}, {Key: "procesado", Value: 1}},
				Options: options.Index().SetName("parqueadero_procesado_idx"),
			},
			{
				Keys:    bson.D{{Key: "conductor_id", Value: 1}, {Key: "procesado", Value: 1}},
				Options: options.Index().SetName("conductor_procesado_idx"),
			},
		},
	}

	for name, models := range indexes {
		ctx, cancel := s.opCtx(ctx)
		_, err := s.coll(name).Indexes().CreateMany(ctx, models)
		cancel()
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
		slog.Info("indexes ensured", "collection", name, "count", len(models))
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, coll string, filter any, out any, opts ...*options.FindOneOptions) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	err := s.coll(coll).FindOne(ctx, filter, opts...).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func findAll[T any](ctx context.Context, s *MongoStore, coll string, filter any, opts ...*options.FindOptions) ([]T, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cursor, err := s.coll(coll).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) insert(ctx context.Context, coll string, doc any) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.coll(coll).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (s *MongoStore) replace(ctx context.Context, coll, id string, doc any) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.coll(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) updateMany(ctx context.Context, coll string, filter, update any) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.coll(coll).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (s *MongoStore) count(ctx context.Context, coll string, filter any) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	n, err := s.coll(coll).CountDocuments(ctx, filter)
	return int(n), err
}

// --- users ---

func (s *MongoStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.findOne(ctx, CollUsers, bson.M{"_id": id}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u *User) error {
	if err := s.insert(ctx, CollUsers, u); err != nil {
		return fmt.Errorf("user %s: %w", u.ID, err)
	}
	return nil
}

func (s *MongoStore) UpdateUser(ctx context.Context, u *User) error {
	return s.replace(ctx, CollUsers, u.ID, u)
}

func (s *MongoStore) FindUserByReferralCode(ctx context.Context, code string) (*User, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	var u User
	if err := s.findOne(ctx, CollUsers, bson.M{"codigo_referido": code}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MongoStore) ListExpiredPremium(ctx context.Context, now time.Time) ([]User, error) {
	return findAll[User](ctx, s, CollUsers, bson.M{
		"es_premium":               true,
		"fecha_expiracion_premium": bson.M{"$lt": now},
	}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

// --- lots ---

func (s *MongoStore) GetLot(ctx context.Context, id string) (*Lot, error) {
	var l Lot
	if err := s.findOne(ctx, CollLots, bson.M{"_id": id}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *MongoStore) FindLotByName(ctx context.Context, name string) (*Lot, error) {
	var l Lot
	if err := s.findOne(ctx, CollLots, bson.M{"name": name}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *MongoStore) CreateLot(ctx context.Context, l *Lot) error {
	if err := s.insert(ctx, CollLots, l); err != nil {
		return fmt.Errorf("lot %q: %w", l.Name, err)
	}
	return nil
}

func (s *MongoStore) UpdateLot(ctx context.Context, l *Lot) error {
	return s.replace(ctx, CollLots, l.ID, l)
}

func (s *MongoStore) ListLots(ctx context.Context) ([]Lot, error) {
	return findAll[Lot](ctx, s, CollLots, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (s *MongoStore) ListAvailableLots(ctx context.Context) ([]Lot, error) {
	return findAll[Lot](ctx, s, CollLots, bson.M{"tiene_cupos": true},
		options.Find().SetSort(bson.D{{Key: "ultima_actualizacion", Value: -1}, {Key: "name", Value: 1}}))
}

// --- subscriptions ---

// lotFilter matches a specific lot, or the all-lots subscription when lotID is
// empty. Older documents store the all-lots subscription with a null lot.
func lotFilter(lotID string) any {
	if lotID == "" {
		return bson.M{"$in": bson.A{"", nil}}
	}
	return lotID
}

func (s *MongoStore) FindActiveSubscription(ctx context.Context, driverID, lotID string) (*Subscription, error) {
	var sub Subscription
	err := s.findOne(ctx, CollSubscriptions, bson.M{
		"conductor_id":   driverID,
		"parqueadero_id": lotFilter(lotID),
		"activa":         true,
	}, &sub, options.FindOne().SetSort(bson.D{{Key: "fecha_suscripcion", Value: -1}}))
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *MongoStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	return s.insert(ctx, CollSubscriptions, sub)
}

func (s *MongoStore) DeactivateSubscription(ctx context.Context, driverID, lotID string) (bool, error) {
	n, err := s.updateMany(ctx, CollSubscriptions, bson.M{
		"conductor_id":   driverID,
		"parqueadero_id": lotFilter(lotID),
		"activa":         true,
	}, bson.M{"$set": bson.M{"activa": false}})
	return n > 0, err
}

func (s *MongoStore) DeactivateAllSubscriptions(ctx context.Context, driverID string) (int, error) {
	return s.updateMany(ctx, CollSubscriptions, bson.M{"conductor_id": driverID, "activa": true},
		bson.M{"$set": bson.M{"activa": false}})
}

func (s *MongoStore) ListActiveSubscriptions(ctx context.Context, driverID string) ([]Subscription, error) {
	return findAll[Subscription](ctx, s, CollSubscriptions, bson.M{"conductor_id": driverID, "activa": true},
		options.Find().SetSort(bson.D{{Key: "fecha_suscripcion", Value: 1}}))
}

func (s *MongoStore) ListLotSubscribers(ctx context.Context, lotID string) ([]Subscription, error) {
	return findAll[Subscription](ctx, s, CollSubscriptions, bson.M{
		"activa":         true,
		"parqueadero_id": bson.M{"$in": bson.A{lotID, "", nil}},
	}, options.Find().SetSort(bson.D{{Key: "fecha_suscripcion", Value: 1}}))
}

// --- reports ---

func (s *MongoStore) CreateReport(ctx context.Context, r *Report) error {
	return s.insert(ctx, CollReports, r)
}

func (s *MongoStore) HasPendingReport(ctx context.Context, lotID, driverID string) (bool, error) {
	n, err := s.count(ctx, CollReports, bson.M{"parqueadero_id": lotID, "conductor_id": driverID, "procesado": false})
	return n > 0, err
}

func (s *MongoStore) CountPendingReports(ctx context.Context, lotID string) (int, error) {
	return s.count(ctx, CollReports, bson.M{"parqueadero_id": lotID, "procesado": false})
}

func (s *MongoStore) ListPendingReportsByDriver(ctx context.Context, driverID string) ([]Report, error) {
	return findAll[Report](ctx, s, CollReports, bson.M{"conductor_id": driverID, "procesado": false},
		options.Find().SetSort(bson.D{{Key: "fecha_reporte", Value: 1}}))
}

func (s *MongoStore) MarkReportsProcessed(ctx context.Context, lotID string) (int, error) {
	return s.updateMany(ctx, CollReports, bson.M{"parqueadero_id": lotID, "procesado": false},
		bson.M{"$set": bson.M{"procesado": true}})
}

func (s *MongoStore) DeleteReports(ctx context.Context, lotID string) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.coll(CollReports).DeleteMany(ctx, bson.M{"parqueadero_id": lotID})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// --- conversation ---

var newestFirst = bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}

func (s *MongoStore) AppendMessage(ctx context.Context, m *ConversationMessage) error {
	return s.insert(ctx, CollConversation, m)
}

func (s *MongoStore) RecentMessages(ctx context.Context, userID string, n int) ([]ConversationMessage, error) {
	msgs, err := findAll[ConversationMessage](ctx, s, CollConversation, bson.M{"user_id": userID, "activo": true},
		options.Find().SetSort(newestFirst).SetLimit(int64(n)))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MongoStore) ClearConversation(ctx context.Context, userID string) (int, error) {
	return s.updateMany(ctx, CollConversation, bson.M{"user_id": userID, "activo": true},
		bson.M{"$set": bson.M{"activo": false}})
}

func (s *MongoStore) CountMessages(ctx context.Context, userID string, activeOnly bool) (int, error) {
	filter := bson.M{"user_id": userID}
	if activeOnly {
		filter["activo"] = true
	}
	return s.count(ctx, CollConversation, filter)
}

func (s *MongoStore) messageIDs(ctx context.Context, userID string, active bool, limit int) (bson.A, error) {
	msgs, err := findAll[ConversationMessage](ctx, s, CollConversation, bson.M{"user_id": userID, "activo": active},
		options.Find().SetSort(newestFirst).SetLimit(int64(limit)).SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	ids := make(bson.A, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *MongoStore) DeactivateOlderMessages(ctx context.Context, userID string, keep int) (int, error) {
	keepIDs, err := s.messageIDs(ctx, userID, true, keep)
	if err != nil {
		return 0, err
	}
	return s.updateMany(ctx, CollConversation,
		bson.M{"user_id": userID, "activo": true, "_id": bson.M{"$nin": keepIDs}},
		bson.M{"$set": bson.M{"activo": false}})
}

func (s *MongoStore) ConversationHistory(ctx context.Context, userID string) ([]ConversationMessage, error) {
	return findAll[ConversationMessage](ctx, s, CollConversation, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *MongoStore) ReactivateMessages(ctx context.Context, userID string, n int) (int, error) {
	ids, err := s.messageIDs(ctx, userID, false, n)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.updateMany(ctx, CollConversation, bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"activo": true}})
}

func (s *MongoStore) ListConversationUsers(ctx context.Context, minActive int) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cursor, err := s.coll(CollConversation).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"activo": true}}},
		{{Key: "$group", Value: bson.M{"_id": "$user_id", "n": bson.M{"$sum": 1}}}},
		{{Key: "$match", Value: bson.M{"n": bson.M{"$gt": minActive}}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var groups []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// --- inbound ---

func (s *MongoStore) RecordInbound(ctx context.Context, m InboundMessage) error {
	if err := s.insert(ctx, CollInbound, m); err != nil {
		return fmt.Errorf("inbound %s: %w", m.ID, err)
	}
	return nil
}

// --- embeddings ---

func (s *MongoStore) UpsertEmbedding(ctx context.Context, e *LotEmbedding) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.coll(CollEmbeddings).ReplaceOne(ctx, bson.M{"_id": e.LotID}, e, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) DeleteEmbedding(ctx context.Context, lotID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.coll(CollEmbeddings).DeleteOne(ctx, bson.M{"_id": lotID})
	return err
}

func (s *MongoStore) ListEmbeddings(ctx context.Context) ([]LotEmbedding, error) {
	return findAll[LotEmbedding](ctx, s, CollEmbeddings, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}
