package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection        = "users"
	transactionsCollection = "transactions"
)

// MongoStore is the production ledger. Users live in the users collection
// with their processed signatures embedded; records live in transactions
// keyed by deposit signature.
type MongoStore struct {
	client       *mongo.Client
	users        *mongo.Collection
	transactions *mongo.Collection
	now          func() time.Time
}

type userDoc struct {
	ID                 int64          `bson:"_id"`
	SourceAddress      string         `bson:"source_address"`
	DestinationAddress string         `bson:"destination_address"`
	CreatedAt          time.Time      `bson:"created_at"`
	UpdatedAt          time.Time      `bson:"updated_at"`
	Processed          []processedDoc `bson:"processed"`
}

type processedDoc struct {
	Signature string    `bson:"signature"`
	At        time.Time `bson:"at"`
}

type attemptDoc struct {
	Attempt     int       `bson:"attempt"`
	PriorityFee int64     `bson:"priority_fee"`
	Signature   string    `bson:"signature,omitempty"`
	Error       string    `bson:"error,omitempty"`
	At          time.Time `bson:"at"`
}

// recordDoc stores amounts as strings so no precision is lost.
type recordDoc struct {
	Signature          string       `bson:"_id"`
	UserID             int64        `bson:"user_id"`
	Amount             string       `bson:"amount"`
	ExpectedAmount     string       `bson:"expected_amount"`
	Sufficient         bool         `bson:"sufficient"`
	Stage              Stage        `bson:"stage"`
	CreatedAt          time.Time    `bson:"created_at"`
	UpdatedAt          time.Time    `bson:"updated_at"`
	FeeSwapSignature   string       `bson:"fee_swap_signature,omitempty"`
	SwapAttempts       []attemptDoc `bson:"swap_attempts,omitempty"`
	ExchangeOrderID    string       `bson:"exchange_order_id,omitempty"`
	PayinAddress       string       `bson:"payin_address,omitempty"`
	QuotedOutput       string       `bson:"quoted_output,omitempty"`
	BundleID           string       `bson:"bundle_id,omitempty"`
	BundleStatus       string       `bson:"bundle_status,omitempty"`
	LandedSlot         *int64       `bson:"landed_slot,omitempty"`
	TransferSignatures []string     `bson:"transfer_signatures,omitempty"`
	FailureReason      string       `bson:"failure_reason,omitempty"`
}

// OpenMongoStore connects to uri and prepares the collections of database.
func OpenMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:       client,
		users:        db.Collection(usersCollection),
		transactions: db.Collection(transactionsCollection),
		now:          time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "exchange_order_id", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) RegisterUser(ctx context.Context, user *User) error {
	if user == nil || user.ID == 0 {
		return ErrInvalidInput
	}

	now := s.now()
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{
			"$set": bson.M{
				"source_address":      user.SourceAddress,
				"destination_address": user.DestinationAddress,
				"updated_at":          now,
			},
			"$setOnInsert": bson.M{
				"created_at": now,
				"processed":  bson.A{},
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to register user %d: %w", user.ID, err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return doc.toUser(), nil
}

func (s *MongoStore) MarkProcessed(ctx context.Context, userID int64, signature string) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "processed.signature": bson.M{"$ne": signature}},
		bson.M{"$push": bson.M{"processed": processedDoc{Signature: signature, At: s.now()}}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s processed: %w", signature, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if err := s.userExists(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MongoStore) IsProcessed(ctx context.Context, userID int64, signature string) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{
		"_id":       userID,
		"processed": bson.M{"$elemMatch": bson.M{"signature": signature}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", signature, err)
	}
	if n > 0 {
		return true, nil
	}
	if err := s.userExists(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MongoStore) PruneProcessed(ctx context.Context, userID int64, cutoff time.Time) (int, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	stale := 0
	for _, p := range user.Processed {
		if p.At.Before(cutoff) {
			stale++
		}
	}
	if stale == 0 {
		return 0, nil
	}

	_, err = s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"processed": bson.M{"at": bson.M{"$lt": cutoff}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed signatures: %w", err)
	}
	return stale, nil
}

func (s *MongoStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.Signature == "" || !record.Stage.Valid() {
		return ErrInvalidInput
	}

	doc := toRecordDoc(record)
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if _, err := s.transactions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create record %s: %w", record.Signature, err)
	}
	return nil
}

// Advance moves the record in a single conditional update: the filter only
// matches stages from which the transition is allowed.
func (s *MongoStore) Advance(ctx context.Context, signature string, stage Stage, update Update) (*Record, error) {
	if !stage.Valid() {
		return nil, ErrInvalidInput
	}

	set := bson.M{"stage": stage, "updated_at": s.now()}
	if update.FeeSwapSignature != "" {
		set["fee_swap_signature"] = update.FeeSwapSignature
	}
	if update.ExchangeOrderID != "" {
		set["exchange_order_id"] = update.ExchangeOrderID
	}
	if update.PayinAddress != "" {
		set["payin_address"] = update.PayinAddress
	}
	if update.QuotedOutput != "" {
		set["quoted_output"] = update.QuotedOutput
	}
	if update.BundleID != "" {
		set["bundle_id"] = update.BundleID
	}
	if update.BundleStatus != "" {
		set["bundle_status"] = update.BundleStatus
	}
	if update.LandedSlot != nil {
		set["landed_slot"] = int64(*update.LandedSlot)
	}
	if len(update.TransferSignatures) > 0 {
		set["transfer_signatures"] = update.TransferSignatures
	}
	if update.FailureReason != "" {
		set["failure_reason"] = update.FailureReason
	}

	change := bson.M{"$set": set}
	if update.Attempt != nil {
		change["$push"] = bson.M{"swap_attempts": toAttemptDoc(*update.Attempt)}
	}

	var doc recordDoc
	err := s.transactions.FindOneAndUpdate(ctx,
		bson.M{"_id": signature, "stage": bson.M{"$in": allowedFrom(stage)}},
		change,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toRecord()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to advance %s: %w", signature, err)
	}

	current, err := s.FindBySignature(ctx, signature)
	if err != nil {
		return nil, err
	}
	if current.Stage.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, signature, current.Stage)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Stage, stage)
}

func (s *MongoStore) FindBySignature(ctx context.Context, signature string) (*Record, error) {
	return s.findOne(ctx, bson.M{"_id": signature})
}

func (s *MongoStore) FindByOrderID(ctx context.Context, orderID string) (*Record, error) {
	if orderID == "" {
		return nil, ErrInvalidInput
	}
	return s.findOne(ctx, bson.M{"exchange_order_id": orderID})
}

// FindByUser returns the user's records, newest first.
func (s *MongoStore) FindByUser(ctx context.Context, userID int64) ([]*Record, error) {
	cur, err := s.transactions.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of user %d: %w", userID, err)
	}
	defer cur.Close(ctx)

	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	out := make([]*Record, 0, len(docs))
	for i := range docs {
		r, err := docs[i].toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Record, error) {
	var doc recordDoc
	if err := s.transactions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return doc.toRecord()
}

func (s *MongoStore) userExists(ctx context.Context, userID int64) error {
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return fmt.Errorf("failed to look up user %d: %w", userID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *userDoc) toUser() *User {
	u := &User{
		ID:                 d.ID,
		SourceAddress:      d.SourceAddress,
		DestinationAddress: d.DestinationAddress,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	for _, p := range d.Processed {
		u.Processed = append(u.Processed, ProcessedSignature{Signature: p.Signature, At: p.At})
	}
	return u
}

func toAttemptDoc(a SwapAttempt) attemptDoc {
	return attemptDoc{
		Attempt:     a.Attempt,
		PriorityFee: int64(a.PriorityFee),
		Signature:   a.Signature,
		Error:       a.Error,
		At:          a.At,
	}
}

func toRecordDoc(r *Record) *recordDoc {
	d := &recordDoc{
		Signature:          r.Signature,
		UserID:             r.UserID,
		Amount:             r.Amount.String(),
		ExpectedAmount:     r.ExpectedAmount.String(),
		Sufficient:         r.Sufficient,
		Stage:              r.Stage,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		FeeSwapSignature:   r.FeeSwapSignature,
		ExchangeOrderID:    r.ExchangeOrderID,
		PayinAddress:       r.PayinAddress,
		QuotedOutput:       r.QuotedOutput,
		BundleID:           r.BundleID,
		BundleStatus:       r.BundleStatus,
		TransferSignatures: r.TransferSignatures,
		FailureReason:      r.FailureReason,
	}
	for _, a := range r.SwapAttempts {
		d.SwapAttempts = append(d.SwapAttempts, toAttemptDoc(a))
	}
	if r.LandedSlot != nil {
		slot := int64(*r.LandedSlot)
		d.LandedSlot = &slot
	}
	return d
}

func (d *recordDoc) toRecord() (*Record, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("record %s: invalid amount %q: %w", d.Signature, d.Amount, err)
	}
	expected, err := decimal.NewFromString(d.ExpectedAmount)
	if err != nil {
		return nil, fmt.Errorf("record %s: invalid expected amount %q: %w", d.Signature, d.ExpectedAmount, err)
	}

	r := &Record{
		Signature:          d.Signature,
		UserID:             d.UserID,
		Amount:             amount,
		ExpectedAmount:     expected,
		Sufficient:         d.Sufficient,
		Stage:              d.Stage,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		FeeSwapSignature:   d.FeeSwapSignature,
		ExchangeOrderID:    d.ExchangeOrderID,
		PayinAddress:       d.PayinAddress,
		QuotedOutput:       d.QuotedOutput,
		BundleID:           d.BundleID,
		BundleStatus:       d.BundleStatus,
		TransferSignatures: d.TransferSignatures,
		FailureReason:      d.FailureReason,
	}
	for _, a := range d.SwapAttempts {
		r.SwapAttempts = append(r.SwapAttempts, SwapAttempt{
			Attempt:     a.Attempt,
			PriorityFee: uint64(a.PriorityFee),
			Signature:   a.Signature,
			Error:       a.Error,
			At:          a.At,
		})
	}
	if d.LandedSlot != nil {
		slot := uint64(*d.LandedSlot)
		r.LandedSlot = &slot
	}
	return r, nil
}
