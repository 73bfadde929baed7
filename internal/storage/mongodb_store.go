package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cardflow/gateway/internal/payment"
)

// MongoDBStore implements Store on MongoDB. The version field on the payment
// document is the authoritative concurrency guard; the history append follows
// the guarded update, so a crash between the two can lose at most the history
// row of the last committed transition.
type MongoDBStore struct {
	client       *mongo.Client
	payments     *mongo.Collection
	transitions  *mongo.Collection
	archive      *mongo.Collection
	transactions *mongo.Collection
	webhooks     *mongo.Collection
	counters     *mongo.Collection
}

// NewMongoDBStore connects to MongoDB and prepares indexes.
func NewMongoDBStore(uri, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if database == "" {
		database = "gateway"
	}
	db := client.Database(database)
	s := &MongoDBStore{
		client:       client,
		payments:     db.Collection("payments"),
		transitions:  db.Collection("payment_state_transitions"),
		archive:      db.Collection("payment_state_transitions_archive"),
		transactions: db.Collection("bank_transactions"),
		webhooks:     db.Collection("webhook_queue"),
		counters:     db.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoDBStore) ensureIndexes(ctx context.Context) error {
	_, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "teamId", Value: 1}, {Key: "orderId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}}},
		{Keys: bson.D{{Key: "teamId", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create payment indexes: %w", err)
	}

	_, err = s.transitions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "paymentId", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create transition index: %w", err)
	}

	_, err = s.webhooks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextAttemptAt", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create webhook index: %w", err)
	}
	return nil
}

// nextSeq increments and returns a named monotonic counter.
func (s *MongoDBStore) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s seq: %w", name, err)
	}
	return doc.Value, nil
}

type mongoPayment struct {
	ID              string            `bson:"_id"`
	TeamID          string            `bson:"teamId"`
	OrderID         string            `bson:"orderId"`
	Amount          int64             `bson:"amount"`
	Currency        string            `bson:"currency"`
	PayType         string            `bson:"payType"`
	Description     string            `bson:"description"`
	CustomerKey     string            `bson:"customerKey"`
	Recurrent       bool              `bson:"recurrent"`
	Language        string            `bson:"language"`
	SuccessURL      string            `bson:"successUrl"`
	FailURL         string            `bson:"failUrl"`
	NotificationURL string            `bson:"notificationUrl"`
	PaymentExpiry   int               `bson:"paymentExpiry"`
	CreatedAt       time.Time         `bson:"createdAt"`
	ExpiresAt       *time.Time        `bson:"expiresAt,omitempty"`
	Status          string            `bson:"status"`
	ErrorCode       string            `bson:"errorCode"`
	Message         string            `bson:"message"`
	AttemptCount    int               `bson:"attemptCount"`
	MaxAttempts     int               `bson:"maxAttempts"`
	RefundedAmount  int64             `bson:"refundedAmount"`
	Data            map[string]string `bson:"data,omitempty"`
	Version         int64             `bson:"version"`
}

func toMongoPayment(p payment.Payment) mongoPayment {
	doc := mongoPayment{
		ID: p.ID, TeamID: p.TeamID, OrderID: p.OrderID,
		Amount: p.Amount, Currency: p.Currency, PayType: string(p.PayType),
		Description: p.Description, CustomerKey: p.CustomerKey,
		Recurrent: p.Recurrent, Language: p.Language,
		SuccessURL: p.SuccessURL, FailURL: p.FailURL, NotificationURL: p.NotificationURL,
		PaymentExpiry: p.PaymentExpiry, CreatedAt: p.CreatedAt,
		Status: string(p.Status), ErrorCode: p.ErrorCode, Message: p.Message,
		AttemptCount: p.AttemptCount, MaxAttempts: p.MaxAttempts,
		RefundedAmount: p.RefundedAmount, Data: p.Data, Version: p.Version,
	}
	if !p.ExpiresAt.IsZero() {
		t := p.ExpiresAt
		doc.ExpiresAt = &t
	}
	return doc
}

func (doc mongoPayment) toPayment() payment.Payment {
	p := payment.Payment{
		ID: doc.ID, TeamID: doc.TeamID, OrderID: doc.OrderID,
		Amount: doc.Amount, Currency: doc.Currency, PayType: payment.PayType(doc.PayType),
		Description: doc.Description, CustomerKey: doc.CustomerKey,
		Recurrent: doc.Recurrent, Language: doc.Language,
		SuccessURL: doc.SuccessURL, FailURL: doc.FailURL, NotificationURL: doc.NotificationURL,
		PaymentExpiry: doc.PaymentExpiry, CreatedAt: doc.CreatedAt,
		Status: payment.Status(doc.Status), ErrorCode: doc.ErrorCode, Message: doc.Message,
		AttemptCount: doc.AttemptCount, MaxAttempts: doc.MaxAttempts,
		RefundedAmount: doc.RefundedAmount, Data: doc.Data, Version: doc.Version,
	}
	if doc.ExpiresAt != nil {
		p.ExpiresAt = *doc.ExpiresAt
	}
	return p
}

type mongoTransition struct {
	Seq        int64     `bson:"seq"`
	PaymentID  string    `bson:"paymentId"`
	FromStatus string    `bson:"fromStatus"`
	ToStatus   string    `bson:"toStatus"`
	Timestamp  time.Time `bson:"ts"`
	Actor      string    `bson:"actor"`
	Reason     string    `bson:"reason"`
	ErrorCode  string    `bson:"errorCode"`
	Message    string    `bson:"message"`
}

// CreatePayment inserts a new payment, enforcing both uniqueness contracts.
func (s *MongoDBStore) CreatePayment(ctx context.Context, p payment.Payment) error {
	_, err := s.payments.InsertOne(ctx, toMongoPayment(p))
	if mongo.IsDuplicateKeyError(err) {
		// _id collision means the generated paymentId repeated; otherwise the
		// (teamId, orderId) unique index fired.
		if we, ok := err.(mongo.WriteException); ok {
			for _, e := range we.WriteErrors {
				if e.Code == 11000 && strings.Contains(e.Message, "_id_") {
					return ErrDuplicateID
				}
			}
		}
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPayment returns a payment by its gateway identifier.
func (s *MongoDBStore) GetPayment(ctx context.Context, paymentID string) (payment.Payment, error) {
	var doc mongoPayment
	err := s.payments.FindOne(ctx, bson.M{"_id": paymentID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return payment.Payment{}, ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, fmt.Errorf("query payment: %w", err)
	}
	return doc.toPayment(), nil
}

// GetPaymentByOrderID returns a payment by the merchant's order identifier.
func (s *MongoDBStore) GetPaymentByOrderID(ctx context.Context, teamID, orderID string) (payment.Payment, error) {
	var doc mongoPayment
	err := s.payments.FindOne(ctx, bson.M{"teamId": teamID, "orderId": orderID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return payment.Payment{}, ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, fmt.Errorf("query payment by order: %w", err)
	}
	return doc.toPayment(), nil
}

// UpdatePayment replaces the document guarded by the version field, then
// appends the history entry.
func (s *MongoDBStore) UpdatePayment(ctx context.Context, p *payment.Payment, tr payment.Transition) error {
	next := *p
	next.Version = p.Version + 1

	res, err := s.payments.ReplaceOne(ctx,
		bson.M{"_id": p.ID, "version": p.Version},
		toMongoPayment(next),
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := s.payments.CountDocuments(ctx, bson.M{"_id": p.ID})
		if err != nil {
			return fmt.Errorf("check payment existence: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	seq, err := s.nextSeq(ctx, "transitions")
	if err != nil {
		return err
	}
	_, err = s.transitions.InsertOne(ctx, mongoTransition{
		Seq: seq, PaymentID: tr.PaymentID,
		FromStatus: string(tr.FromStatus), ToStatus: string(tr.ToStatus),
		Timestamp: tr.Timestamp, Actor: tr.Actor, Reason: tr.Reason,
		ErrorCode: tr.ErrorCode, Message: tr.Message,
	})
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}

	p.Version++
	return nil
}

// ListTransitions returns the payment's history in append order.
func (s *MongoDBStore) ListTransitions(ctx context.Context, paymentID string) ([]payment.Transition, error) {
	cursor, err := s.transitions.Find(ctx,
		bson.M{"paymentId": paymentID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []payment.Transition
	for cursor.Next(ctx) {
		var doc mongoTransition
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode transition: %w", err)
		}
		out = append(out, payment.Transition{
			PaymentID:  doc.PaymentID,
			FromStatus: payment.Status(doc.FromStatus),
			ToStatus:   payment.Status(doc.ToStatus),
			Timestamp:  doc.Timestamp,
			Actor:      doc.Actor,
			Reason:     doc.Reason,
			ErrorCode:  doc.ErrorCode,
			Message:    doc.Message,
		})
	}
	return out, cursor.Err()
}

// ArchiveTransitions moves history of terminal payments past the cutoff into
// the archive collection.
func (s *MongoDBStore) ArchiveTransitions(ctx context.Context, olderThan time.Time) (int64, error) {
	terminal := []string{
		string(payment.StatusCancelled), string(payment.StatusDeadlineExpired),
		string(payment.StatusExpired), string(payment.StatusRejected),
		string(payment.StatusReversed), string(payment.StatusPartialReversed),
		string(payment.StatusRefunded), string(payment.StatusPartialRefunded),
	}

	cursor, err := s.payments.Find(ctx,
		bson.M{"status": bson.M{"$in": terminal}},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return 0, fmt.Errorf("query terminal payments: %w", err)
	}
	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return 0, fmt.Errorf("decode payment id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	cursor.Close(ctx)
	if err := cursor.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	filter := bson.M{"paymentId": bson.M{"$in": ids}, "ts": bson.M{"$lt": olderThan}}
	old, err := s.transitions.Find(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("query archivable transitions: %w", err)
	}
	var docs []any
	for old.Next(ctx) {
		var doc mongoTransition
		if err := old.Decode(&doc); err != nil {
			old.Close(ctx)
			return 0, fmt.Errorf("decode transition: %w", err)
		}
		docs = append(docs, doc)
	}
	old.Close(ctx)
	if err := old.Err(); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if _, err := s.archive.InsertMany(ctx, docs); err != nil {
		return 0, fmt.Errorf("insert archive: %w", err)
	}
	res, err := s.transitions.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete archived transitions: %w", err)
	}
	return res.DeletedCount, nil
}

// ExpiredCandidates returns payments past their deadline, oldest first.
func (s *MongoDBStore) ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]payment.Payment, error) {
	expirable := make([]string, len(expirableStatuses))
	for i, st := range expirableStatuses {
		expirable[i] = string(st)
	}

	cursor, err := s.payments.Find(ctx,
		bson.M{
			"status":    bson.M{"$in": expirable},
			"expiresAt": bson.M{"$lte": now},
		},
		options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired candidates: %w", err)
	}
	defer cursor.Close(ctx)

	var out []payment.Payment
	for cursor.Next(ctx) {
		var doc mongoPayment
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		out = append(out, doc.toPayment())
	}
	return out, cursor.Err()
}

// DailyStats aggregates the team's settled amount and created count.
func (s *MongoDBStore) DailyStats(ctx context.Context, teamID string, dayStart, dayEnd time.Time) (int64, int, error) {
	settled := make([]string, len(settledStatuses))
	for i, st := range settledStatuses {
		settled[i] = string(st)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"teamId":    teamID,
			"createdAt": bson.M{"$gte": dayStart, "$lt": dayEnd},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": 1},
			"total": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$in": bson.A{"$status", settled}}, "$amount", 0,
			}}},
		}}},
	}

	cursor, err := s.payments.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("aggregate daily stats: %w", err)
	}
	defer cursor.Close(ctx)

	var doc struct {
		Count int   `bson:"count"`
		Total int64 `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&doc); err != nil {
			return 0, 0, fmt.Errorf("decode daily stats: %w", err)
		}
	}
	return doc.Total, doc.Count, cursor.Err()
}

type mongoTransaction struct {
	ID            string     `bson:"_id"`
	PaymentID     string     `bson:"paymentId"`
	Type          string     `bson:"type"`
	Status        string     `bson:"status"`
	Amount        int64      `bson:"amount"`
	ExternalRef   string     `bson:"externalRef"`
	AttemptNumber int        `bson:"attemptNumber"`
	NextRetryAt   *time.Time `bson:"nextRetryAt,omitempty"`
	FraudScore    int        `bson:"fraudScore"`
	CreatedAt     time.Time  `bson:"createdAt"`
}

// RecordTransaction appends one bank interaction record.
func (s *MongoDBStore) RecordTransaction(ctx context.Context, tx payment.Transaction) error {
	if tx.ID == "" {
		tx.ID = "txn_" + uuid.NewString()
	}
	doc := mongoTransaction{
		ID: tx.ID, PaymentID: tx.PaymentID, Type: string(tx.Type), Status: tx.Status,
		Amount: tx.Amount, ExternalRef: tx.ExternalRef, AttemptNumber: tx.AttemptNumber,
		FraudScore: tx.FraudScore, CreatedAt: tx.CreatedAt,
	}
	if !tx.NextRetryAt.IsZero() {
		t := tx.NextRetryAt
		doc.NextRetryAt = &t
	}
	if _, err := s.transactions.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the payment's bank log in append order.
func (s *MongoDBStore) ListTransactions(ctx context.Context, paymentID string) ([]payment.Transaction, error) {
	cursor, err := s.transactions.Find(ctx,
		bson.M{"paymentId": paymentID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []payment.Transaction
	for cursor.Next(ctx) {
		var doc mongoTransaction
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		tx := payment.Transaction{
			ID: doc.ID, PaymentID: doc.PaymentID, Type: payment.TransactionType(doc.Type),
			Status: doc.Status, Amount: doc.Amount, ExternalRef: doc.ExternalRef,
			AttemptNumber: doc.AttemptNumber, FraudScore: doc.FraudScore, CreatedAt: doc.CreatedAt,
		}
		if doc.NextRetryAt != nil {
			tx.NextRetryAt = *doc.NextRetryAt
		}
		out = append(out, tx)
	}
	return out, cursor.Err()
}

type mongoWebhook struct {
	ID            string            `bson:"_id"`
	Seq           int64             `bson:"seq"`
	PaymentID     string            `bson:"paymentId"`
	URL           string            `bson:"url"`
	Payload       []byte            `bson:"payload"`
	Headers       map[string]string `bson:"headers,omitempty"`
	EventType     string            `bson:"eventType"`
	Status        string            `bson:"status"`
	Attempts      int               `bson:"attempts"`
	MaxAttempts   int               `bson:"maxAttempts"`
	LastError     string            `bson:"lastError"`
	LastAttemptAt *time.Time        `bson:"lastAttemptAt,omitempty"`
	NextAttemptAt *time.Time        `bson:"nextAttemptAt,omitempty"`
	CreatedAt     time.Time         `bson:"createdAt"`
	CompletedAt   *time.Time        `bson:"completedAt,omitempty"`
}

func (doc mongoWebhook) toWebhook() PendingWebhook {
	w := PendingWebhook{
		ID: doc.ID, Seq: doc.Seq, PaymentID: doc.PaymentID, URL: doc.URL,
		Payload: json.RawMessage(doc.Payload), Headers: doc.Headers,
		EventType: doc.EventType, Status: WebhookStatus(doc.Status),
		Attempts: doc.Attempts, MaxAttempts: doc.MaxAttempts, LastError: doc.LastError,
		CreatedAt: doc.CreatedAt, CompletedAt: doc.CompletedAt,
	}
	if doc.LastAttemptAt != nil {
		w.LastAttemptAt = *doc.LastAttemptAt
	}
	if doc.NextAttemptAt != nil {
		w.NextAttemptAt = *doc.NextAttemptAt
	}
	return w
}

// EnqueueWebhook adds a webhook to the queue and returns its ID.
func (s *MongoDBStore) EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error) {
	if webhook.ID == "" {
		webhook.ID = "wh_" + uuid.NewString()
	}
	if webhook.Status == "" {
		webhook.Status = WebhookStatusPending
	}
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}
	seq, err := s.nextSeq(ctx, "webhooks")
	if err != nil {
		return "", err
	}

	doc := mongoWebhook{
		ID: webhook.ID, Seq: seq, PaymentID: webhook.PaymentID, URL: webhook.URL,
		Payload: []byte(webhook.Payload), Headers: webhook.Headers,
		EventType: webhook.EventType, Status: string(webhook.Status),
		Attempts: webhook.Attempts, MaxAttempts: webhook.MaxAttempts,
		LastError: webhook.LastError, CreatedAt: webhook.CreatedAt,
	}
	if !webhook.NextAttemptAt.IsZero() {
		t := webhook.NextAttemptAt
		doc.NextAttemptAt = &t
	}
	if _, err := s.webhooks.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return webhook.ID, nil
}

// DequeueWebhooks returns ready webhooks respecting per-payment FIFO. The
// in-flight set is small, so the filtering runs client-side over the live
// entries sorted by seq.
func (s *MongoDBStore) DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error) {
	cursor, err := s.webhooks.Find(ctx,
		bson.M{"status": bson.M{"$in": bson.A{"pending", "processing"}}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue webhooks: %w", err)
	}
	defer cursor.Close(ctx)

	var live []PendingWebhook
	for cursor.Next(ctx) {
		var doc mongoWebhook
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode webhook: %w", err)
		}
		live = append(live, doc.toWebhook())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return selectEligible(live, time.Now(), limit), nil
}

// MarkWebhookProcessing claims a webhook for delivery. The claim time lets
// ReclaimStaleWebhooks spot abandoned claims.
func (s *MongoDBStore) MarkWebhookProcessing(ctx context.Context, webhookID string) error {
	return s.updateWebhook(ctx, webhookID, bson.M{"$set": bson.M{
		"status":        "processing",
		"lastAttemptAt": time.Now().UTC(),
	}})
}

// ReclaimStaleWebhooks returns webhooks stuck in processing since before the
// cutoff to pending. Delivery is at-least-once, so the re-send is safe.
func (s *MongoDBStore) ReclaimStaleWebhooks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.webhooks.UpdateMany(ctx,
		bson.M{"status": "processing", "lastAttemptAt": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"status": "pending"}},
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim webhooks: %w", err)
	}
	return res.ModifiedCount, nil
}

// MarkWebhookSuccess records a completed delivery.
func (s *MongoDBStore) MarkWebhookSuccess(ctx context.Context, webhookID string) error {
	now := time.Now().UTC()
	return s.updateWebhook(ctx, webhookID, bson.M{"$set": bson.M{
		"status":      "success",
		"completedAt": now,
	}})
}

// MarkWebhookFailed records a failed attempt; exhausted webhooks go to the DLQ.
func (s *MongoDBStore) MarkWebhookFailed(ctx context.Context, webhookID, errorMsg string, nextAttemptAt time.Time) error {
	var doc mongoWebhook
	err := s.webhooks.FindOne(ctx, bson.M{"_id": webhookID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}

	now := time.Now().UTC()
	update := bson.M{
		"attempts":      doc.Attempts + 1,
		"lastError":     errorMsg,
		"lastAttemptAt": now,
	}
	if doc.Attempts+1 >= doc.MaxAttempts {
		update["status"] = "failed"
		update["completedAt"] = now
	} else {
		update["status"] = "pending"
		update["nextAttemptAt"] = nextAttemptAt
	}
	return s.updateWebhook(ctx, webhookID, bson.M{"$set": update})
}

// FailWebhookPermanently parks the webhook in the DLQ immediately.
func (s *MongoDBStore) FailWebhookPermanently(ctx context.Context, webhookID, errorMsg string) error {
	now := time.Now().UTC()
	return s.updateWebhook(ctx, webhookID, bson.M{
		"$set": bson.M{
			"lastError":     errorMsg,
			"lastAttemptAt": now,
			"status":        "failed",
			"completedAt":   now,
		},
		"$inc": bson.M{"attempts": 1},
	})
}

// GetWebhook returns one webhook by ID.
func (s *MongoDBStore) GetWebhook(ctx context.Context, webhookID string) (PendingWebhook, error) {
	var doc mongoWebhook
	err := s.webhooks.FindOne(ctx, bson.M{"_id": webhookID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return PendingWebhook{}, ErrNotFound
	}
	if err != nil {
		return PendingWebhook{}, fmt.Errorf("query webhook: %w", err)
	}
	return doc.toWebhook(), nil
}

// ListWebhooks lists queue entries, optionally filtered by status.
func (s *MongoDBStore) ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]PendingWebhook, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	cursor, err := s.webhooks.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer cursor.Close(ctx)

	var out []PendingWebhook
	for cursor.Next(ctx) {
		var doc mongoWebhook
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode webhook: %w", err)
		}
		out = append(out, doc.toWebhook())
	}
	return out, cursor.Err()
}

// RetryWebhook resets a webhook to pending for manual redelivery.
func (s *MongoDBStore) RetryWebhook(ctx context.Context, webhookID string) error {
	return s.updateWebhook(ctx, webhookID, bson.M{
		"$set": bson.M{
			"status":    "pending",
			"attempts":  0,
			"lastError": "",
		},
		"$unset": bson.M{
			"nextAttemptAt": "",
			"completedAt":   "",
		},
	})
}

// DeleteWebhook removes a webhook from the queue.
func (s *MongoDBStore) DeleteWebhook(ctx context.Context, webhookID string) error {
	res, err := s.webhooks.DeleteOne(ctx, bson.M{"_id": webhookID})
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoDBStore) updateWebhook(ctx context.Context, webhookID string, update bson.M) error {
	res, err := s.webhooks.UpdateOne(ctx, bson.M{"_id": webhookID}, update)
	if err != nil {
		return fmt.Errorf("webhook update: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close disconnects the client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
