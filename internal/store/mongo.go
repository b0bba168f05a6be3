package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps tasks as documents with embedded sub-documents.
type MongoStore struct {
	client        *mongo.Client
	tasks         *mongo.Collection
	notifications *mongo.Collection
	users         *mongo.Collection
	activity      *mongo.Collection
	audit         *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		tasks:         db.Collection("tasks"),
		notifications: db.Collection("notifications"),
		users:         db.Collection("users"),
		activity:      db.Collection("task_activity"),
		audit:         db.Collection("audit_log"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "assignedToId", Value: 1}}},
		{Keys: bson.D{{Key: "deadline", Value: 1}, {Key: "reminderSent", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create task indexes: %w", err)
	}
	_, err = s.notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "eventId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "role", Value: 1}}})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err = s.activity.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "eventId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "taskId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create activity indexes: %w", err)
	}
	_, err = s.audit.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "createdAt", Value: -1}}})
	if err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) CreateTask(ctx context.Context, task Task) error {
	task.Version = 1
	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *MongoStore) GetTask(ctx context.Context, id string) (Task, error) {
	var task Task
	err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task.Clone(), nil
}

func (s *MongoStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(filter.EffectiveLimit()))
	cursor, err := s.tasks.Find(ctx, taskQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]Task, 0)
	for cursor.Next(ctx) {
		var task Task
		if err := cursor.Decode(&task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		items = append(items, task.Clone())
	}
	return items, cursor.Err()
}

func taskQuery(filter TaskFilter) bson.M {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Urgency != "" {
		query["urgency"] = filter.Urgency
	}
	if filter.RequesterID != "" {
		query["requesterId"] = filter.RequesterID
	}
	if filter.AssignedToID != "" {
		query["assignedToId"] = filter.AssignedToID
	}
	if filter.AssignedOrOpen != "" {
		query["$or"] = bson.A{
			bson.M{"assignedToId": filter.AssignedOrOpen},
			bson.M{"assignedToId": bson.M{"$exists": false}},
			bson.M{"assignedToId": ""},
		}
	}
	if len(filter.IDs) > 0 {
		query["_id"] = bson.M{"$in": filter.IDs}
	}
	if filter.CreatedAfter != nil {
		query["createdAt"] = bson.M{"$gt": *filter.CreatedAfter}
	}
	deadline := bson.M{}
	if filter.DeadlineAfter != nil {
		deadline["$gte"] = *filter.DeadlineAfter
	}
	if filter.DeadlineBefore != nil {
		deadline["$lte"] = *filter.DeadlineBefore
	}
	if len(deadline) > 0 {
		query["deadline"] = deadline
	}
	if filter.Unreminded {
		query["reminderSent"] = bson.M{"$ne": true}
	}
	return query
}

// UpdateTask replaces the document only when the stored version still matches.
func (s *MongoStore) UpdateTask(ctx context.Context, task Task) (Task, error) {
	current, err := s.GetTask(ctx, task.ID)
	if err != nil {
		return Task{}, err
	}
	if current.Version != task.Version {
		return Task{}, ErrConflict
	}
	if err := CheckAppendOnly(current.ChangeHistory, task.ChangeHistory); err != nil {
		return Task{}, err
	}

	next := task
	next.Version = task.Version + 1
	result, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": task.ID, "version": task.Version}, next)
	if err != nil {
		return Task{}, fmt.Errorf("replace task: %w", err)
	}
	if result.MatchedCount == 0 {
		return Task{}, ErrConflict
	}
	return next, nil
}

func (s *MongoStore) InsertNotification(ctx context.Context, n Notification) (bool, error) {
	if _, err := s.notifications.InsertOne(ctx, n); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = defaultListLimit
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.notifications.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]Notification, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return items, nil
}

func (s *MongoStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	result, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "userId": userID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	result, err := s.notifications.UpdateMany(ctx,
		bson.M{"userId": userID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(result.ModifiedCount), nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user User) error {
	set := bson.M{
		"name":      user.Name,
		"email":     user.Email,
		"role":      user.Role,
		"updatedAt": nowUTC(),
	}
	if user.Phone != "" {
		set["phone"] = user.Phone
	}
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	cursor, err := s.users.Find(ctx, bson.M{"role": role}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]User, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return items, nil
}

func (s *MongoStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	count, err := s.notifications.CountDocuments(ctx, bson.M{"userId": userID, "read": false})
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return int(count), nil
}

func (s *MongoStore) InsertActivity(ctx context.Context, a Activity) (bool, error) {
	if _, err := s.activity.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert activity: %w", err)
	}
	return true, nil
}

func (s *MongoStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]Activity, error) {
	query := bson.M{}
	if filter.TaskID != "" {
		query["taskId"] = filter.TaskID
	}
	limit := clampLimit(filter.Limit, 50, MaxActivityLimit)
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.activity.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]Activity, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return items, nil
}

func (s *MongoStore) InsertAudit(ctx context.Context, entry AuditEntry) error {
	if _, err := s.audit.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *MongoStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(clampLimit(limit, 50, MaxActivityLimit)))
	cursor, err := s.audit.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]AuditEntry, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	return items, nil
}
