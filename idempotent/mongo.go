package idempotent

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoCollection MongoRepository 使用的集合操作，*mongo.Collection 满足该接口.
type MongoCollection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
	DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongo.DeleteResult, error)
}

// MongoRepository 基于 MongoDB 的幂等仓库.
//
// 文档 _id 由处理器名称与键组成，重复插入产生 duplicate key 错误即视为已存在.
type MongoRepository struct {
	coll          MongoCollection
	processorName string
}

type mongoRecord struct {
	ID        string    `bson:"_id"`
	Processor string    `bson:"processor"`
	Key       string    `bson:"key"`
	CreatedAt time.Time `bson:"createdAt"`
}

// NewMongoRepository 创建 MongoDB 仓库.
func NewMongoRepository(coll MongoCollection, processorName string) (*MongoRepository, error) {
	if coll == nil {
		return nil, ErrNilClient
	}
	if processorName == "" {
		return nil, ErrEmptyProcessorName
	}
	return &MongoRepository{coll: coll, processorName: processorName}, nil
}

func (r *MongoRepository) id(key string) string {
	return r.processorName + ":" + key
}

// Add 实现 Repository.
func (r *MongoRepository) Add(ctx context.Context, key string) (bool, error) {
	_, err := r.coll.InsertOne(ctx, mongoRecord{
		ID:        r.id(key),
		Processor: r.processorName,
		Key:       key,
		CreatedAt: time.Now(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Contains 实现 Repository.
func (r *MongoRepository) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: r.id(key)}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remove 实现 Repository.
func (r *MongoRepository) Remove(ctx context.Context, key string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: r.id(key)}})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// Confirm 实现 Repository.
func (r *MongoRepository) Confirm(context.Context, string) (bool, error) {
	return true, nil
}

// Clear 实现 Repository，只删除当前处理器的文档.
func (r *MongoRepository) Clear(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.D{{Key: "processor", Value: r.processorName}})
	return err
}
