package idempotent

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTable gorm 仓库默认表名.
const DefaultTable = "idempotent_messages"

// messageRecord 已处理消息记录，(processor_name, message_id) 唯一.
type messageRecord struct {
	ID            uint      `gorm:"primaryKey"`
	ProcessorName string    `gorm:"column:processor_name;size:255;not null;uniqueIndex:uk_idempotent_processor_message"`
	MessageID     string    `gorm:"column:message_id;size:255;not null;uniqueIndex:uk_idempotent_processor_message"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// GormRepository 基于关系型数据库的幂等仓库.
//
// 插入使用 ON CONFLICT DO NOTHING，依赖唯一索引保证并发下只有一个插入成功.
type GormRepository struct {
	db            *gorm.DB
	table         string
	processorName string
}

// GormOption GormRepository 选项.
type GormOption func(*GormRepository)

// WithTable 设置表名.
func WithTable(table string) GormOption {
	return func(r *GormRepository) {
		r.table = table
	}
}

// NewGormRepository 创建 gorm 仓库并迁移表结构.
func NewGormRepository(db *gorm.DB, processorName string, opts ...GormOption) (*GormRepository, error) {
	if db == nil {
		return nil, ErrNilClient
	}
	if processorName == "" {
		return nil, ErrEmptyProcessorName
	}
	r := &GormRepository{db: db, table: DefaultTable, processorName: processorName}
	for _, opt := range opts {
		opt(r)
	}
	if err := db.Table(r.table).AutoMigrate(&messageRecord{}); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *GormRepository) scoped(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table).Where("processor_name = ?", r.processorName)
}

// Add 实现 Repository.
func (r *GormRepository) Add(ctx context.Context, key string) (bool, error) {
	rec := &messageRecord{ProcessorName: r.processorName, MessageID: key}
	res := r.db.WithContext(ctx).Table(r.table).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Contains 实现 Repository.
func (r *GormRepository) Contains(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := r.scoped(ctx).Where("message_id = ?", key).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remove 实现 Repository.
func (r *GormRepository) Remove(ctx context.Context, key string) (bool, error) {
	res := r.scoped(ctx).Where("message_id = ?", key).Delete(&messageRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Confirm 实现 Repository.
func (r *GormRepository) Confirm(context.Context, string) (bool, error) {
	return true, nil
}

// Clear 实现 Repository，只删除当前处理器的记录.
func (r *GormRepository) Clear(ctx context.Context) error {
	return r.scoped(ctx).Delete(&messageRecord{}).Error
}
