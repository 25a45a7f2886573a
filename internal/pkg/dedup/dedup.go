// Package dedup 以 Redis SETNX 记录提醒的投递回执，保证提醒的同一版本只尝试投递一次。
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "produse:delivered:"

// Receipts 记录已尝试投递的提醒。rdb 为 nil 时所有操作都是空操作。
type Receipts struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewReceipts(rdb *redis.Client, ttl time.Duration) *Receipts {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Receipts{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim 为提醒的一个版本登记投递回执。
//
// 回执键包含 revision 与 fireAt，提醒被编辑后版本号变化，旧回执不再生效。
//
// 返回值:
//
//	bool: 首次登记返回 true；已存在回执（之前已尝试投递）返回 false
//	error: Redis 出错时返回错误，调用方可选择继续投递
func (d *Receipts) Claim(ctx context.Context, reminderID, revision uint, fireAt string) (bool, error) {
	if d == nil || d.rdb == nil {
		return true, nil
	}
	ok, err := d.rdb.SetNX(ctx, receiptKey(reminderID, revision, fireAt), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("receipt setnx: %w", err)
	}
	return ok, nil
}

func receiptKey(reminderID, revision uint, fireAt string) string {
	return fmt.Sprintf("%s%d:%d:%s", keyPrefix, reminderID, revision, fireAt)
}
