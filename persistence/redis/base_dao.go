package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"go.uber.org/zap"
)

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func newBaseDao(conf Config) *baseDao {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
		PoolSize: conf.PoolSize,
	})
	return &baseDao{
		redisClient: redisClient,
		namespace:   conf.Namespace,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}

func (bs *baseDao) Ping(ctx context.Context) error {
	return bs.redisClient.Ping(ctx).Err()
}

func (bs *baseDao) Close() error {
	return bs.redisClient.Close()
}

func (bs *baseDao) storageError(op string, key string, err error) error {
	logger.Error("redis operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	return api.StorageLayerError{Message: err.Error()}
}

func isNil(err error) bool {
	return errors.Is(err, rd.Nil)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func scoreMax(t time.Time) string {
	// exclusive upper bound
	return "(" + strconv.FormatInt(t.UnixMilli(), 10)
}
