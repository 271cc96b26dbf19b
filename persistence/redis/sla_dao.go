package redis

import (
	"context"
	"time"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
)

const SLA_CONFIG_KEY string = "SLA_CONFIG"
const SLA_TRACKING_KEY string = "SLA_TRACKING"

// SLA_DUE_KEY scores every pending tracking by the time of its next flip.
const SLA_DUE_KEY string = "SLA_DUE"

var _ persistence.SLAStore = new(redisSLADao)

type redisSLADao struct {
	*baseDao
	configCodec   util.EncoderDecoder[model.SLAConfiguration]
	trackingCodec util.EncoderDecoder[model.SLATracking]
}

func NewRedisSLADao(baseDao *baseDao) *redisSLADao {
	return &redisSLADao{
		baseDao:       baseDao,
		configCodec:   util.NewJsonEncoderDecoder[model.SLAConfiguration](),
		trackingCodec: util.NewJsonEncoderDecoder[model.SLATracking](),
	}
}

func (sd *redisSLADao) SaveConfig(ctx context.Context, cfg *model.SLAConfiguration) error {
	key := sd.getNamespaceKey(SLA_CONFIG_KEY)
	data, err := sd.configCodec.Encode(*cfg)
	if err != nil {
		return err
	}
	if err := sd.redisClient.HSet(ctx, key, persistence.SLAConfigKey(cfg.EntityType, cfg.Priority), string(data)).Err(); err != nil {
		return sd.storageError("save sla config", key, err)
	}
	return nil
}

func (sd *redisSLADao) FindConfig(ctx context.Context, entityType string, priority model.Priority) (*model.SLAConfiguration, error) {
	key := sd.getNamespaceKey(SLA_CONFIG_KEY)
	field := persistence.SLAConfigKey(entityType, priority)
	val, err := sd.redisClient.HGet(ctx, key, field).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "sla configuration", Id: field}
		}
		return nil, sd.storageError("find sla config", key, err)
	}
	return sd.configCodec.Decode([]byte(val))
}

func (sd *redisSLADao) SaveTracking(ctx context.Context, tracking *model.SLATracking) error {
	key := sd.getNamespaceKey(SLA_TRACKING_KEY)
	dueKey := sd.getNamespaceKey(SLA_DUE_KEY)
	data, err := sd.trackingCodec.Encode(*tracking)
	if err != nil {
		return err
	}
	_, err = sd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, key, tracking.InstanceId, string(data))
		if tracking.Pending() {
			pipe.ZAdd(ctx, dueKey, rd.Z{Score: score(tracking.NextCheck()), Member: tracking.InstanceId})
		} else {
			pipe.ZRem(ctx, dueKey, tracking.InstanceId)
		}
		return nil
	})
	if err != nil {
		return sd.storageError("save sla tracking", key, err)
	}
	return nil
}

func (sd *redisSLADao) GetTracking(ctx context.Context, instanceId string) (*model.SLATracking, error) {
	key := sd.getNamespaceKey(SLA_TRACKING_KEY)
	val, err := sd.redisClient.HGet(ctx, key, instanceId).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "sla tracking", Id: instanceId}
		}
		return nil, sd.storageError("get sla tracking", key, err)
	}
	return sd.trackingCodec.Decode([]byte(val))
}

func (sd *redisSLADao) ListDueTrackings(ctx context.Context, now time.Time, limit int) ([]*model.SLATracking, error) {
	dueKey := sd.getNamespaceKey(SLA_DUE_KEY)
	opt := &rd.ZRangeBy{Min: "-inf", Max: scoreMax(now)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := sd.redisClient.ZRangeByScore(ctx, dueKey, opt).Result()
	if err != nil && !isNil(err) {
		return nil, sd.storageError("list due trackings", dueKey, err)
	}
	if len(ids) == 0 {
		return []*model.SLATracking{}, nil
	}
	key := sd.getNamespaceKey(SLA_TRACKING_KEY)
	values, err := sd.redisClient.HMGet(ctx, key, ids...).Result()
	if err != nil {
		return nil, sd.storageError("load due trackings", key, err)
	}
	out := make([]*model.SLATracking, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		tr, err := sd.trackingCodec.Decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}
