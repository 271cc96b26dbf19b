package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
)

const INSTANCE_KEY string = "INSTANCE"
const INSTANCE_DUE_KEY string = "INSTANCE_DUE"
const INSTANCE_ACTIVE_KEY string = "INSTANCE_ACTIVE"

var _ persistence.InstanceStore = new(redisInstanceDao)

type redisInstanceDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.WorkflowInstance]
}

func NewRedisInstanceDao(baseDao *baseDao) *redisInstanceDao {
	return &redisInstanceDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.WorkflowInstance](),
	}
}

func (id *redisInstanceDao) CreateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	key := id.getNamespaceKey(INSTANCE_KEY, inst.Id)
	data, err := id.encoderDecoder.Encode(*inst)
	if err != nil {
		return err
	}
	created, err := id.redisClient.SetNX(ctx, key, string(data), 0).Result()
	if err != nil {
		return id.storageError("create instance", key, err)
	}
	if !created {
		return api.Conflictf("instance %s already exists", inst.Id)
	}
	_, err = id.redisClient.Pipelined(ctx, func(pipe rd.Pipeliner) error {
		id.index(ctx, pipe, inst)
		return nil
	})
	if err != nil {
		return id.storageError("index instance", key, err)
	}
	return nil
}

func (id *redisInstanceDao) GetInstance(ctx context.Context, instanceId string) (*model.WorkflowInstance, error) {
	key := id.getNamespaceKey(INSTANCE_KEY, instanceId)
	val, err := id.redisClient.Get(ctx, key).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "instance", Id: instanceId}
		}
		return nil, id.storageError("get instance", key, err)
	}
	return id.encoderDecoder.Decode([]byte(val))
}

// UpdateInstance runs a compare-and-set on the stored version inside WATCH/MULTI.
func (id *redisInstanceDao) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	key := id.getNamespaceKey(INSTANCE_KEY, inst.Id)
	var rejected error
	err := id.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil {
			if isNil(err) {
				rejected = api.NotFoundError{Kind: "instance", Id: inst.Id}
				return nil
			}
			return err
		}
		stored, err := id.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return err
		}
		if stored.Version != inst.Version {
			rejected = api.Conflictf("instance %s was modified concurrently, version %d, stored %d", inst.Id, inst.Version, stored.Version)
			return nil
		}
		next := *inst
		next.Version++
		data, err := id.encoderDecoder.Encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			id.index(ctx, pipe, &next)
			return nil
		})
		return err
	}, key)
	if rejected != nil {
		return rejected
	}
	if errors.Is(err, rd.TxFailedErr) {
		return api.Conflictf("instance %s was modified concurrently", inst.Id)
	}
	if err != nil {
		return id.storageError("update instance", key, err)
	}
	inst.Version++
	return nil
}

func (id *redisInstanceDao) index(ctx context.Context, pipe rd.Pipeliner, inst *model.WorkflowInstance) {
	dueKey := id.getNamespaceKey(INSTANCE_DUE_KEY)
	activeKey := id.getNamespaceKey(INSTANCE_ACTIVE_KEY)
	if inst.Status.IsActive() && !inst.SLABreached && inst.SLADueAt != nil {
		pipe.ZAdd(ctx, dueKey, rd.Z{Score: score(*inst.SLADueAt), Member: inst.Id})
	} else {
		pipe.ZRem(ctx, dueKey, inst.Id)
	}
	if inst.Status.IsActive() {
		pipe.ZAdd(ctx, activeKey, rd.Z{Score: score(inst.StartedAt), Member: inst.Id})
	} else {
		pipe.ZRem(ctx, activeKey, inst.Id)
	}
}

func (id *redisInstanceDao) FindOverdue(ctx context.Context, now time.Time, limit int) ([]*model.WorkflowInstance, error) {
	dueKey := id.getNamespaceKey(INSTANCE_DUE_KEY)
	opt := &rd.ZRangeBy{Min: "-inf", Max: scoreMax(now)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := id.redisClient.ZRangeByScore(ctx, dueKey, opt).Result()
	if err != nil && !isNil(err) {
		return nil, id.storageError("find overdue", dueKey, err)
	}
	instances, err := id.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*model.WorkflowInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Status.IsActive() && !inst.SLABreached && inst.SLADueAt != nil && inst.SLADueAt.Before(now) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (id *redisInstanceDao) ListActive(ctx context.Context, offset int, limit int) ([]*model.WorkflowInstance, error) {
	activeKey := id.getNamespaceKey(INSTANCE_ACTIVE_KEY)
	start := int64(offset)
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}
	ids, err := id.redisClient.ZRange(ctx, activeKey, start, stop).Result()
	if err != nil && !isNil(err) {
		return nil, id.storageError("list active", activeKey, err)
	}
	return id.load(ctx, ids)
}

func (id *redisInstanceDao) load(ctx context.Context, ids []string) ([]*model.WorkflowInstance, error) {
	if len(ids) == 0 {
		return []*model.WorkflowInstance{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, instanceId := range ids {
		keys = append(keys, id.getNamespaceKey(INSTANCE_KEY, instanceId))
	}
	values, err := id.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, id.storageError("load instances", keys[0], err)
	}
	out := make([]*model.WorkflowInstance, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		inst, err := id.encoderDecoder.Decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}
