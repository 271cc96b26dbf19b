package redis

import (
	"context"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
)

const STEPS_KEY string = "STEPS"
const STEP_OWNER_KEY string = "STEP_OWNER"

var _ persistence.StepStore = new(redisStepDao)

type redisStepDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.StepExecution]
}

func NewRedisStepDao(baseDao *baseDao) *redisStepDao {
	return &redisStepDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.StepExecution](),
	}
}

func (sd *redisStepDao) CreateSteps(ctx context.Context, steps []*model.StepExecution) error {
	if len(steps) == 0 {
		return nil
	}
	_, err := sd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		for _, step := range steps {
			data, err := sd.encoderDecoder.Encode(*step)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, sd.getNamespaceKey(STEPS_KEY, step.InstanceId), step.Id, string(data))
			pipe.Set(ctx, sd.getNamespaceKey(STEP_OWNER_KEY, step.Id), step.InstanceId, 0)
		}
		return nil
	})
	if err != nil {
		return sd.storageError("create steps", steps[0].InstanceId, err)
	}
	return nil
}

func (sd *redisStepDao) GetStep(ctx context.Context, stepId string) (*model.StepExecution, error) {
	ownerKey := sd.getNamespaceKey(STEP_OWNER_KEY, stepId)
	instanceId, err := sd.redisClient.Get(ctx, ownerKey).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "step", Id: stepId}
		}
		return nil, sd.storageError("get step owner", ownerKey, err)
	}
	key := sd.getNamespaceKey(STEPS_KEY, instanceId)
	val, err := sd.redisClient.HGet(ctx, key, stepId).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "step", Id: stepId}
		}
		return nil, sd.storageError("get step", key, err)
	}
	return sd.encoderDecoder.Decode([]byte(val))
}

func (sd *redisStepDao) UpdateStep(ctx context.Context, step *model.StepExecution) error {
	key := sd.getNamespaceKey(STEPS_KEY, step.InstanceId)
	exists, err := sd.redisClient.HExists(ctx, key, step.Id).Result()
	if err != nil {
		return sd.storageError("update step", key, err)
	}
	if !exists {
		return api.NotFoundError{Kind: "step", Id: step.Id}
	}
	data, err := sd.encoderDecoder.Encode(*step)
	if err != nil {
		return err
	}
	if err := sd.redisClient.HSet(ctx, key, step.Id, string(data)).Err(); err != nil {
		return sd.storageError("update step", key, err)
	}
	return nil
}

func (sd *redisStepDao) ListSteps(ctx context.Context, instanceId string) ([]*model.StepExecution, error) {
	key := sd.getNamespaceKey(STEPS_KEY, instanceId)
	values, err := sd.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, sd.storageError("list steps", key, err)
	}
	out := make([]*model.StepExecution, 0, len(values))
	for _, v := range values {
		step, err := sd.encoderDecoder.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	persistence.SortSteps(out)
	return out, nil
}
