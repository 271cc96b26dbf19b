package redis

import (
	"context"

	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
)

const ESCALATION_LOG_KEY string = "ESCALATION_LOG"

var _ persistence.EscalationLogStore = new(redisEscalationDao)

type redisEscalationDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.EscalationLog]
}

func NewRedisEscalationDao(baseDao *baseDao) *redisEscalationDao {
	return &redisEscalationDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.EscalationLog](),
	}
}

func (ed *redisEscalationDao) AppendLog(ctx context.Context, log *model.EscalationLog) error {
	key := ed.getNamespaceKey(ESCALATION_LOG_KEY, log.InstanceId)
	data, err := ed.encoderDecoder.Encode(*log)
	if err != nil {
		return err
	}
	if err := ed.redisClient.RPush(ctx, key, string(data)).Err(); err != nil {
		return ed.storageError("append escalation log", key, err)
	}
	return nil
}

func (ed *redisEscalationDao) ListLogs(ctx context.Context, instanceId string) ([]*model.EscalationLog, error) {
	key := ed.getNamespaceKey(ESCALATION_LOG_KEY, instanceId)
	values, err := ed.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil && !isNil(err) {
		return nil, ed.storageError("list escalation logs", key, err)
	}
	out := make([]*model.EscalationLog, 0, len(values))
	for _, v := range values {
		log, err := ed.encoderDecoder.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, nil
}
