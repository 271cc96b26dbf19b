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

const REQUEST_KEY string = "REQUEST"
const REQUESTS_BY_STEP_KEY string = "REQUESTS_STEP"
const REQUESTS_BY_INSTANCE_KEY string = "REQUESTS_INSTANCE"
const REQUEST_PENDING_KEY string = "REQUEST_PENDING"

var _ persistence.ApprovalStore = new(redisApprovalDao)

type redisApprovalDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.ApprovalRequest]
}

func NewRedisApprovalDao(baseDao *baseDao) *redisApprovalDao {
	return &redisApprovalDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.ApprovalRequest](),
	}
}

func (ad *redisApprovalDao) CreateRequest(ctx context.Context, req *model.ApprovalRequest) error {
	key := ad.getNamespaceKey(REQUEST_KEY, req.Id)
	data, err := ad.encoderDecoder.Encode(*req)
	if err != nil {
		return err
	}
	_, err = ad.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, key, string(data), 0)
		pipe.SAdd(ctx, ad.getNamespaceKey(REQUESTS_BY_STEP_KEY, req.StepId), req.Id)
		pipe.SAdd(ctx, ad.getNamespaceKey(REQUESTS_BY_INSTANCE_KEY, req.InstanceId), req.Id)
		ad.index(ctx, pipe, req)
		return nil
	})
	if err != nil {
		return ad.storageError("create request", key, err)
	}
	return nil
}

func (ad *redisApprovalDao) GetRequest(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	key := ad.getNamespaceKey(REQUEST_KEY, id)
	val, err := ad.redisClient.Get(ctx, key).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "approval request", Id: id}
		}
		return nil, ad.storageError("get request", key, err)
	}
	return ad.encoderDecoder.Decode([]byte(val))
}

func (ad *redisApprovalDao) UpdateRequest(ctx context.Context, req *model.ApprovalRequest) error {
	key := ad.getNamespaceKey(REQUEST_KEY, req.Id)
	data, err := ad.encoderDecoder.Encode(*req)
	if err != nil {
		return err
	}
	updated, err := ad.redisClient.SetXX(ctx, key, string(data), 0).Result()
	if err != nil {
		return ad.storageError("update request", key, err)
	}
	if !updated {
		return api.NotFoundError{Kind: "approval request", Id: req.Id}
	}
	_, err = ad.redisClient.Pipelined(ctx, func(pipe rd.Pipeliner) error {
		ad.index(ctx, pipe, req)
		return nil
	})
	if err != nil {
		return ad.storageError("index request", key, err)
	}
	return nil
}

func (ad *redisApprovalDao) index(ctx context.Context, pipe rd.Pipeliner, req *model.ApprovalRequest) {
	pendingKey := ad.getNamespaceKey(REQUEST_PENDING_KEY)
	if req.Status == model.REQUEST_PENDING && req.DueAt != nil {
		pipe.ZAdd(ctx, pendingKey, rd.Z{Score: score(*req.DueAt), Member: req.Id})
	} else {
		pipe.ZRem(ctx, pendingKey, req.Id)
	}
}

func (ad *redisApprovalDao) ListRequestsByStep(ctx context.Context, stepId string) ([]*model.ApprovalRequest, error) {
	return ad.listSet(ctx, ad.getNamespaceKey(REQUESTS_BY_STEP_KEY, stepId))
}

func (ad *redisApprovalDao) ListRequestsByInstance(ctx context.Context, instanceId string) ([]*model.ApprovalRequest, error) {
	return ad.listSet(ctx, ad.getNamespaceKey(REQUESTS_BY_INSTANCE_KEY, instanceId))
}

func (ad *redisApprovalDao) FindPendingDueBefore(ctx context.Context, t time.Time, limit int) ([]*model.ApprovalRequest, error) {
	pendingKey := ad.getNamespaceKey(REQUEST_PENDING_KEY)
	opt := &rd.ZRangeBy{Min: "-inf", Max: scoreMax(t)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := ad.redisClient.ZRangeByScore(ctx, pendingKey, opt).Result()
	if err != nil && !isNil(err) {
		return nil, ad.storageError("find pending", pendingKey, err)
	}
	reqs, err := ad.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*model.ApprovalRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.Status == model.REQUEST_PENDING {
			out = append(out, r)
		}
	}
	return out, nil
}

func (ad *redisApprovalDao) listSet(ctx context.Context, setKey string) ([]*model.ApprovalRequest, error) {
	ids, err := ad.redisClient.SMembers(ctx, setKey).Result()
	if err != nil && !isNil(err) {
		return nil, ad.storageError("list requests", setKey, err)
	}
	reqs, err := ad.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	persistence.SortRequests(reqs)
	return reqs, nil
}

func (ad *redisApprovalDao) load(ctx context.Context, ids []string) ([]*model.ApprovalRequest, error) {
	if len(ids) == 0 {
		return []*model.ApprovalRequest{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, ad.getNamespaceKey(REQUEST_KEY, id))
	}
	values, err := ad.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ad.storageError("load requests", keys[0], err)
	}
	out := make([]*model.ApprovalRequest, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		req, err := ad.encoderDecoder.Decode([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
