package redis

import (
	"context"
	"sort"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
)

const DELEGATIONS_KEY string = "DELEGATIONS"
const DELEGATION_OWNER_KEY string = "DELEGATION_OWNER"

var _ persistence.DelegationStore = new(redisDelegationDao)

type redisDelegationDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.UserDelegation]
}

func NewRedisDelegationDao(baseDao *baseDao) *redisDelegationDao {
	return &redisDelegationDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.UserDelegation](),
	}
}

func (dd *redisDelegationDao) SaveDelegation(ctx context.Context, d *model.UserDelegation) error {
	key := dd.getNamespaceKey(DELEGATIONS_KEY, d.Delegator)
	data, err := dd.encoderDecoder.Encode(*d)
	if err != nil {
		return err
	}
	_, err = dd.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, key, d.Id, string(data))
		pipe.Set(ctx, dd.getNamespaceKey(DELEGATION_OWNER_KEY, d.Id), d.Delegator, 0)
		return nil
	})
	if err != nil {
		return dd.storageError("save delegation", key, err)
	}
	return nil
}

func (dd *redisDelegationDao) GetDelegation(ctx context.Context, id string) (*model.UserDelegation, error) {
	ownerKey := dd.getNamespaceKey(DELEGATION_OWNER_KEY, id)
	delegator, err := dd.redisClient.Get(ctx, ownerKey).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "delegation", Id: id}
		}
		return nil, dd.storageError("get delegation owner", ownerKey, err)
	}
	key := dd.getNamespaceKey(DELEGATIONS_KEY, delegator)
	val, err := dd.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "delegation", Id: id}
		}
		return nil, dd.storageError("get delegation", key, err)
	}
	return dd.encoderDecoder.Decode([]byte(val))
}

func (dd *redisDelegationDao) ListDelegations(ctx context.Context, delegator string) ([]*model.UserDelegation, error) {
	key := dd.getNamespaceKey(DELEGATIONS_KEY, delegator)
	values, err := dd.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, dd.storageError("list delegations", key, err)
	}
	out := make([]*model.UserDelegation, 0, len(values))
	for _, v := range values {
		d, err := dd.encoderDecoder.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}
