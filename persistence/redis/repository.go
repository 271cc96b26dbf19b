package redis

import (
	"context"

	"github.com/mohitkumar/grcflow/persistence"
)

// Client owns the shared connection behind every redis dao.
type Client struct {
	*baseDao
}

func NewClient(conf Config) *Client {
	return &Client{baseDao: newBaseDao(conf)}
}

func (c *Client) Repository() *persistence.Repository {
	return &persistence.Repository{
		Templates:   NewRedisTemplateDao(c.baseDao),
		Instances:   NewRedisInstanceDao(c.baseDao),
		Steps:       NewRedisStepDao(c.baseDao),
		Approvals:   NewRedisApprovalDao(c.baseDao),
		Escalations: NewRedisEscalationDao(c.baseDao),
		Delegations: NewRedisDelegationDao(c.baseDao),
		SLA:         NewRedisSLADao(c.baseDao),
	}
}

// FlushNamespace deletes every key under the configured namespace.
func (c *Client) FlushNamespace(ctx context.Context) error {
	iter := c.redisClient.Scan(ctx, 0, c.namespace+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
			return c.storageError("flush", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return c.storageError("flush", c.namespace, err)
	}
	return nil
}
