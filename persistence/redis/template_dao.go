package redis

import (
	"context"
	"sort"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
)

const TEMPLATE_KEY string = "TEMPLATE"
const TEMPLATE_CODES_KEY string = "TEMPLATE_CODES"

var _ persistence.TemplateStorage = new(redisTemplateDao)

type redisTemplateDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.WorkflowTemplate]
}

func NewRedisTemplateDao(baseDao *baseDao) *redisTemplateDao {
	return &redisTemplateDao{
		baseDao:        baseDao,
		encoderDecoder: util.NewJsonEncoderDecoder[model.WorkflowTemplate](),
	}
}

func (td *redisTemplateDao) SaveTemplate(ctx context.Context, tmpl *model.WorkflowTemplate) error {
	key := td.getNamespaceKey(TEMPLATE_KEY, tmpl.Code)
	data, err := td.encoderDecoder.Encode(*tmpl)
	if err != nil {
		return err
	}
	_, err = td.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.Itoa(tmpl.Version), string(data))
		pipe.SAdd(ctx, td.getNamespaceKey(TEMPLATE_CODES_KEY), tmpl.Code)
		return nil
	})
	if err != nil {
		return td.storageError("save template", key, err)
	}
	return nil
}

func (td *redisTemplateDao) GetTemplate(ctx context.Context, code string, version int) (*model.WorkflowTemplate, error) {
	key := td.getNamespaceKey(TEMPLATE_KEY, code)
	if version == 0 {
		latest, err := td.latestVersion(ctx, key)
		if err != nil {
			return nil, err
		}
		if latest == 0 {
			return nil, api.NotFoundError{Kind: "template", Id: code}
		}
		version = latest
	}
	val, err := td.redisClient.HGet(ctx, key, strconv.Itoa(version)).Result()
	if err != nil {
		if isNil(err) {
			return nil, api.NotFoundError{Kind: "template", Id: code}
		}
		return nil, td.storageError("get template", key, err)
	}
	return td.encoderDecoder.Decode([]byte(val))
}

func (td *redisTemplateDao) ListTemplates(ctx context.Context) ([]*model.WorkflowTemplate, error) {
	codesKey := td.getNamespaceKey(TEMPLATE_CODES_KEY)
	codes, err := td.redisClient.SMembers(ctx, codesKey).Result()
	if err != nil {
		return nil, td.storageError("list templates", codesKey, err)
	}
	sort.Strings(codes)
	out := make([]*model.WorkflowTemplate, 0, len(codes))
	for _, code := range codes {
		tmpl, err := td.GetTemplate(ctx, code, 0)
		if err != nil {
			if api.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, tmpl)
	}
	return out, nil
}

func (td *redisTemplateDao) latestVersion(ctx context.Context, key string) (int, error) {
	fields, err := td.redisClient.HKeys(ctx, key).Result()
	if err != nil {
		if isNil(err) {
			return 0, nil
		}
		return 0, td.storageError("template versions", key, err)
	}
	latest := 0
	for _, f := range fields {
		if v, err := strconv.Atoi(f); err == nil && v > latest {
			latest = v
		}
	}
	return latest, nil
}
