// Package memory keeps every repository in process. Values are stored encoded
// so callers never share mutable state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
)

var _ persistence.TemplateStorage = new(Store)
var _ persistence.InstanceStore = new(Store)
var _ persistence.StepStore = new(Store)
var _ persistence.ApprovalStore = new(Store)
var _ persistence.EscalationLogStore = new(Store)
var _ persistence.DelegationStore = new(Store)
var _ persistence.SLAStore = new(Store)

type Store struct {
	mu sync.RWMutex

	templates   map[string]map[int][]byte
	instances   map[string][]byte
	steps       map[string][]byte
	stepIndex   map[string][]string
	requests    map[string][]byte
	logs        map[string][][]byte
	delegations map[string][]byte
	slaConfigs  map[string][]byte
	trackings   map[string][]byte

	templateCodec   util.EncoderDecoder[model.WorkflowTemplate]
	instanceCodec   util.EncoderDecoder[model.WorkflowInstance]
	stepCodec       util.EncoderDecoder[model.StepExecution]
	requestCodec    util.EncoderDecoder[model.ApprovalRequest]
	logCodec        util.EncoderDecoder[model.EscalationLog]
	delegationCodec util.EncoderDecoder[model.UserDelegation]
	slaConfigCodec  util.EncoderDecoder[model.SLAConfiguration]
	trackingCodec   util.EncoderDecoder[model.SLATracking]
}

func NewStore() *Store {
	return &Store{
		templates:       make(map[string]map[int][]byte),
		instances:       make(map[string][]byte),
		steps:           make(map[string][]byte),
		stepIndex:       make(map[string][]string),
		requests:        make(map[string][]byte),
		logs:            make(map[string][][]byte),
		delegations:     make(map[string][]byte),
		slaConfigs:      make(map[string][]byte),
		trackings:       make(map[string][]byte),
		templateCodec:   util.NewJsonEncoderDecoder[model.WorkflowTemplate](),
		instanceCodec:   util.NewJsonEncoderDecoder[model.WorkflowInstance](),
		stepCodec:       util.NewJsonEncoderDecoder[model.StepExecution](),
		requestCodec:    util.NewJsonEncoderDecoder[model.ApprovalRequest](),
		logCodec:        util.NewJsonEncoderDecoder[model.EscalationLog](),
		delegationCodec: util.NewJsonEncoderDecoder[model.UserDelegation](),
		slaConfigCodec:  util.NewJsonEncoderDecoder[model.SLAConfiguration](),
		trackingCodec:   util.NewJsonEncoderDecoder[model.SLATracking](),
	}
}

// NewRepository returns a repository whose stores all share one in-memory Store.
func NewRepository() *persistence.Repository {
	s := NewStore()
	return &persistence.Repository{
		Templates:   s,
		Instances:   s,
		Steps:       s,
		Approvals:   s,
		Escalations: s,
		Delegations: s,
		SLA:         s,
	}
}

func storageErr(err error) error {
	return api.StorageLayerError{Message: err.Error()}
}

func (s *Store) SaveTemplate(ctx context.Context, tmpl *model.WorkflowTemplate) error {
	data, err := s.templateCodec.Encode(*tmpl)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.templates[tmpl.Code]
	if !ok {
		versions = make(map[int][]byte)
		s.templates[tmpl.Code] = versions
	}
	versions[tmpl.Version] = data
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, code string, version int) (*model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.templates[code]
	if !ok || len(versions) == 0 {
		return nil, api.NotFoundError{Kind: "template", Id: code}
	}
	if version == 0 {
		version = latestVersion(versions)
	}
	data, ok := versions[version]
	if !ok {
		return nil, api.NotFoundError{Kind: "template", Id: code}
	}
	return s.templateCodec.Decode(data)
}

func (s *Store) ListTemplates(ctx context.Context) ([]*model.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowTemplate, 0, len(s.templates))
	for _, versions := range s.templates {
		tmpl, err := s.templateCodec.Decode(versions[latestVersion(versions)])
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func latestVersion(versions map[int][]byte) int {
	latest := 0
	for v := range versions {
		if v > latest {
			latest = v
		}
	}
	return latest
}

func (s *Store) CreateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	data, err := s.instanceCodec.Encode(*inst)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.Id]; ok {
		return api.Conflictf("instance %s already exists", inst.Id)
	}
	s.instances[inst.Id] = data
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.instances[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "instance", Id: id}
	}
	return s.instanceCodec.Decode(data)
}

func (s *Store) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.instances[inst.Id]
	if !ok {
		return api.NotFoundError{Kind: "instance", Id: inst.Id}
	}
	stored, err := s.instanceCodec.Decode(data)
	if err != nil {
		return storageErr(err)
	}
	if stored.Version != inst.Version {
		return api.Conflictf("instance %s was modified concurrently, version %d, stored %d", inst.Id, inst.Version, stored.Version)
	}
	inst.Version++
	data, err = s.instanceCodec.Encode(*inst)
	if err != nil {
		inst.Version--
		return storageErr(err)
	}
	s.instances[inst.Id] = data
	return nil
}

func (s *Store) FindOverdue(ctx context.Context, now time.Time, limit int) ([]*model.WorkflowInstance, error) {
	return s.scanInstances(0, limit, func(inst *model.WorkflowInstance) bool {
		return inst.Status.IsActive() && !inst.SLABreached && inst.SLADueAt != nil && inst.SLADueAt.Before(now)
	})
}

func (s *Store) ListActive(ctx context.Context, offset int, limit int) ([]*model.WorkflowInstance, error) {
	return s.scanInstances(offset, limit, func(inst *model.WorkflowInstance) bool {
		return inst.Status.IsActive()
	})
}

func (s *Store) scanInstances(offset int, limit int, match func(*model.WorkflowInstance) bool) ([]*model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowInstance, 0)
	for _, data := range s.instances {
		inst, err := s.instanceCodec.Decode(data)
		if err != nil {
			return nil, storageErr(err)
		}
		if match(inst) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Id < out[j].Id
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []*model.WorkflowInstance{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateSteps(ctx context.Context, steps []*model.StepExecution) error {
	encoded := make([][]byte, 0, len(steps))
	for _, step := range steps {
		data, err := s.stepCodec.Encode(*step)
		if err != nil {
			return storageErr(err)
		}
		encoded = append(encoded, data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, step := range steps {
		if _, ok := s.steps[step.Id]; !ok {
			s.stepIndex[step.InstanceId] = append(s.stepIndex[step.InstanceId], step.Id)
		}
		s.steps[step.Id] = encoded[i]
	}
	return nil
}

func (s *Store) GetStep(ctx context.Context, id string) (*model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.steps[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "step", Id: id}
	}
	return s.stepCodec.Decode(data)
}

func (s *Store) UpdateStep(ctx context.Context, step *model.StepExecution) error {
	data, err := s.stepCodec.Encode(*step)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[step.Id]; !ok {
		return api.NotFoundError{Kind: "step", Id: step.Id}
	}
	s.steps[step.Id] = data
	return nil
}

func (s *Store) ListSteps(ctx context.Context, instanceId string) ([]*model.StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.stepIndex[instanceId]
	out := make([]*model.StepExecution, 0, len(ids))
	for _, id := range ids {
		step, err := s.stepCodec.Decode(s.steps[id])
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, step)
	}
	persistence.SortSteps(out)
	return out, nil
}

func (s *Store) CreateRequest(ctx context.Context, req *model.ApprovalRequest) error {
	data, err := s.requestCodec.Encode(*req)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.Id] = data
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.requests[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "approval request", Id: id}
	}
	return s.requestCodec.Decode(data)
}

func (s *Store) UpdateRequest(ctx context.Context, req *model.ApprovalRequest) error {
	data, err := s.requestCodec.Encode(*req)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.Id]; !ok {
		return api.NotFoundError{Kind: "approval request", Id: req.Id}
	}
	s.requests[req.Id] = data
	return nil
}

func (s *Store) ListRequestsByStep(ctx context.Context, stepId string) ([]*model.ApprovalRequest, error) {
	return s.scanRequests(0, func(r *model.ApprovalRequest) bool { return r.StepId == stepId })
}

func (s *Store) ListRequestsByInstance(ctx context.Context, instanceId string) ([]*model.ApprovalRequest, error) {
	return s.scanRequests(0, func(r *model.ApprovalRequest) bool { return r.InstanceId == instanceId })
}

func (s *Store) FindPendingDueBefore(ctx context.Context, t time.Time, limit int) ([]*model.ApprovalRequest, error) {
	return s.scanRequests(limit, func(r *model.ApprovalRequest) bool {
		return r.Status == model.REQUEST_PENDING && r.DueAt != nil && r.DueAt.Before(t)
	})
}

func (s *Store) scanRequests(limit int, match func(*model.ApprovalRequest) bool) ([]*model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ApprovalRequest, 0)
	for _, data := range s.requests {
		req, err := s.requestCodec.Decode(data)
		if err != nil {
			return nil, storageErr(err)
		}
		if match(req) {
			out = append(out, req)
		}
	}
	persistence.SortRequests(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendLog(ctx context.Context, log *model.EscalationLog) error {
	data, err := s.logCodec.Encode(*log)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.InstanceId] = append(s.logs[log.InstanceId], data)
	return nil
}

func (s *Store) ListLogs(ctx context.Context, instanceId string) ([]*model.EscalationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.EscalationLog, 0, len(s.logs[instanceId]))
	for _, data := range s.logs[instanceId] {
		log, err := s.logCodec.Decode(data)
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, log)
	}
	return out, nil
}

func (s *Store) SaveDelegation(ctx context.Context, d *model.UserDelegation) error {
	data, err := s.delegationCodec.Encode(*d)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegations[d.Id] = data
	return nil
}

func (s *Store) GetDelegation(ctx context.Context, id string) (*model.UserDelegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.delegations[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "delegation", Id: id}
	}
	return s.delegationCodec.Decode(data)
}

func (s *Store) ListDelegations(ctx context.Context, delegator string) ([]*model.UserDelegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.UserDelegation, 0)
	for _, data := range s.delegations {
		d, err := s.delegationCodec.Decode(data)
		if err != nil {
			return nil, storageErr(err)
		}
		if d.Delegator == delegator {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg *model.SLAConfiguration) error {
	data, err := s.slaConfigCodec.Encode(*cfg)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaConfigs[persistence.SLAConfigKey(cfg.EntityType, cfg.Priority)] = data
	return nil
}

func (s *Store) FindConfig(ctx context.Context, entityType string, priority model.Priority) (*model.SLAConfiguration, error) {
	key := persistence.SLAConfigKey(entityType, priority)
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.slaConfigs[key]
	if !ok {
		return nil, api.NotFoundError{Kind: "sla configuration", Id: key}
	}
	return s.slaConfigCodec.Decode(data)
}

func (s *Store) SaveTracking(ctx context.Context, tracking *model.SLATracking) error {
	data, err := s.trackingCodec.Encode(*tracking)
	if err != nil {
		return storageErr(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackings[tracking.InstanceId] = data
	return nil
}

func (s *Store) GetTracking(ctx context.Context, instanceId string) (*model.SLATracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.trackings[instanceId]
	if !ok {
		return nil, api.NotFoundError{Kind: "sla tracking", Id: instanceId}
	}
	return s.trackingCodec.Decode(data)
}

func (s *Store) ListDueTrackings(ctx context.Context, now time.Time, limit int) ([]*model.SLATracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.SLATracking, 0)
	for _, data := range s.trackings {
		tr, err := s.trackingCodec.Decode(data)
		if err != nil {
			return nil, storageErr(err)
		}
		if tr.Pending() && tr.NextCheck().Before(now) {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextCheck().Before(out[j].NextCheck()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
