package approval

import (
	"context"

	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
)

// Changes buffers the request writes of one transition. Reads through it see
// the buffered state, the store sees nothing until Flush.
type Changes struct {
	store  persistence.ApprovalStore
	staged map[string]*model.ApprovalRequest
	fresh  map[string]bool
	order  []string
}

func NewChanges(store persistence.ApprovalStore) *Changes {
	return &Changes{
		store:  store,
		staged: make(map[string]*model.ApprovalRequest),
		fresh:  make(map[string]bool),
	}
}

func (ch *Changes) create(req *model.ApprovalRequest) {
	ch.fresh[req.Id] = true
	ch.stage(req)
}

func (ch *Changes) update(req *model.ApprovalRequest) {
	ch.stage(req)
}

func (ch *Changes) stage(req *model.ApprovalRequest) {
	if _, ok := ch.staged[req.Id]; !ok {
		ch.order = append(ch.order, req.Id)
	}
	ch.staged[req.Id] = req
}

func (ch *Changes) Get(ctx context.Context, requestId string) (*model.ApprovalRequest, error) {
	if req, ok := ch.staged[requestId]; ok {
		return req, nil
	}
	return ch.store.GetRequest(ctx, requestId)
}

// ByStep lists the requests of a step with the buffered writes applied.
func (ch *Changes) ByStep(ctx context.Context, stepId string) ([]*model.ApprovalRequest, error) {
	stored, err := ch.store.ListRequestsByStep(ctx, stepId)
	if err != nil {
		return nil, err
	}
	out := make([]*model.ApprovalRequest, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for _, r := range stored {
		seen[r.Id] = true
		if staged, ok := ch.staged[r.Id]; ok {
			r = staged
		}
		out = append(out, r)
	}
	for _, id := range ch.order {
		if r := ch.staged[id]; r.StepId == stepId && !seen[id] {
			out = append(out, r)
		}
	}
	persistence.SortRequests(out)
	return out, nil
}

func (ch *Changes) Len() int {
	return len(ch.order)
}

// Flush writes the buffered requests in the order they were first touched.
func (ch *Changes) Flush(ctx context.Context) error {
	for i, id := range ch.order {
		req := ch.staged[id]
		var err error
		if ch.fresh[id] {
			err = ch.store.CreateRequest(ctx, req)
		} else {
			err = ch.store.UpdateRequest(ctx, req)
		}
		if err != nil {
			ch.order = ch.order[i:]
			return err
		}
		delete(ch.staged, id)
		delete(ch.fresh, id)
	}
	ch.order = nil
	return nil
}
