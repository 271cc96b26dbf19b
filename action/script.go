package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"go.uber.org/zap"
)

type ScriptConfig struct {
	Timeout time.Duration
}

// scriptHandler runs javascript with the entity snapshot bound to $. Whatever
// $ holds when the script ends is merged back into the instance context.
type scriptHandler struct {
	timeout time.Duration
}

func NewScriptHandler(conf ScriptConfig) *scriptHandler {
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &scriptHandler{timeout: timeout}
}

func (h *scriptHandler) Validate(config map[string]any) error {
	script := stringValue(config, "script")
	if len(script) == 0 {
		return errMissing("script")
	}
	if _, err := goja.Compile("", script, false); err != nil {
		return api.Invalidf("script", "does not compile: %v", err)
	}
	return nil
}

func (h *scriptHandler) Execute(ctx context.Context, req *Request) (Result, error) {
	script := stringValue(req.Config, "script")
	if len(script) == 0 {
		return Result{}, errMissing("script")
	}
	logger.Debug("running script action", zap.String("entity", req.Entity.Id))
	data, err := json.Marshal(req.Snapshot)
	if err != nil {
		return Result{}, err
	}
	vm := goja.New()
	timer := time.AfterFunc(h.timeout, func() {
		vm.Interrupt("script timed out")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("context cancelled")
	})
	defer stop()

	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;\n%s", data, script)); err != nil {
		return Result{}, fmt.Errorf("error executing javascript %w", err)
	}
	val, err := vm.RunString("$")
	if err != nil {
		return Result{}, fmt.Errorf("error executing javascript %w", err)
	}
	res, err := json.Marshal(val.Export())
	if err != nil {
		return Result{}, err
	}
	var output map[string]any
	if err := json.Unmarshal(res, &output); err != nil {
		return Result{}, fmt.Errorf("script must leave an object in $: %w", err)
	}
	return Result{Context: output}, nil
}
