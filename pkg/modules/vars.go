package modules

import (
	"context"
	"fmt"
)

// debugModule, setFactModule, assertModule and failModule are pure
// variable/control-flow actions: none touch the connection, all operate on
// the rendered argument map the core has already passed through the
// template engine.

type debugModule struct{}

func (m *debugModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	if msg := args.str("msg"); msg != "" {
		return Result{Changed: false, Msg: msg}, nil
	}
	if v, ok := args["var"]; ok {
		return Result{Changed: false, Msg: fmt.Sprintf("%v", v)}, nil
	}
	return Result{Changed: false}, nil
}

type setFactModule struct{}

func (m *setFactModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	facts := map[string]any{}
	for k, v := range args {
		facts[k] = v
	}
	return Result{Changed: false, Facts: facts}, nil
}

type assertModule struct{}

func (m *assertModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	that, ok := args["that"]
	if !ok {
		return Result{}, fmt.Errorf("assert requires `that`")
	}
	conditions, ok := that.([]any)
	if !ok {
		// a single bare condition, not a list
		conditions = []any{that}
	}
	for _, c := range conditions {
		truthy, ok := c.(bool)
		if !ok || !truthy {
			msg := args.str("fail_msg")
			if msg == "" {
				msg = fmt.Sprintf("assertion failed: %v", c)
			}
			return Result{Failed: true, Msg: msg}, nil
		}
	}
	msg := args.str("success_msg")
	if msg == "" {
		msg = "all assertions passed"
	}
	return Result{Changed: false, Msg: msg}, nil
}

type failModule struct{}

func (m *failModule) Run(ctx context.Context, mctx *Context, args Args) (Result, error) {
	msg := args.str("msg")
	if msg == "" {
		msg = "failed as requested"
	}
	return Result{Failed: true, Msg: msg}, nil
}
