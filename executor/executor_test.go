package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRunFilterDefaultAccepts(t *testing.T) {
	e := New(nil, nil, nil)
	res := e.RunFilter(context.Background(), &View{Raw: "hello"})
	if !res.Accepted || res.Error != nil {
		t.Fatalf("expected default filter to accept, got %+v", res)
	}
}

func TestRunFilterRecoversPanic(t *testing.T) {
	e := New(func(ctx context.Context, v *View) (bool, error) {
		panic("boom")
	}, nil, nil)
	res := e.RunFilter(context.Background(), &View{Raw: "hello"})
	if res.Accepted {
		t.Fatal("expected rejection on panic")
	}
	if res.Error == nil || res.Error.Code != "SCRIPT_PANIC" {
		t.Fatalf("expected SCRIPT_PANIC error, got %+v", res.Error)
	}
}

func TestRunTransformerAppliesScript(t *testing.T) {
	e := New(nil, func(ctx context.Context, v *View) (string, error) {
		return strings.ToUpper(v.Raw), nil
	}, nil)
	res := e.RunTransformer(context.Background(), &View{Raw: "hello"})
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if res.Output != "HELLO" {
		t.Fatalf("expected HELLO, got %q", res.Output)
	}
}

func TestRunResponseTransformerPropagatesError(t *testing.T) {
	e := New(nil, nil, func(ctx context.Context, v *View) (string, error) {
		return "", errors.New("bad response")
	})
	res := e.RunResponseTransformer(context.Background(), &View{Raw: "resp"})
	if res.Error == nil || res.Error.Code != "SCRIPT_ERROR" {
		t.Fatalf("expected SCRIPT_ERROR, got %+v", res.Error)
	}
}
