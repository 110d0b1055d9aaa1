package callctx

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(ctx context.Context, args Args) (any, error) {
	a, _ := args["a_param"].(int)
	d, _ := args["default_param"].(int)
	return a + d, nil
}

var sumSig = Signature{
	Name:   "sum",
	Params: []Param{Typed[int]("a_param"), Optional("default_param", 123)},
}

func TestCallUsesDefault(t *testing.T) {
	got, err := Caller{}.Call(context.Background(), sumSig, sum, map[string]any{"a_param": 1})
	require.NoError(t, err)
	assert.Equal(t, 124, got)
}

func TestCallMissingParamNamesIt(t *testing.T) {
	_, err := Caller{}.Call(context.Background(), sumSig, sum, map[string]any{"default_param": 3})
	require.Error(t, err)
	var missing *MissingParamError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "a_param", missing.Param)
	assert.Equal(t, "sum", missing.Func)
	assert.Contains(t, err.Error(), "'a_param'")
}

func TestCallIgnoresUnconsumedValues(t *testing.T) {
	var seen Args
	fn := func(ctx context.Context, args Args) (any, error) {
		seen = args
		return nil, nil
	}
	sig := Signature{Name: "fn", Params: []Param{Required("instance")}}
	_, err := Caller{}.Call(context.Background(), sig, fn, map[string]any{"instance": "x", "request_user": "u"})
	require.NoError(t, err)
	assert.Equal(t, Args{"instance": "x"}, seen)
}

func TestCallExtraPassesThrough(t *testing.T) {
	var seen Args
	fn := func(ctx context.Context, args Args) (any, error) {
		seen = args
		return nil, nil
	}
	sig := Signature{Name: "fn", Params: []Param{Required("instance")}, Extra: true}
	_, err := Caller{}.Call(context.Background(), sig, fn, map[string]any{"instance": "x", "request_user": "u"})
	require.NoError(t, err)
	assert.Equal(t, Args{"instance": "x", "request_user": "u"}, seen)
}

func TestTypeMismatchWarnsAndProceeds(t *testing.T) {
	var buf bytes.Buffer
	c := Caller{Logger: log.New(&buf, "", 0)}
	got, err := c.Call(context.Background(), sumSig, sum, map[string]any{"a_param": "1"})
	require.NoError(t, err)
	assert.Equal(t, 123, got)
	out := buf.String()
	assert.Contains(t, out, "WARNING:")
	assert.Contains(t, out, "'a_param'")
	assert.Contains(t, out, "'int'")
	assert.Contains(t, out, "'string'")
	assert.Contains(t, out, ".go:")
}

type shape interface{ Area() int }

type square int

func (s square) Area() int { return int(s * s) }

func TestInterfaceTypedParamAcceptsImplementations(t *testing.T) {
	var buf bytes.Buffer
	c := Caller{Logger: log.New(&buf, "", 0)}
	sig := Signature{Name: "area", Params: []Param{Typed[shape]("s")}}
	args, err := c.Resolve(sig, map[string]any{"s": square(3)})
	require.NoError(t, err)
	assert.Equal(t, 9, Get[shape](args, "s").Area())
	assert.Empty(t, buf.String())
}

func TestNilValueSkipsTypeCheck(t *testing.T) {
	var buf bytes.Buffer
	c := Caller{Logger: log.New(&buf, "", 0)}
	args, err := c.Resolve(sumSig, map[string]any{"a_param": nil})
	require.NoError(t, err)
	assert.Nil(t, args["a_param"])
	assert.Empty(t, buf.String())
}
