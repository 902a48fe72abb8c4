package wire_test

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/signalr.go/pkg/wire"
)

func TestHubInvocationEncoding(t *testing.T) {
	args, err := wire.EncodeArgs([]any{2, "x", nil, func() {}})
	require.NoError(t, err)

	inv := wire.HubInvocation{
		Hub:    "calc",
		Method: "add",
		Args:   args,
		ID:     wire.NewCorrelationID(0),
	}
	data, err := json.Marshal(inv)
	require.NoError(t, err)
	assert.JSONEq(t, `{"H":"calc","M":"add","A":[2,"x",null,null],"I":"0"}`, string(data))

	inv.State = wire.State{"user": json.RawMessage(`"bob"`)}
	data, err = json.Marshal(inv)
	require.NoError(t, err)
	assert.JSONEq(t, `{"H":"calc","M":"add","A":[2,"x",null,null],"I":"0","S":{"user":"bob"}}`, string(data))
}

func TestHubResultDecoding(t *testing.T) {
	t.Run("string id", func(t *testing.T) {
		var res wire.HubResult
		require.NoError(t, json.Unmarshal([]byte(`{"I":"0","R":5,"S":{"n":1}}`), &res))
		assert.Equal(t, wire.CorrelationID("0"), res.ID)
		assert.JSONEq(t, `5`, string(res.Result))
		assert.JSONEq(t, `1`, string(res.State["n"]))
	})

	t.Run("numeric id", func(t *testing.T) {
		var res wire.HubResult
		require.NoError(t, json.Unmarshal([]byte(`{"I":12,"E":"boom","T":"at X"}`), &res))
		assert.Equal(t, wire.CorrelationID("12"), res.ID)
		assert.Equal(t, "boom", res.Error)
		assert.Equal(t, "at X", res.StackTrace)
	})
}

func TestIsHubResult(t *testing.T) {
	assert.True(t, wire.IsHubResult([]byte(`{"I":"1"}`)))
	assert.False(t, wire.IsHubResult([]byte(`{"H":"chat","M":"broadcast","A":["hi"]}`)))
}

func TestStateMergeAndClone(t *testing.T) {
	s := wire.State{"a": json.RawMessage(`1`), "b": json.RawMessage(`2`)}
	s.Merge(wire.State{"b": json.RawMessage(`3`), "c": json.RawMessage(`4`)})
	assert.Equal(t, wire.State{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`3`),
		"c": json.RawMessage(`4`),
	}, s)

	c := s.Clone()
	c["a"][0] = '9'
	assert.Equal(t, json.RawMessage(`1`), s["a"])
}
