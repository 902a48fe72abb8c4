package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	c := JSON{}

	data, err := c.Marshal(map[string]any{"H": "chat", "A": []int{1, 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"H":"chat","A":[1,2]}`, string(data))

	var out struct {
		H string
		A []int
	}
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, "chat", out.H)
	assert.Equal(t, []int{1, 2}, out.A)

	assert.Error(t, c.Unmarshal([]byte(`{"H":`), &out))
}
