package sim

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/sbclink/pkg/sbc/msgs"
)

func TestObjectModelPaths(t *testing.T) {
	om := NewObjectModel()
	require.NoError(t, om.Set(0, "state.status", "idle"))
	require.NoError(t, om.Set(0, "move.axes", []interface{}{
		map[string]interface{}{"letter": "X"},
		map[string]interface{}{"letter": "Y"},
	}))
	require.NoError(t, om.Set(0, "move.axes[1].machinePosition", 12.5))

	testCases := []struct {
		path   string
		expect string
	}{
		{path: "state.status", expect: `"idle"`},
		{path: "move.axes[1]", expect: `{"letter":"Y","machinePosition":12.5}`},
		{path: "move.axes[0].letter", expect: `"X"`},
		{path: "", expect: `{"move":{"axes":[{"letter":"X"},{"letter":"Y","machinePosition":12.5}]},"state":{"status":"idle"}}`},
	}
	for _, tc := range testCases {
		data, err := om.Read(0, tc.path)
		require.NoError(t, err, tc.path)
		require.JSONEq(t, tc.expect, string(data), tc.path)
	}

	v, err := om.Get(0, "move.axes[1].machinePosition")
	require.NoError(t, err)
	require.Equal(t, 12.5, v)

	for _, path := range []string{"state.missing", "move.axes[2]", "state.status.x", "move[0]"} {
		_, err := om.Read(0, path)
		require.True(t, errors.Is(err, ErrNotFound), path)
	}
	_, err = om.Read(1, "")
	require.True(t, errors.Is(err, ErrNotFound))

	for _, path := range []string{"a..b", "a[x]", "a[1", "[0]"} {
		_, err := om.Read(0, path)
		require.Error(t, err, path)
		require.False(t, errors.Is(err, ErrNotFound), path)
	}
}

func TestObjectModelWrite(t *testing.T) {
	om := NewObjectModel()
	require.NoError(t, om.Write(2, "tools.heaters", msgs.FloatArrayValue(200, 60)))
	require.NoError(t, om.Write(2, "tools.heaters[1]", msgs.IntValue(65)))
	require.NoError(t, om.Write(2, "tools.name", msgs.StringValue("hotend")))
	data, err := om.Read(2, "tools")
	require.NoError(t, err)
	require.JSONEq(t, `{"heaters":[200,65],"name":"hotend"}`, string(data))

	require.Error(t, om.Write(2, "tools.name.first", msgs.IntValue(1)))
	require.True(t, errors.Is(om.Write(2, "tools.list[0]", msgs.IntValue(1)), ErrNotFound))
	require.Error(t, om.Set(2, "", 1))
}
