package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{Kind: KindEvent, Event: "notebook.initialized", Data: map[string]any{
			"env":   "production",
			"ports": []any{int64(80), int64(443)},
		}},
		{Kind: KindRequest, Action: "fs.readFile", ResponseEvent: "fs.readFile_tok1", ErrorEvent: "fs.readFile_tok1_error", Data: map[string]any{
			"path": "/app/main.go",
		}},
		{Kind: KindResponse, Data: map[string]any{
			"bytes": []byte{0x00, 0x01, 0xFF, 0x7F},
			"ok":    true,
			"count": int64(0),
			"note":  nil,
		}},
		{Kind: KindError, Data: map[string]any{"code": int64(404), "message": "not found"}},
	}

	for _, f := range cases {
		b, err := Encode(f)
		require.NoError(t, err)
		require.NotEmpty(t, b)

		got, err := Decode(b)
		require.NoError(t, err)

		require.Equal(t, f.Kind, got.Kind)
		require.Equal(t, f.Action, got.Action)
		require.Equal(t, f.ResponseEvent, got.ResponseEvent)
		require.Equal(t, f.ErrorEvent, got.ErrorEvent)
		require.Equal(t, f.Event, got.Event)
		require.Equal(t, f.As, got.As)
		require.Equal(t, f.Data, got.Data)
	}
}

func TestDecodeRejectsNonBinary(t *testing.T) {
	_, err := Decode([]byte("not msgpack at all {{{"))
	require.Error(t, err)

	_, err = Decode(nil)
	require.Error(t, err)
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	f := Frame{Kind: KindEvent, Event: "container.stats", Extra: map[string]any{
		"futureField": "from a newer server",
	}}
	b, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, "from a newer server", got.Extra["futureField"])

	// Re-encoding a decoded frame must not drop the unknown field.
	b2, err := Encode(got)
	require.NoError(t, err)
	got2, err := Decode(b2)
	require.NoError(t, err)
	require.Equal(t, "from a newer server", got2.Extra["futureField"])
}
