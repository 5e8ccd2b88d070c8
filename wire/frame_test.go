package wire

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFramerRoundTrip(t *testing.T) {
	for _, c := range []Codec{CodecJSON, CodecClone, CodecBSON, CodecFRON} {
		c := c
		t.Run(string(c), func(t *testing.T) {
			f, err := NewFramer(c)
			require.NoError(t, err)

			frame, err := f.Encode(INVOKE, int64(42), "user", "getName", []interface{}{"a", "b"})
			require.NoError(t, err)

			msgs, carry, err := f.Decode(frame, nil)
			require.NoError(t, err)
			require.Empty(t, carry)
			require.Len(t, msgs, 1)
			require.Equal(t, INVOKE, msgs[0].Tag)
			require.Len(t, msgs[0].Payload, 4)
		})
	}
}

func TestCloneCodecRoundTripsDateAndRegexp(t *testing.T) {
	f, err := NewFramer(CodecClone)
	require.NoError(t, err)

	when := time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)
	pattern := regexp.MustCompile(`^ab+c$`)

	frame, err := f.Encode(RETURN, "task-1", map[string]interface{}{
		"when": when,
		"re":   pattern,
	})
	require.NoError(t, err)

	msgs, carry, err := f.Decode(frame, nil)
	require.NoError(t, err)
	require.Empty(t, carry)
	require.Len(t, msgs, 1)

	value, ok := msgs[0].Payload[1].(map[string]interface{})
	require.True(t, ok)

	gotWhen, ok := value["when"].(time.Time)
	require.True(t, ok)
	require.True(t, when.Equal(gotWhen))

	gotRe, ok := value["re"].(*regexp.Regexp)
	require.True(t, ok)
	require.Equal(t, pattern.String(), gotRe.String())
}

// Plain JSON, by contrast, flattens both to strings: CLONE exists
// precisely to avoid this.
func TestJSONCodecFlattensDateAndRegexp(t *testing.T) {
	f, err := NewFramer(CodecJSON)
	require.NoError(t, err)

	when := time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

	frame, err := f.Encode(RETURN, "task-1", when)
	require.NoError(t, err)

	msgs, _, err := f.Decode(frame, nil)
	require.NoError(t, err)
	_, isString := msgs[0].Payload[1].(string)
	require.True(t, isString)
}

func TestFramerSplitAcrossReads(t *testing.T) {
	f, err := NewFramer(CodecJSON)
	require.NoError(t, err)

	frame, err := f.Encode(PING, "client-1")
	require.NoError(t, err)

	// Simulate a short read landing mid-frame.
	mid := len(frame) / 2
	msgs, carry, err := f.Decode(frame[:mid], nil)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.NotEmpty(t, carry)

	msgs, carry, err = f.Decode(frame[mid:], carry)
	require.NoError(t, err)
	require.Empty(t, carry)
	require.Len(t, msgs, 1)
	require.Equal(t, PING, msgs[0].Tag)
}

func TestFramerMultipleMessagesInOneRead(t *testing.T) {
	f, err := NewFramer(CodecJSON)
	require.NoError(t, err)

	a, err := f.Encode(PING, "c1")
	require.NoError(t, err)
	b, err := f.Encode(PONG)
	require.NoError(t, err)

	buf := append(append([]byte(nil), a...), b...)
	msgs, carry, err := f.Decode(buf, nil)
	require.NoError(t, err)
	require.Empty(t, carry)
	require.Len(t, msgs, 2)
	require.Equal(t, PING, msgs[0].Tag)
	require.Equal(t, PONG, msgs[1].Tag)
}
