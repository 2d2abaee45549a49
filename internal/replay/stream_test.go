package replay

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridline-data/gridline.replay/internal/telemetry"
	"github.com/gridline-data/gridline.replay/internal/timeutil"
)

// scriptConn feeds a fixed command script to the streamer, one entry per
// ReadCommand call. A nil entry stands for a tick with no client input; once
// the script is exhausted the client "disconnects" with io.EOF.
type scriptConn struct {
	t      *testing.T
	codec  *Codec
	script [][]byte
	pos    int

	frames []int // decoded indexes of emitted binary frames
	jsons  []string
	onJSON func()
}

func newScriptConn(t *testing.T, script [][]byte) *scriptConn {
	t.Helper()
	codec, err := NewCodec()
	require.NoError(t, err)
	return &scriptConn{t: t, codec: codec, script: script}
}

func (c *scriptConn) ReadCommand(time.Duration) ([]byte, error) {
	if c.pos >= len(c.script) {
		return nil, io.EOF
	}
	entry := c.script[c.pos]
	c.pos++
	if entry == nil {
		return nil, ErrReadTimeout
	}
	return entry, nil
}

func (c *scriptConn) WriteBinary(data []byte) error {
	f, err := c.codec.DecodeBinary(data)
	require.NoError(c.t, err)
	c.frames = append(c.frames, f.Index)
	return nil
}

func (c *scriptConn) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	require.NoError(c.t, err)
	c.jsons = append(c.jsons, string(b))
	if c.onJSON != nil {
		c.onJSON()
	}
	return nil
}

func ticks(n int) [][]byte {
	return make([][]byte, n)
}

func newTestStreamer(t *testing.T, s *Session, conn Conn) (*Streamer, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	clock.AdvanceOnSleep = true
	return NewStreamer(s, conn, clock, zerolog.Nop()), clock
}

func TestStreamerPlaysFramesInOrder(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 5)
	script := append([][]byte{[]byte(`{"action":"play"}`)}, ticks(15)...)
	conn := newScriptConn(t, script)
	st, _ := newTestStreamer(t, s, conn)

	require.NoError(t, st.Run(context.Background()))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, conn.frames)
	assert.True(t, st.ended)
	assert.False(t, st.playing)
	assert.Equal(t, 4.0, st.playhead)
}

func TestStreamerPause(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 5)
	script := [][]byte{[]byte(`{"action":"play"}`), nil, nil}
	script = append(script, []byte(`{"action":"pause"}`))
	script = append(script, ticks(6)...)
	conn := newScriptConn(t, script)
	st, _ := newTestStreamer(t, s, conn)

	require.NoError(t, st.Run(context.Background()))

	// Frames 0 and 1 went out before the pause; nothing after.
	assert.Equal(t, []int{0, 1}, conn.frames)
	assert.False(t, st.ended)
}

func TestStreamerSeekResendsCurrentFrame(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 5)
	script := [][]byte{
		[]byte(`{"action":"play"}`), nil,
		[]byte(`{"action":"seek","frame":0}`), nil,
	}
	conn := newScriptConn(t, script)
	st, _ := newTestStreamer(t, s, conn)

	require.NoError(t, st.Run(context.Background()))

	// The seek clears the de-dup marker, so frame 0 goes out again.
	assert.Equal(t, []int{0, 0}, conn.frames)
}

func TestStreamerSeekWhilePaused(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 5)
	script := append([][]byte{[]byte(`{"action":"seek","frame":2}`)}, ticks(5)...)
	conn := newScriptConn(t, script)
	st, _ := newTestStreamer(t, s, conn)

	require.NoError(t, st.Run(context.Background()))

	// Seeking does not start playback, but the target frame goes out once
	// so paused scrubbing lands somewhere visible.
	assert.Equal(t, []int{2}, conn.frames)
	assert.False(t, st.playing)
	assert.Equal(t, 2.0, st.playhead)
}

func TestStreamerResumeAfterEnd(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 5)
	script := append([][]byte{[]byte(`{"action":"play"}`)}, ticks(15)...)
	script = append(script,
		[]byte(`{"action":"seek","frame":0}`),
		[]byte(`{"action":"play"}`),
		nil, nil,
	)
	conn := newScriptConn(t, script)
	st, _ := newTestStreamer(t, s, conn)

	require.NoError(t, st.Run(context.Background()))

	require.GreaterOrEqual(t, len(conn.frames), 6)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, conn.frames[:5])
	// Replay restarted from the top.
	assert.Equal(t, 0, conn.frames[5])
	assert.False(t, st.ended)
}

func TestStreamerSpeed(t *testing.T) {
	t.Parallel()
	s := readyRaceSession(t, 5)
	script := append([][]byte{[]byte(`{"action":"play","speed":2.0}`)}, ticks(6)...)
	conn := newScriptConn(t, script)
	st, _ := newTestStreamer(t, s, conn)

	require.NoError(t, st.Run(context.Background()))

	// Double speed covers the five frames in six ticks.
	assert.Equal(t, []int{0, 1, 2, 3, 4}, conn.frames)
}

func TestStreamerBadCommands(t *testing.T) {
	t.Parallel()

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		s := readyRaceSession(t, 5)
		conn := newScriptConn(t, [][]byte{[]byte(`{`)})
		st, _ := newTestStreamer(t, s, conn)

		err := st.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed command")
		require.NotEmpty(t, conn.jsons)
		assert.Contains(t, conn.jsons[len(conn.jsons)-1], "error")
	})

	t.Run("unknown action is ignored", func(t *testing.T) {
		t.Parallel()
		s := readyRaceSession(t, 5)
		script := [][]byte{[]byte(`{"action":"warp"}`), []byte(`{"action":"play"}`)}
		script = append(script, ticks(15)...)
		conn := newScriptConn(t, script)
		st, _ := newTestStreamer(t, s, conn)
		require.NoError(t, st.Run(context.Background()))
		assert.Equal(t, []int{0, 1, 2, 3, 4}, conn.frames)
	})

	t.Run("seek without frame", func(t *testing.T) {
		t.Parallel()
		s := readyRaceSession(t, 5)
		conn := newScriptConn(t, [][]byte{[]byte(`{"action":"seek"}`)})
		st, _ := newTestStreamer(t, s, conn)
		err := st.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "seek command missing frame")
	})
}

func TestStreamerAwaitReady(t *testing.T) {
	t.Parallel()

	t.Run("forwards progress until ready", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)
		s.setProgress(StateLoading, 42, "Generating frames")

		conn := newScriptConn(t, nil)
		st, _ := newTestStreamer(t, s, conn)
		// The first forwarded progress event flips the session to ready, as
		// the loader would.
		conn.onJSON = func() {
			conn.onJSON = nil
			require.NoError(t, s.install(&telemetry.RaceData{Frames: raceFrames(3)}, nil))
			s.setProgress(StateReady, 100, "Ready")
		}

		require.NoError(t, st.Run(context.Background()))
		require.NotEmpty(t, conn.jsons)
		assert.Contains(t, conn.jsons[0], `"state":"LOADING"`)
		assert.Contains(t, conn.jsons[0], `"progress":42`)
	})

	t.Run("session error surfaces to the client", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)
		s.setProgress(StateError, 100, "No valid telemetry data found for any driver")

		conn := newScriptConn(t, nil)
		st, _ := newTestStreamer(t, s, conn)
		err = st.Run(context.Background())
		require.Error(t, err)
		require.NotEmpty(t, conn.jsons)
		assert.Contains(t, conn.jsons[0], "No valid telemetry data found for any driver")
	})

	t.Run("loading forever times out", func(t *testing.T) {
		t.Parallel()
		codec, err := NewCodec()
		require.NoError(t, err)
		s := newSession(2025, 4, "R", codec)
		s.setProgress(StateLoading, 0, "Initializing session")

		conn := newScriptConn(t, nil)
		st, _ := newTestStreamer(t, s, conn)
		err = st.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
		assert.Contains(t, conn.jsons[len(conn.jsons)-1], "timed out")
	})
}
