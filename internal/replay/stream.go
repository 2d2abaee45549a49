package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gridline-data/gridline.replay/internal/telemetry"
	"github.com/gridline-data/gridline.replay/internal/timeutil"
)

const (
	// tickInterval is the streaming loop cadence.
	tickInterval = time.Second / 60

	// commandReadTimeout bounds the per-tick wait for a client command so
	// silence never stalls frame emission.
	commandReadTimeout = 10 * time.Millisecond

	// awaitReadyTimeout is how long a client waits for a loading session.
	awaitReadyTimeout = 300 * time.Second

	// playheadStep converts one tick of playback at speed 1.0 into frame
	// index units: source cadence over tick cadence.
	playheadStep = float64(telemetry.FrameRate) * float64(tickInterval) / float64(time.Second)
)

// ErrReadTimeout is returned by Conn.ReadCommand when no command arrived
// within the timeout. The streaming loop treats it as "no input".
var ErrReadTimeout = errors.New("replay: command read timed out")

// Conn is the duplex client channel the streamer drives. The websocket
// adapter lives in the transport layer.
type Conn interface {
	// ReadCommand returns the next client message, ErrReadTimeout when none
	// arrived in time, or a terminal error when the peer is gone.
	ReadCommand(timeout time.Duration) ([]byte, error)

	// WriteBinary sends one serialized frame.
	WriteBinary(data []byte) error

	// WriteJSON sends a control payload (progress, errors).
	WriteJSON(v interface{}) error
}

// Command is a client control message.
type Command struct {
	Action string   `json:"action"`
	Speed  *float64 `json:"speed,omitempty"`
	Frame  *float64 `json:"frame,omitempty"`
}

// Streamer runs the per-client streaming state machine: wait for the
// session to become READY, then emit one binary frame per playhead tick,
// honoring play, pause and seek commands.
type Streamer struct {
	session *Session
	conn    Conn
	clock   timeutil.Clock
	log     zerolog.Logger

	playhead float64
	speed    float64
	playing  bool
	ended    bool
	lastSent int
}

// NewStreamer returns a Streamer for one client connection.
func NewStreamer(session *Session, conn Conn, clock timeutil.Clock, log zerolog.Logger) *Streamer {
	return &Streamer{
		session:  session,
		conn:     conn,
		clock:    clock,
		log:      log,
		speed:    1.0,
		lastSent: -1,
	}
}

// Run drives the connection until the client disconnects, the context is
// cancelled, or the session fails. The returned error describes why the
// loop ended; a clean disconnect returns nil.
func (st *Streamer) Run(ctx context.Context) error {
	if err := st.awaitReady(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := st.conn.ReadCommand(commandReadTimeout)
		switch {
		case err == nil:
			if err := st.handleCommand(msg); err != nil {
				st.conn.WriteJSON(map[string]string{"error": err.Error()})
				return err
			}
		case errors.Is(err, ErrReadTimeout):
			// No command this tick.
		default:
			st.log.Debug().Err(err).Msg("client disconnected")
			return nil
		}

		if st.playing {
			st.playhead += st.speed * playheadStep
		}

		// The frame under the playhead goes out even when paused, so a
		// seek is visible on the next tick without pressing play.
		idx := int(st.playhead)
		n := st.session.FrameCount()
		if idx >= 0 && idx < n && idx != st.lastSent {
			frame, err := st.session.BinaryFrame(idx)
			if err != nil {
				return err
			}
			if err := st.conn.WriteBinary(frame); err != nil {
				st.log.Debug().Err(err).Msg("frame send failed")
				return nil
			}
			st.lastSent = idx
		}
		if st.playing && st.playhead >= float64(n) {
			st.playing = false
			st.ended = true
			st.playhead = float64(n - 1)
		}

		st.clock.Sleep(tickInterval)
	}
}

// awaitReady blocks until the session is READY, forwarding progress events
// to the client. ERROR and timeout both surface as a JSON error before
// returning.
func (st *Streamer) awaitReady(ctx context.Context) error {
	start := st.clock.Now()
	lastProgress := -1.0
	for {
		switch st.session.State() {
		case StateReady:
			return nil
		case StateError:
			msg := st.session.LoadError()
			st.conn.WriteJSON(map[string]string{"error": msg})
			return fmt.Errorf("session failed to load: %s", msg)
		}
		if ctx.Err() != nil {
			return nil
		}
		if st.clock.Since(start) > awaitReadyTimeout {
			st.conn.WriteJSON(map[string]string{"error": "timed out waiting for session to load"})
			return errors.New("timed out waiting for session readiness")
		}
		if p := st.session.Progress(); p != lastProgress {
			lastProgress = p
			st.conn.WriteJSON(map[string]interface{}{
				"type":     "progress",
				"state":    st.session.State().String(),
				"progress": p,
			})
		}
		st.clock.Sleep(100 * time.Millisecond)
	}
}

func (st *Streamer) handleCommand(msg []byte) error {
	var cmd Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return fmt.Errorf("malformed command: %w", err)
	}
	switch cmd.Action {
	case "play":
		st.speed = 1.0
		if cmd.Speed != nil {
			st.speed = *cmd.Speed
		}
		st.playing = true
		st.ended = false
	case "pause":
		st.playing = false
	case "seek":
		if cmd.Frame == nil {
			return errors.New("seek command missing frame")
		}
		st.playhead = *cmd.Frame
		st.lastSent = -1
		st.ended = false
	default:
		// Unknown actions are ignored so newer clients degrade gracefully.
		st.log.Debug().Str("action", cmd.Action).Msg("ignoring unknown action")
	}
	return nil
}
