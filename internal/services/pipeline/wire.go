package pipeline

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"vehicle-counter-go/internal/models"
)

// maxEnvelopeSize bounds a single message; a 4K BGR frame is about 25MB
const maxEnvelopeSize = 64 << 20

type envelopeType string

const (
	envelopeInit   envelopeType = "init"
	envelopeFrame  envelopeType = "frame"
	envelopeStop   envelopeType = "stop"
	envelopeResult envelopeType = "result"
)

// envelope is the unit exchanged with a worker process over stdin/stdout
type envelope struct {
	Type            envelopeType             `msgpack:"type"`
	RunID           string                   `msgpack:"run_id,omitempty"`
	Settings        *models.PipelineSettings `msgpack:"settings,omitempty"`
	SettingsVersion uint64                   `msgpack:"settings_version,omitempty"`
	Frame           *models.FrameMessage     `msgpack:"frame,omitempty"`
	Result          *models.Result           `msgpack:"result,omitempty"`
}

// writeEnvelope writes a 4 byte big-endian length prefix followed by the msgpack body
func writeEnvelope(w io.Writer, env envelope) error {
	body, err := msgpack.Marshal(&env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", env.Type, err)
	}
	if len(body) > maxEnvelopeSize {
		return fmt.Errorf("%s envelope of %d bytes exceeds limit", env.Type, len(body))
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write %s envelope: %w", env.Type, err)
	}
	return nil
}

// readEnvelope reads one length-prefixed envelope. io.EOF is returned as-is
// when the stream ends cleanly between messages.
func readEnvelope(r io.Reader) (envelope, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return envelope{}, err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxEnvelopeSize {
		return envelope{}, fmt.Errorf("envelope length %d exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return envelope{}, fmt.Errorf("failed to read envelope body (%d bytes): %w", n, err)
	}

	var env envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}
