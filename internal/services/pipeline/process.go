package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// defaultBridgePoll bounds how long the frame bridge waits before rechecking the stop flag
const defaultBridgePoll = 50 * time.Millisecond

// ProcessSpawner runs each worker as a child process speaking the envelope
// protocol on stdin/stdout. Forced termination kills the process.
type ProcessSpawner struct {
	Binary string
	Args   []string
	Env    []string
	Logger zerolog.Logger
}

func (s *ProcessSpawner) Spawn(_ context.Context, spec WorkerSpec) (WorkerHandle, error) {
	logger := s.Logger.With().Str("run_id", spec.RunID).Str("mode", "process").Logger()

	// Not bound to a context: termination is explicit through the handle
	cmd := exec.Command(s.Binary, s.Args...)
	if len(s.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	// A plain pipe rather than StdoutPipe: Wait must not close the read end
	// before the last results are consumed
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to start worker process %s: %w", s.Binary, err)
	}
	stdoutW.Close()
	logger.Info().Int("pid", cmd.Process.Pid).Str("binary", s.Binary).Msg("Worker process spawned")

	h := &processHandle{cmd: cmd, done: make(chan struct{}), exited: make(chan struct{})}

	go relayWorkerLogs(stderr, logger)
	resultsDone := bridgeWorker(spec, stdin, stdout, h.exited, logger)
	go func() {
		// Reap the child so it never lingers as a zombie
		err := cmd.Wait()
		if err != nil {
			logger.Debug().Err(err).Msg("Worker process exited")
		} else {
			logger.Info().Msg("Worker process exited cleanly")
		}
		close(h.exited)
		<-resultsDone
		stdout.Close()
		close(h.done)
	}()

	return h, nil
}

type processHandle struct {
	cmd    *exec.Cmd
	exited chan struct{}
	done   chan struct{} // closed once exited and every result has been read
}

func (h *processHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *processHandle) Terminate() error {
	select {
	case <-h.exited:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill worker process: %w", err)
	}
	return nil
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

// bridgeWorker connects a run's queues to a worker speaking the envelope
// protocol. Frames flow out through w until the stop flag is raised, then a
// stop envelope is sent and w is closed. Results read from r land in the run's
// result queue until r ends; the returned channel is closed at that point.
func bridgeWorker(spec WorkerSpec, w io.WriteCloser, r io.Reader, done <-chan struct{}, logger zerolog.Logger) <-chan struct{} {
	go func() {
		defer w.Close()

		hello := envelope{
			Type:            envelopeInit,
			RunID:           spec.RunID,
			Settings:        &spec.Settings,
			SettingsVersion: spec.SettingsVersion,
		}
		if err := writeEnvelope(w, hello); err != nil {
			logger.Error().Err(err).Msg("Failed to send init to worker")
			return
		}

		for {
			select {
			case <-done:
				return
			default:
			}

			if spec.Stop.Stopped() {
				if err := writeEnvelope(w, envelope{Type: envelopeStop}); err != nil {
					logger.Debug().Err(err).Msg("Failed to send stop to worker")
				}
				return
			}

			msg, err := spec.Frames.Receive(defaultBridgePoll)
			switch {
			case errors.Is(err, ErrReceiveTimeout):
				continue
			case errors.Is(err, ErrQueueClosed):
				_ = writeEnvelope(w, envelope{Type: envelopeStop})
				return
			case err != nil:
				logger.Error().Err(err).Msg("Frame bridge failed")
				return
			}

			if err := writeEnvelope(w, envelope{Type: envelopeFrame, Frame: &msg}); err != nil {
				logger.Warn().Err(err).Msg("Worker stopped accepting frames")
				return
			}
		}
	}()

	resultsDone := make(chan struct{})
	go func() {
		defer close(resultsDone)
		for {
			env, err := readEnvelope(r)
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
					logger.Debug().Err(err).Msg("Result stream ended")
				}
				return
			}
			if env.Type != envelopeResult || env.Result == nil {
				logger.Warn().Str("type", string(env.Type)).Msg("Unexpected envelope from worker")
				continue
			}
			spec.Results.Put(*env.Result)
		}
	}()
	return resultsDone
}

type workerLogLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// relayWorkerLogs re-emits the child's JSON log lines through the parent logger
// at the level the child logged them. Anything that is not a JSON log line
// (a crash trace, say) is relayed as a warning.
func relayWorkerLogs(r io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		var entry workerLogLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Str("worker_log", line).Msg("Worker output")
			continue
		}
		level, err := zerolog.ParseLevel(entry.Level)
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.DebugLevel
		}
		switch level {
		case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
			logger.Error().Str("worker_log", line).Msg("Worker error")
		case zerolog.WarnLevel:
			logger.Warn().Str("worker_log", line).Msg("Worker warning")
		case zerolog.InfoLevel:
			logger.Info().Str("worker_log", line).Msg("Worker log")
		default:
			logger.Debug().Str("worker_log", line).Msg("Worker log")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug().Err(err).Msg("Worker stderr closed")
	}
}
