package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/mattn/go-shellwords"
)

// execTranscriber runs an external command per pass. The command receives
// --audio <wav> and optional --model, --language and --partial flags and
// must print {"text": ..., "confidence": ...} on stdout.
type execTranscriber struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecTranscriber(cfg config.STTConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execTranscriber{cmd: args, cfg: cfg}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, language string, final bool) (TranscriptResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "listen_stt_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return TranscriptResult{}, err
	}

	cmdArgs := append([]string{}, t.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if t.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", t.cfg.ModelPath)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}
	if !final {
		cmdArgs = append(cmdArgs, "--partial")
	}

	command := exec.CommandContext(ctx, t.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Confidence: resp.Confidence}, nil
}

func writePCMToWav(out io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
