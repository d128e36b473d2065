package stt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-listen/internal/config"
)

func TestNewSelectsMode(t *testing.T) {
	tr, err := New(config.STTConfig{Mode: "mock"})
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), make([]byte, 4), 16000, 1, "en", true)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.HasPrefix(res.Text, "[final") {
		t.Fatalf("unexpected mock text %q", res.Text)
	}
	if _, err := New(config.STTConfig{Mode: "whisper-cloud"}); err == nil {
		t.Fatal("expected unknown mode error")
	}
}

func TestExecTranscriberRequiresCommand(t *testing.T) {
	if _, err := NewExecTranscriber(config.STTConfig{Mode: "exec", Command: "  "}); err == nil {
		t.Fatal("expected empty command error")
	}
	if _, err := NewExecTranscriber(config.STTConfig{Mode: "exec", Command: `"unterminated`}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWritePCMToWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x10, 0x00}
	if err := writePCMToWav(file, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	file.Close()

	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		t.Fatal("expected valid wav file")
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("unexpected format rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
}

func TestWritePCMRejectsOddLength(t *testing.T) {
	file, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := writePCMToWav(file, []byte{0x01}, 16000, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}
