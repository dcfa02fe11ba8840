package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"audiobus.dev/capture"
	"periph.io/x/conn/v3/physic"
)

func TestTaggedBlocks(t *testing.T) {
	b := make([]byte, 32)
	tagBlock(b, 7)
	seq, ok, err := parseBlock(b)
	if err != nil || !ok || seq != 7 {
		t.Fatalf("parseBlock = %d, %v, %v; want 7", seq, ok, err)
	}
	b[20] ^= 0xff
	if _, _, err := parseBlock(b); err == nil {
		t.Error("corrupt block parsed")
	}
	if _, ok, _ := parseBlock(make([]byte, 32)); ok {
		t.Error("silence parsed as a tagged block")
	}
}

func TestVerifier(t *testing.T) {
	block := func(seq uint32) []byte {
		b := make([]byte, 16)
		tagBlock(b, seq)
		return b
	}
	v := new(verifier)
	blocks := [][]byte{make([]byte, 16), block(0), block(1), block(1), block(1), block(2)}
	for i, b := range blocks {
		if _, err := v.check(b); err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
	}
	if v.next != 3 || v.repeats != 2 || v.silent != 1 {
		t.Errorf("next %d, repeats %d, silent %d; want 3, 2, 1", v.next, v.repeats, v.silent)
	}
	if _, err := v.check(block(5)); err == nil {
		t.Error("out of order block accepted")
	}
}

func TestBlockRate(t *testing.T) {
	tests := []struct {
		frame             physic.Frequency
		size, word, chans int
		want              physic.Frequency
	}{
		{48 * physic.KiloHertz, 192, 16, 2, 1 * physic.KiloHertz},
		{48 * physic.KiloHertz, 384, 24, 2, 1 * physic.KiloHertz},
		{8 * physic.KiloHertz, 2, 16, 2, 8 * physic.KiloHertz},
	}
	for _, test := range tests {
		if got := blockRate(test.frame, test.size, test.word, test.chans); got != test.want {
			t.Errorf("blockRate(%s, %d, %d, %d) = %s, want %s",
				test.frame, test.size, test.word, test.chans, got, test.want)
		}
	}
}

func TestLoop(t *testing.T) {
	opts := loopOptions{
		blocks:    100,
		blockSize: 64,
		rate:      8 * physic.KiloHertz,
		wordSize:  16,
		channels:  2,
		queue:     32,
	}
	buf := new(bytes.Buffer)
	rec, err := capture.NewWriter(buf, capture.Header{Dir: "rx", BlockSize: opts.blockSize})
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r, err := loop(ctx, log, opts, nil, rec)
	if err != nil {
		t.Fatal(err)
	}
	if r.stats.RXBlocks < uint64(opts.blocks) {
		t.Errorf("received %d blocks, want at least %d", r.stats.RXBlocks, opts.blocks)
	}
	out := new(bytes.Buffer)
	if err := dump(out, buf, false); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("%d records (%d tagged)", opts.blocks, opts.blocks)
	if !strings.Contains(out.String(), want) {
		t.Errorf("dump output %q lacks %q", out, want)
	}
}

func TestLoopInvalidBlockSize(t *testing.T) {
	opts := loopOptions{blocks: 1, blockSize: 4, rate: physic.KiloHertz, wordSize: 16, channels: 2, queue: 1}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := loop(context.Background(), log, opts, nil, nil); err == nil {
		t.Error("block smaller than its tag accepted")
	}
}

func TestDumpCommand(t *testing.T) {
	name := filepath.Join(t.TempDir(), "rx.cbor")
	f, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	w, err := capture.NewWriter(f, capture.Header{Dir: "rx", BlockSize: 16, FrameClock: 48 * physic.KiloHertz, WordSize: 16, Channels: 2})
	if err != nil {
		t.Fatal(err)
	}
	b := make([]byte, 16)
	for seq := range uint32(3) {
		tagBlock(b, seq)
		if err := w.Write(b, time.Unix(0, int64(seq)*int64(time.Millisecond))); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	out := exec(t, "dump %s", name)
	for _, want := range []string{
		"rx capture: 16 byte blocks, 48kHz frame clock, 16 bit, 2 channels",
		"3 records (3 tagged), 48 bytes, 0 sequence gaps, span 2ms",
	} {
		if !strings.Contains(string(out), want) {
			t.Errorf("output %q lacks %q", out, want)
		}
	}
}

func exec(t *testing.T, cmdFmt string, args ...any) []byte {
	t.Helper()
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetArgs(strings.Fields(fmt.Sprintf(cmdFmt, args...)))
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%s: %v", fmt.Sprintf(cmdFmt, args...), err)
	}
	return out.Bytes()
}
