package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("chunker did not finish")
		}
	}
}

func TestChunker_Run(t *testing.T) {
	t.Run("streams first chunk then batches", func(t *testing.T) {
		doc, err := FromBytes("novel.txt", []byte(strings.Repeat("a", 25*10)), "")
		if err != nil {
			t.Fatal(err)
		}
		c := &Chunker{ChunkSize: 10, BatchSize: 10}
		events := collect(t, c.Run(context.Background(), doc, 0))

		var kinds []EventKind
		var orders []int
		for _, ev := range events {
			kinds = append(kinds, ev.Kind)
			for _, p := range ev.Chunks {
				orders = append(orders, p.Order)
			}
		}
		want := []EventKind{EventStarted, EventFirstChunk, EventBatch, EventProgress, EventBatch, EventProgress, EventBatch, EventProgress, EventCompleted}
		if len(kinds) != len(want) {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
		for i := range want {
			if kinds[i] != want[i] {
				t.Fatalf("kinds = %v, want %v", kinds, want)
			}
		}
		if events[0].TotalDiscovered != 25 || events[0].TotalToProcess != 25 {
			t.Errorf("unexpected totals %+v", events[0])
		}
		if len(events[2].Chunks) != 10 || len(events[6].Chunks) != 4 {
			t.Errorf("unexpected batch sizes %d, %d", len(events[2].Chunks), len(events[6].Chunks))
		}
		for i, o := range orders {
			if o != i {
				t.Fatalf("orders not contiguous: %v", orders)
			}
		}
	})

	t.Run("limit caps delivered chunks", func(t *testing.T) {
		doc, _ := FromBytes("novel.txt", []byte(strings.Repeat("b", 40*10)), "")
		c := &Chunker{ChunkSize: 10, BatchSize: 10}
		events := collect(t, c.Run(context.Background(), doc, 15))

		last := events[len(events)-1]
		if last.Kind != EventCompleted || last.TotalDiscovered != 40 || last.TotalToProcess != 15 {
			t.Errorf("unexpected completion %+v", last)
		}
		n := 0
		for _, ev := range events {
			n += len(ev.Chunks)
		}
		if n != 15 {
			t.Errorf("delivered %d chunks, want 15", n)
		}
	})

	t.Run("empty document is an error", func(t *testing.T) {
		doc, _ := FromBytes("blank.txt", []byte("  \n\t "), "")
		events := collect(t, NewChunker(nil).Run(context.Background(), doc, 0))
		if len(events) != 1 || events[0].Kind != EventError || !errors.Is(events[0].Err, ErrNoContent) {
			t.Fatalf("unexpected events %+v", events)
		}
	})

	t.Run("single chunk document", func(t *testing.T) {
		doc, _ := FromBytes("short.txt", []byte("Once upon a time."), "")
		events := collect(t, NewChunker(nil).Run(context.Background(), doc, 0))
		if len(events) != 3 || events[1].Chunks[0].Text != "Once upon a time." {
			t.Fatalf("unexpected events %+v", events)
		}
	})

	t.Run("cancelled context closes the stream", func(t *testing.T) {
		doc, _ := FromBytes("novel.txt", []byte(strings.Repeat("c", 1000)), "")
		ctx, cancel := context.WithCancel(context.Background())
		ch := (&Chunker{ChunkSize: 10, BatchSize: 10}).Run(ctx, doc, 0)
		<-ch
		cancel()
		collect(t, ch)
	})
}

func TestRehydrate(t *testing.T) {
	// "é" is two bytes; with 3-byte chunks the first one straddles a boundary
	doc, _ := FromBytes("accents.txt", []byte("abéé"), "")

	t.Run("runes belong to the chunk holding their lead byte", func(t *testing.T) {
		var joined strings.Builder
		for order := 0; order < doc.ChunkCount(3); order++ {
			text, err := Rehydrate(doc, order, 3)
			if err != nil {
				t.Fatalf("Rehydrate(%d) error = %v", order, err)
			}
			if !utf8.ValidString(text) {
				t.Errorf("chunk %d is not valid UTF-8: %q", order, text)
			}
			joined.WriteString(text)
		}
		if joined.String() != "abéé" {
			t.Errorf("chunks do not reassemble: %q", joined.String())
		}
		first, _ := Rehydrate(doc, 0, 3)
		if first != "abé" {
			t.Errorf("first chunk = %q, want %q", first, "abé")
		}
	})

	t.Run("matches streamed text", func(t *testing.T) {
		events := collect(t, (&Chunker{ChunkSize: 3, BatchSize: 2}).Run(context.Background(), doc, 0))
		for _, ev := range events {
			for _, p := range ev.Chunks {
				again, err := Rehydrate(doc, p.Order, 3)
				if err != nil || again != p.Text {
					t.Errorf("chunk %d: rehydrated %q, streamed %q (%v)", p.Order, again, p.Text, err)
				}
			}
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, err := Rehydrate(doc, 99, 3); !errors.Is(err, ErrChunkOutOfRange) {
			t.Errorf("expected ErrChunkOutOfRange, got %v", err)
		}
		if _, err := Rehydrate(nil, 0, 3); err == nil {
			t.Error("expected error for missing document")
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("declared gb18030", func(t *testing.T) {
		raw, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte("第一章 你好"))
		if err != nil {
			t.Fatal(err)
		}
		out, err := Decode(raw, "gb18030")
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if string(out) != "第一章 你好" {
			t.Errorf("got %q", out)
		}
	})

	t.Run("invalid utf-8 is replaced", func(t *testing.T) {
		out, err := Decode([]byte("ok\xffok"), "")
		if err != nil {
			t.Fatal(err)
		}
		if string(out) != "ok�ok" {
			t.Errorf("got %q", out)
		}
	})

	t.Run("utf-8 bom is stripped", func(t *testing.T) {
		out, _ := Decode([]byte("\xef\xbb\xbfhello"), "UTF-8")
		if string(out) != "hello" {
			t.Errorf("got %q", out)
		}
	})

	t.Run("unknown encoding", func(t *testing.T) {
		if _, err := Decode([]byte("x"), "klingon"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestOpenAndFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novel.txt")
	if err := os.WriteFile(path, []byte("chapter one"), 0o644); err != nil {
		t.Fatal(err)
	}
	mod := time.UnixMilli(1700000000123)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}

	doc, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := doc.Fingerprint("full"); got != "file-novel.txt-11-1700000000123-full" {
		t.Errorf("Fingerprint = %q", got)
	}
	if doc.Fingerprint("opening") == doc.Fingerprint("full") {
		t.Error("mode must be part of the fingerprint")
	}
}
