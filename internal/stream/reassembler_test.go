// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestContentIsConcatenationInOrder(t *testing.T) {
	r := New(zerolog.Nop())

	chunks := []string{"Here ", "is ", "the ", "answer."}
	for _, c := range chunks {
		r.Append("m1", "assistant", c)
	}

	snap, ok := r.Snapshot("m1")
	if !ok {
		t.Fatal("expected active message")
	}
	if snap.Content != strings.Join(chunks, "") {
		t.Errorf("expected concatenation in delivery order, got %q", snap.Content)
	}
	if snap.Status != StatusStreaming {
		t.Errorf("expected streaming status, got %v", snap.Status)
	}
	if snap.Role != "assistant" {
		t.Errorf("expected role carried from first chunk, got %q", snap.Role)
	}
}

func TestCompleteFinalizesExactlyOnce(t *testing.T) {
	r := New(zerolog.Nop())

	var finalized []Snapshot
	r.OnFinalize(func(snap Snapshot) { finalized = append(finalized, snap) })

	r.Append("m1", "assistant", "hello")
	snap, ok := r.Complete("m1")
	if !ok {
		t.Fatal("first terminal must finalize")
	}
	if snap.Status != StatusComplete || snap.Content != "hello" {
		t.Errorf("unexpected final snapshot: %+v", snap)
	}

	// A duplicate terminal is a no-op.
	if _, ok := r.Complete("m1"); ok {
		t.Error("duplicate terminal must not finalize again")
	}
	if len(finalized) != 1 {
		t.Errorf("finalize receiver must run exactly once, ran %d times", len(finalized))
	}
}

func TestChunkAfterCompleteDropped(t *testing.T) {
	r := New(zerolog.Nop())

	r.Append("m1", "assistant", "done")
	r.Complete("m1")
	r.Append("m1", "assistant", " extra")

	if r.Active() != 0 {
		t.Errorf("late chunk must not revive a completed message, %d active", r.Active())
	}
}

func TestConnectionLossPreservesPartialContent(t *testing.T) {
	r := New(zerolog.Nop())

	var updates []Snapshot
	r.OnUpdate(func(snap Snapshot) { updates = append(updates, snap) })
	var finalized int
	r.OnFinalize(func(Snapshot) { finalized++ })

	r.Append("m1", "assistant", "Here is the ")
	r.FailAll(errors.New("connection lost"))

	last := updates[len(updates)-1]
	if last.Status != StatusErrored {
		t.Fatalf("expected errored status, got %v", last.Status)
	}
	if last.Content != "Here is the " {
		t.Errorf("partial content must be preserved, got %q", last.Content)
	}
	if last.Err == nil {
		t.Error("errored snapshot must carry its cause")
	}
	if finalized != 0 {
		t.Error("no finalize may occur for an errored stream")
	}
}

func TestTerminalAfterErrorDoesNotFinalize(t *testing.T) {
	r := New(zerolog.Nop())

	var finalized int
	r.OnFinalize(func(Snapshot) { finalized++ })

	r.Append("m1", "assistant", "partial")
	r.FailAll(errors.New("connection lost"))

	// A straggler terminal for the failed message must not fabricate a
	// completion.
	if _, ok := r.Complete("m1"); ok {
		t.Error("terminal for an errored message must not complete it")
	}
	if finalized != 0 {
		t.Errorf("no finalize may follow an error, ran %d times", finalized)
	}
}

func TestChunkAfterErrorDropped(t *testing.T) {
	r := New(zerolog.Nop())

	r.Append("m1", "assistant", "partial")
	r.Fail("m1", errors.New("stream broke"))
	r.Append("m1", "assistant", " straggler")

	if r.Active() != 0 {
		t.Errorf("late chunk must not revive an errored message, %d active", r.Active())
	}
}

func TestFailUnknownIDIsNoop(t *testing.T) {
	r := New(zerolog.Nop())
	r.Fail("nope", errors.New("x")) // must not panic or create entries
	if r.Active() != 0 {
		t.Error("Fail on unknown id must not create state")
	}
}

func TestIndependentMessageIDs(t *testing.T) {
	r := New(zerolog.Nop())

	r.Append("m1", "assistant", "one")
	r.Append("m2", "assistant", "two")
	r.Complete("m1")

	if r.Active() != 1 {
		t.Fatalf("expected 1 active message, got %d", r.Active())
	}
	snap, ok := r.Snapshot("m2")
	if !ok || snap.Content != "two" {
		t.Errorf("m2 must be unaffected by m1's completion: %+v", snap)
	}
}

func TestTerminalWithoutChunksCompletesEmpty(t *testing.T) {
	r := New(zerolog.Nop())

	snap, ok := r.Complete("m1")
	if !ok {
		t.Fatal("terminal without chunks is still a valid completion")
	}
	if snap.Content != "" || snap.Status != StatusComplete {
		t.Errorf("expected empty complete message, got %+v", snap)
	}
}

func TestSnapshotIsImmutableView(t *testing.T) {
	r := New(zerolog.Nop())

	r.Append("m1", "assistant", "first")
	snap, _ := r.Snapshot("m1")
	r.Append("m1", "assistant", " second")

	if snap.Content != "first" {
		t.Errorf("an earlier snapshot must not change under later appends, got %q", snap.Content)
	}
}

func TestUpdateObserverSeesEveryAppend(t *testing.T) {
	r := New(zerolog.Nop())

	var contents []string
	r.OnUpdate(func(snap Snapshot) { contents = append(contents, snap.Content) })

	r.Append("m1", "assistant", "a")
	r.Append("m1", "assistant", "b")
	r.Append("m1", "assistant", "c")

	want := []string{"a", "ab", "abc"}
	if len(contents) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(contents))
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("update %d: expected %q, got %q", i, want[i], contents[i])
		}
	}
}

func TestStatusString(t *testing.T) {
	if StatusStreaming.String() != "streaming" ||
		StatusComplete.String() != "complete" ||
		StatusErrored.String() != "errored" {
		t.Error("status names must match their lifecycle states")
	}
	if Status(9).String() != "unknown" {
		t.Error("unexpected name for invalid status")
	}
}
