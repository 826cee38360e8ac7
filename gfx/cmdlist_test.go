// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"testing"
)

type stubBuffer struct {
	resets, begins, ends int
	released             bool
}

func (b *stubBuffer) Reset() error                                 { b.resets++; return nil }
func (b *stubBuffer) Begin() error                                 { b.begins++; return nil }
func (b *stubBuffer) End() error                                   { b.ends++; return nil }
func (b *stubBuffer) Transition(t []Transition)                    {}
func (b *stubBuffer) BeginPass(fb Framebuffer, clear []ClearValue) {}
func (b *stubBuffer) EndPass()                                     {}
func (b *stubBuffer) Composite(src Texture, tf [16]float32)        {}
func (b *stubBuffer) Release()                                     { b.released = true }

// listInState walks a fresh list along the legal cycle until it
// reaches the wanted state.
func listInState(t *testing.T, state CommandListState) *CommandList {
	t.Helper()
	list := &CommandList{buffer: &stubBuffer{}}
	steps := []func() error{
		list.BeginRecording,
		list.EndRecording,
		list.submitted,
	}
	for _, step := range steps[:int(state)] {
		if err := step(); err != nil {
			t.Fatalf("setup transition failed: %v", err)
		}
	}
	return list
}

func TestCommandListTransitionTable(t *testing.T) {
	ops := []struct {
		name  string
		apply func(*CommandList) error
		from  CommandListState
		to    CommandListState
	}{
		{"BeginRecording", (*CommandList).BeginRecording, ListFree, ListRecording},
		{"EndRecording", (*CommandList).EndRecording, ListRecording, ListRecorded},
		{"submitted", (*CommandList).submitted, ListRecorded, ListExecuting},
		{"executed", (*CommandList).executed, ListExecuting, ListFree},
	}
	states := []CommandListState{ListFree, ListRecording, ListRecorded, ListExecuting}

	for _, op := range ops {
		for _, state := range states {
			list := listInState(t, state)
			err := op.apply(list)
			if state == op.from {
				if err != nil {
					t.Errorf("%s from %s: unexpected error %v", op.name, state, err)
				}
				if got := list.State(); got != op.to {
					t.Errorf("%s from %s: state %s, want %s", op.name, state, got, op.to)
				}
				continue
			}
			if err != ErrInvalidTransition {
				t.Errorf("%s from %s: error %v, want ErrInvalidTransition", op.name, state, err)
			}
			if got := list.State(); got != state {
				t.Errorf("%s from %s: state changed to %s on rejected transition", op.name, state, got)
			}
		}
	}
}

func TestCommandListResetOnlyOnBegin(t *testing.T) {
	buffer := &stubBuffer{}
	list := &CommandList{buffer: buffer}

	for cycle := 1; cycle <= 3; cycle++ {
		if err := list.BeginRecording(); err != nil {
			t.Fatalf("cycle %d: BeginRecording: %v", cycle, err)
		}
		if err := list.EndRecording(); err != nil {
			t.Fatalf("cycle %d: EndRecording: %v", cycle, err)
		}
		if err := list.submitted(); err != nil {
			t.Fatalf("cycle %d: submitted: %v", cycle, err)
		}
		if err := list.executed(); err != nil {
			t.Fatalf("cycle %d: executed: %v", cycle, err)
		}
		if buffer.resets != cycle {
			t.Fatalf("cycle %d: %d resets, want %d", cycle, buffer.resets, cycle)
		}
	}

	// Rejected transitions must not touch the allocator.
	if err := list.EndRecording(); err != ErrInvalidTransition {
		t.Fatalf("EndRecording from free: %v", err)
	}
	if buffer.resets != 3 || buffer.begins != 3 || buffer.ends != 3 {
		t.Fatalf("allocator touched by rejected transition: %+v", buffer)
	}
}

func TestCommandListRecorder(t *testing.T) {
	buffer := &stubBuffer{}
	list := &CommandList{buffer: buffer}
	if list.Recorder() != CommandBuffer(buffer) {
		t.Fatal("Recorder does not return the backing buffer")
	}
	list.Release()
	if !buffer.released {
		t.Fatal("Release did not free the backing buffer")
	}
}

func TestCommandListStateString(t *testing.T) {
	names := map[CommandListState]string{
		ListFree:            "free",
		ListRecording:       "recording",
		ListRecorded:        "recorded",
		ListExecuting:       "executing",
		CommandListState(9): "unknown",
	}
	for state, want := range names {
		if got := state.String(); got != want {
			t.Errorf("State %d: %q, want %q", int(state), got, want)
		}
	}
}
