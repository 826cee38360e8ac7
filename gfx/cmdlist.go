// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// CommandListState identifies the recording lifecycle state of a
// command list.
type CommandListState int

// Command list states. Transitions are strictly sequential and cyclic:
// Free -> Recording -> Recorded -> Executing -> Free. Skipping a state
// is a contract violation.
const (
	ListFree CommandListState = iota
	ListRecording
	ListRecorded
	ListExecuting
)

// String implements fmt.Stringer.
func (s CommandListState) String() string {
	switch s {
	case ListFree:
		return "free"
	case ListRecording:
		return "recording"
	case ListRecorded:
		return "recorded"
	case ListExecuting:
		return "executing"
	}
	return "unknown"
}

// NewCommandList creates a command list in the Free state with its own
// device allocator.
func NewCommandList(dev Device) (*CommandList, error) {
	cb, err := dev.NewCommandBuffer()
	if err != nil {
		return nil, err
	}
	return &CommandList{buffer: cb}, nil
}

// CommandList is a single-use-per-cycle recording unit. The explicit
// state machine exists because the backing allocator may only be reset
// once the GPU has finished the previous cycle's contents; submitted
// and executed act as checkpoints the submitter drives with fence
// proof instead of folding them into submission.
type CommandList struct {
	state  CommandListState
	buffer CommandBuffer
}

// State returns the current lifecycle state.
func (l *CommandList) State() CommandListState {
	return l.state
}

// Recorder returns the device recording handle. Commands must only be
// recorded between BeginRecording and EndRecording.
func (l *CommandList) Recorder() CommandBuffer {
	return l.buffer
}

// BeginRecording resets the backing allocator and opens the list for
// recording. Valid only from Free; calling it in any other state would
// reclaim memory the GPU may still be executing and fails with
// ErrInvalidTransition.
func (l *CommandList) BeginRecording() error {
	if l.state != ListFree {
		return ErrInvalidTransition
	}
	if err := l.buffer.Reset(); err != nil {
		return err
	}
	if err := l.buffer.Begin(); err != nil {
		return err
	}
	l.state = ListRecording
	return nil
}

// EndRecording finalises the recording handle. Valid only from
// Recording.
func (l *CommandList) EndRecording() error {
	if l.state != ListRecording {
		return ErrInvalidTransition
	}
	if err := l.buffer.End(); err != nil {
		return err
	}
	l.state = ListRecorded
	return nil
}

// submitted marks the hand-off to the queue. Valid only from Recorded.
func (l *CommandList) submitted() error {
	if l.state != ListRecorded {
		return ErrInvalidTransition
	}
	l.state = ListExecuting
	return nil
}

// executed returns the list to the Free state. The submitter only
// calls this once the frame ring's fence wait proves the GPU has
// finished this list's work; doing it earlier would reintroduce
// use-after-free on the allocator.
func (l *CommandList) executed() error {
	if l.state != ListExecuting {
		return ErrInvalidTransition
	}
	l.state = ListFree
	return nil
}

// Release frees the device allocator. The list must not be in flight.
func (l *CommandList) Release() {
	l.buffer.Release()
}
