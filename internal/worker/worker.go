package worker

import (
	"context"
	"fmt"

	"github.com/sarir/personnel-import/internal/tabular"
)

// Parsing checkpoints. Text and workbook decodes share the first two; the
// third differs because building rows from a workbook is the cheaper step.
const (
	checkpointStarted   = 10
	checkpointRead      = 40
	checkpointTextRows  = 70
	checkpointSheetRows = 80
	checkpointDone      = 100
)

// Unit is one in-flight decode. It owns a private copy of the command and
// shares nothing with the caller except its message channel.
type Unit struct {
	msgs   chan Message
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches a decode unit for cmd. Cancelling ctx or calling Terminate
// stops the unit; no message is delivered after that and no partial result
// is produced.
func Start(ctx context.Context, cmd Command) *Unit {
	ctx, cancel := context.WithCancel(ctx)
	u := &Unit{
		msgs:   make(chan Message),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Copy so later writes to the caller's buffer cannot reach the decoder.
	own := cmd
	if cmd.Binary != nil {
		own.Binary = append([]byte(nil), cmd.Binary...)
	}

	go u.run(own)
	return u
}

// Messages returns the unit's output stream. It is closed after the terminal
// message, or without one if the unit was terminated.
func (u *Unit) Messages() <-chan Message {
	return u.msgs
}

// Terminate cancels the decode. Safe to call more than once.
func (u *Unit) Terminate() {
	u.cancel()
}

// Done is closed once the unit's goroutine has exited.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

func (u *Unit) run(cmd Command) {
	defer close(u.done)
	defer close(u.msgs)
	defer u.cancel()

	defer func() {
		if r := recover(); r != nil {
			u.emit(Message{Type: MsgError, Error: fmt.Sprintf("decoder crashed: %v", r)})
		}
	}()

	payload, err := cmd.Payload()
	if err != nil {
		u.emit(Message{Type: MsgError, Error: err.Error()})
		return
	}

	if !u.progress(checkpointStarted) {
		return
	}

	var raw [][]tabular.Cell
	rowsCheckpoint := checkpointTextRows
	if payload.IsDelimitedText {
		raw, err = tabular.ReadText(payload.Text, payload.IsTSV)
	} else {
		raw, err = tabular.ReadWorkbook(payload.Binary)
		rowsCheckpoint = checkpointSheetRows
	}
	if err != nil {
		u.emit(Message{Type: MsgError, Error: err.Error()})
		return
	}

	if !u.progress(checkpointRead) {
		return
	}

	res := tabular.BuildResult(raw)

	if !u.progress(rowsCheckpoint) {
		return
	}
	if !u.progress(checkpointDone) {
		return
	}
	u.emit(Message{Type: MsgParsed, Result: res})
}

func (u *Unit) progress(pct int) bool {
	return u.emit(Message{Type: MsgProgress, Phase: PhaseParsing, Progress: pct})
}

// emit delivers m unless the unit has been terminated.
func (u *Unit) emit(m Message) bool {
	if u.ctx.Err() != nil {
		return false
	}
	select {
	case u.msgs <- m:
		return true
	case <-u.ctx.Done():
		return false
	}
}

// Run decodes cmd on a unit and waits for the terminal message, passing each
// progress checkpoint to onProgress. Returns a *tabular.DecodeError-derived
// error on decode failure, or ctx.Err() if cancelled first.
func Run(ctx context.Context, cmd Command, onProgress func(Progress)) (*tabular.Result, error) {
	u := Start(ctx, cmd)
	defer u.Terminate()

	for msg := range u.Messages() {
		switch msg.Type {
		case MsgProgress:
			if onProgress != nil {
				onProgress(msg.ProgressEvent())
			}
		case MsgParsed:
			return msg.Result, nil
		case MsgError:
			return nil, &RemoteError{Message: msg.Error}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrTerminated
}
