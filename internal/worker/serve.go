package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrTerminated is returned by Run when the unit closed without a terminal
// message.
var ErrTerminated = errors.New("decode terminated")

// RemoteError carries the message of a terminal error message. The decoder's
// typed error does not cross the unit boundary; only its text does.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Serve reads one JSON command from r, runs it on a decode unit and writes
// every message to w as one JSON object per line. A command that cannot be
// read is answered with an error message.
func Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)

	var cmd Command
	if err := json.NewDecoder(r).Decode(&cmd); err != nil {
		msg := Message{Type: MsgError, Error: fmt.Sprintf("read command: %v", err)}
		if encErr := enc.Encode(msg); encErr != nil {
			return fmt.Errorf("write message: %w", encErr)
		}
		return fmt.Errorf("read command: %w", err)
	}

	u := Start(ctx, cmd)
	defer u.Terminate()

	for msg := range u.Messages() {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
	}
	return ctx.Err()
}
