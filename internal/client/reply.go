package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/lai/internal/model"
	"github.com/ppiankov/lai/internal/protocol"
)

// DefaultReplyDelay is how long the CLI waits after ask before polling.
const DefaultReplyDelay = 1400 * time.Millisecond

// dotInterval paces the progress indicator.
const dotInterval = 300 * time.Millisecond

// ReplyOptions controls AwaitReply.
type ReplyOptions struct {
	// PreviousID is the id of the last assistant message seen before the
	// ask. A reply with the same id is stale.
	PreviousID string
	// Delay is slept before every poll.
	Delay time.Duration
	// Attempts bounds the polls. One attempt reproduces plain
	// poll-once-after-delay: whatever last returns is the answer.
	Attempts int
	// Progress, when set, receives "Processing" and a dot per interval.
	Progress io.Writer
}

// AwaitReply waits and polls last for the answer to a prompt. The
// application gives no completion signal, so with more than one attempt
// a stale or missing reply is polled again; when attempts run out the
// newest message seen is returned even if stale.
func (c *Client) AwaitReply(ctx context.Context, opts ReplyOptions) (*model.Message, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Progress != nil {
		fmt.Fprint(opts.Progress, "Processing")
		defer fmt.Fprintln(opts.Progress)
	}

	var latest *model.Message
	for i := 0; i < opts.Attempts; i++ {
		if err := wait(ctx, opts.Delay, opts.Progress); err != nil {
			return nil, err
		}

		msg, err := c.Last(ctx)
		if err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) && pe.Message == protocol.ErrTextNoMessages && i < opts.Attempts-1 {
				continue
			}
			if latest != nil && pe != nil {
				return latest, nil
			}
			return nil, err
		}
		latest = msg
		if opts.PreviousID == "" || msg.ID != opts.PreviousID {
			return msg, nil
		}
	}
	return latest, nil
}

// wait sleeps d, printing a dot to progress every dotInterval.
func wait(ctx context.Context, d time.Duration, progress io.Writer) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var tick <-chan time.Time
	if progress != nil {
		ticker := time.NewTicker(dotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-tick:
			fmt.Fprint(progress, ".")
		}
	}
}
