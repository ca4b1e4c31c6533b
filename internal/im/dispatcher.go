package im

import "log/slog"

// DropReason says why a frame was not delivered. The empty value means it was.
type DropReason string

const (
	DropNone           DropReason = ""
	DropUnroutable     DropReason = "unroutable"
	DropQueueFull      DropReason = "queue_full"
	DropUnknownCommand DropReason = "unknown_command"
	DropDecode         DropReason = "decode_error"
	DropSpoofed        DropReason = "spoofed_sender"
	DropOversized      DropReason = "oversized"
	DropRateLimited    DropReason = "rate_limited"
	DropClosing        DropReason = "closing"
)

// Result is the outcome of dispatching one frame.
type Result struct {
	Command   Command
	Delivered int // queues the payload was placed on
	Rejected  int // group members that shed the payload
	Reason    DropReason
}

// Dispatcher routes decoded frames through the Registry. It holds no state of its
// own and runs synchronously on the caller's goroutine.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over registry. A nil logger uses slog.Default().
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch routes msg by its command. raw is the payload placed on target queues.
// Delivery is best effort: drops are reported in the Result, never as errors.
func (d *Dispatcher) Dispatch(msg *Message, raw []byte) Result {
	res := Result{Command: msg.Command}

	switch msg.Command {
	case CmdSingleMsg:
		res.Reason = d.registry.Send(msg.DestID, raw)
		if res.Reason == DropNone {
			res.Delivered = 1
		} else {
			d.logger.Debug("frame_dropped",
				"user_id", msg.SenderID,
				"dst_id", msg.DestID,
				"reason", string(res.Reason),
			)
		}

	case CmdRoomMsg:
		out := d.registry.Broadcast(msg.DestID, raw)
		res.Delivered = out.Delivered
		res.Rejected = out.Rejected
		if out.Targets == 0 {
			res.Reason = DropUnroutable
		}
		d.logger.Debug("group_fanout",
			"user_id", msg.SenderID,
			"group_id", msg.DestID,
			"targets", out.Targets,
			"delivered", out.Delivered,
			"rejected", out.Rejected,
		)

	case CmdHeart:
		d.registry.Touch(msg.SenderID)

	default:
		res.Reason = DropUnknownCommand
		d.logger.Warn("unrecognized_command",
			"user_id", msg.SenderID,
			"cmd", int32(msg.Command),
		)
	}

	return res
}
