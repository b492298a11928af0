// Package engine implements the attach-side input engine: a two-state
// passthrough/command machine over the raw input stream, plus the
// interactive attach session that runs it against a local terminal.
package engine

// Action is a control action triggered from command mode.
type Action int

const (
	// ActionNone means the chunk produced no control action.
	ActionNone Action = iota
	// ActionDetach detaches from the current instance, leaving it running.
	ActionDetach
	// ActionKill terminates the current instance, then detaches.
	ActionKill
	// ActionGlobalDetach asks the hosting process to drop all attachments.
	ActionGlobalDetach
)

func (a Action) String() string {
	switch a {
	case ActionDetach:
		return "detach"
	case ActionKill:
		return "kill"
	case ActionGlobalDetach:
		return "global-detach"
	default:
		return "none"
	}
}

// Mode is the engine state.
type Mode int

const (
	// ModePassthrough forwards every byte except the prefix to the instance.
	ModePassthrough Mode = iota
	// ModeCommand interprets the next byte as a command key.
	ModeCommand
)

// KeyMap holds the configurable command-mode key bindings. The prefix byte
// is the sole way in and out of command mode.
type KeyMap struct {
	Prefix       byte
	Detach       byte
	Kill         byte
	GlobalDetach byte
}

// DefaultKeyMap returns the stock bindings: Ctrl+P prefix, then b to
// detach, k to kill, q to detach globally.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Prefix:       0x10, // Ctrl+P
		Detach:       'b',
		Kill:         'k',
		GlobalDetach: 'q',
	}
}

// FSM is the passthrough/command input machine. It is not safe for
// concurrent use; the attach session feeds it from a single reader.
type FSM struct {
	keys KeyMap
	mode Mode
}

// NewFSM creates an engine in passthrough mode. Zero key bytes fall back
// to the defaults.
func NewFSM(keys KeyMap) *FSM {
	def := DefaultKeyMap()
	if keys.Prefix == 0 {
		keys.Prefix = def.Prefix
	}
	if keys.Detach == 0 {
		keys.Detach = def.Detach
	}
	if keys.Kill == 0 {
		keys.Kill = def.Kill
	}
	if keys.GlobalDetach == 0 {
		keys.GlobalDetach = def.GlobalDetach
	}
	return &FSM{keys: keys}
}

// Mode returns the current state.
func (f *FSM) Mode() Mode {
	return f.mode
}

// Feed consumes one input chunk and returns the bytes to forward to the
// instance plus the first action triggered, if any. Processing stops at
// the action; the rest of the chunk is discarded, since the session is
// about to end either way.
//
// In passthrough mode the prefix byte switches to command mode and is not
// forwarded; everything else passes through. In command mode the prefix
// forwards one literal prefix byte, the bound keys trigger their actions,
// and any other byte is swallowed. Every command-mode byte returns the
// machine to passthrough.
func (f *FSM) Feed(p []byte) ([]byte, Action) {
	var forward []byte
	for i := 0; i < len(p); i++ {
		b := p[i]
		switch f.mode {
		case ModePassthrough:
			if b == f.keys.Prefix {
				f.mode = ModeCommand
				continue
			}
			forward = append(forward, b)
		case ModeCommand:
			f.mode = ModePassthrough
			switch b {
			case f.keys.Prefix:
				forward = append(forward, b)
			case f.keys.Detach:
				return forward, ActionDetach
			case f.keys.Kill:
				return forward, ActionKill
			case f.keys.GlobalDetach:
				return forward, ActionGlobalDetach
			default:
				// Unbound key: swallowed.
			}
		}
	}
	return forward, ActionNone
}
