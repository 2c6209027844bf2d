package transfer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"
)

// Strategy selects how an operation moves its bytes.
type Strategy string

const (
	StrategyStream Strategy = "stream"
	StrategyChunk  Strategy = "chunk"
	StrategyBlock  Strategy = "block"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyStream, StrategyChunk, StrategyBlock:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// State is the client-observed lifecycle of an operation.
type State int

const (
	StatePending State = iota
	StateStarted
	StateInProgress
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarted:
		return "started"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Event is delivered to subscribers on every state change and progress update.
type Event struct {
	OperationID      uuid.UUID
	State            State
	BytesTransferred int64
	TotalBytes       int64
	Err              error
}

var extensionRegexp = regexp.MustCompile(`^\.[A-Za-z0-9]{1,16}$`)

// SafeExtension returns the extension of fileName when it is short and alphanumeric, "" otherwise.
func SafeExtension(fileName string) string {
	ext := filepath.Ext(filepath.Base(fileName))
	if !extensionRegexp.MatchString(ext) {
		return ""
	}
	return ext
}

// Operation is one end-to-end transfer of a single file. It owns its event channels and closes them when it
// reaches a terminal state, so no subscriber observes events after completion.
type Operation struct {
	ID       uuid.UUID
	FileName string
	Size     int64
	Strategy Strategy

	mu          sync.Mutex
	state       State
	transferred int64
	subscribers []chan Event
}

func NewOperation(fileName string, size int64, strategy Strategy) *Operation {
	return &Operation{
		ID:       uuid.New(),
		FileName: fileName,
		Size:     size,
		Strategy: strategy,
	}
}

// Target is the storage name for this operation: its id plus the extension of the uploaded file.
func (o *Operation) Target() string {
	return o.ID.String() + SafeExtension(o.FileName)
}

// Subscribe registers a channel receiving every subsequent event. Delivery blocks until the subscriber reads,
// so subscribers must drain the channel until it is closed. Subscribing after the operation ended returns a
// closed channel.
func (o *Operation) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		close(ch)
		return ch
	}
	o.subscribers = append(o.subscribers, ch)
	return ch
}

func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operation) BytesTransferred() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transferred
}

// Start emits the single Started event and moves the operation in progress.
func (o *Operation) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, o.state)
	}
	o.state = StateStarted
	o.emit(nil)
	o.state = StateInProgress
	return nil
}

// Progress adds n transferred bytes and emits the running total. Calls from concurrent workers are
// serialized, so the totals observed by a subscriber never decrease.
func (o *Operation) Progress(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateInProgress || n <= 0 {
		return
	}
	o.transferred += n
	o.emit(nil)
}

// Complete ends the operation successfully. The byte count must match the declared size.
func (o *Operation) Complete() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateInProgress {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, o.state)
	}
	if o.transferred != o.Size {
		return fmt.Errorf("%w: transferred %d of %d bytes", ErrSizeMismatch, o.transferred, o.Size)
	}
	o.state = StateCompleted
	o.emit(nil)
	o.closeSubscribers()
	return nil
}

// Fail ends the operation with err. Only an in-progress operation can fail; it is never retried.
func (o *Operation) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateInProgress {
		return
	}
	o.state = StateFailed
	o.emit(err)
	o.closeSubscribers()
}

// emit must be called with mu held.
func (o *Operation) emit(err error) {
	ev := Event{
		OperationID:      o.ID,
		State:            o.state,
		BytesTransferred: o.transferred,
		TotalBytes:       o.Size,
		Err:              err,
	}
	for _, ch := range o.subscribers {
		ch <- ev
	}
}

func (o *Operation) closeSubscribers() {
	for _, ch := range o.subscribers {
		close(ch)
	}
	o.subscribers = nil
}
