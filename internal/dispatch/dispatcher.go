package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/bridgeq/internal/log"
)

const (
	// DefaultPollInterval is the delay between two promotions.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultMaxSubmitAttempts bounds submission-level retries of one item.
	DefaultMaxSubmitAttempts = 3

	// DefaultActiveTaskTTL is how long an unreconciled active task may block
	// its bridge before idle ticks prune it.
	DefaultActiveTaskTTL = 2 * time.Minute

	// ConstrainedStartupDelay is the delay used by hosts that must finish
	// their own startup before the loop may run.
	ConstrainedStartupDelay = 1200 * time.Millisecond
)

// Options configures a Dispatcher. Zero values select defaults.
type Options struct {
	Timer             Timer
	Notifier          Notifier
	Monitor           Monitor
	Clock             func() time.Time
	PollInterval      time.Duration
	StartupDelay      time.Duration
	MaxSubmitAttempts int
	// ActiveTaskTTL of zero uses the default; negative disables pruning.
	ActiveTaskTTL time.Duration
}

type entry struct {
	item   Item
	submit SubmitFunc
}

type listenerEntry struct {
	id int
	fn Listener
}

// Dispatcher owns the local queue and the active-task index.
type Dispatcher struct {
	// writeMu serializes mutations together with their listener fan-out so
	// listeners observe snapshots in mutation order. Acquired before mu.
	writeMu sync.Mutex

	mu         sync.Mutex
	items      []*entry
	active     map[string]ActiveTask // bridge → task
	taskBridge map[string]string     // task id → bridge
	listeners  []listenerEntry
	nextListen int
	stats      Stats

	ctx          context.Context
	started      bool
	processing   bool
	stopLoop     func()
	stopStartup  func()
	pollInterval time.Duration
	startupDelay time.Duration
	maxAttempts  int
	activeTTL    time.Duration

	timer    Timer
	notifier Notifier
	monitor  Monitor
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Dispatcher. The polling loop does not run until Start.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		active:       make(map[string]ActiveTask),
		taskBridge:   make(map[string]string),
		ctx:          context.Background(),
		pollInterval: opts.PollInterval,
		startupDelay: opts.StartupDelay,
		maxAttempts:  opts.MaxSubmitAttempts,
		activeTTL:    opts.ActiveTaskTTL,
		timer:        opts.Timer,
		notifier:     opts.Notifier,
		monitor:      opts.Monitor,
		now:          opts.Clock,
		logger:       log.WithComponent("dispatch"),
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxSubmitAttempts
	}
	if d.activeTTL == 0 {
		d.activeTTL = DefaultActiveTaskTTL
	}
	if d.timer == nil {
		d.timer = SystemTimer{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Start runs the polling loop until ctx is cancelled. Submissions made by the
// loop use ctx.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "poll_interval", d.pollInterval, "startup_delay", d.startupDelay)
	defer d.logger.Info("dispatch loop stopped")

	d.begin(ctx)
	<-ctx.Done()
	d.Stop()
	return ctx.Err()
}

// begin arms the loop without blocking.
func (d *Dispatcher) begin(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ctx = ctx
	if d.startupDelay <= 0 {
		d.started = true
		d.ensureProcessingLocked()
		return
	}
	d.stopStartup = d.timer.After(d.startupDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.stopStartup = nil
		d.started = true
		d.ensureProcessingLocked()
	})
}

// Stop halts the polling loop. Items already submitting finish normally.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = false
	if d.stopStartup != nil {
		d.stopStartup()
		d.stopStartup = nil
	}
	d.stopProcessingLocked()
}

func (d *Dispatcher) ensureProcessingLocked() {
	if !d.started || d.processing {
		return
	}
	d.processing = true
	d.stopLoop = d.timer.Every(d.pollInterval, d.tick)
}

func (d *Dispatcher) stopProcessingLocked() {
	d.processing = false
	if d.stopLoop != nil {
		d.stopLoop()
		d.stopLoop = nil
	}
}

func (d *Dispatcher) tick() {
	d.mu.Lock()
	ctx, running := d.ctx, d.processing
	d.mu.Unlock()
	if !running {
		return
	}
	d.processNext(ctx)
}

// txn collects the side effects of one mutation, run after the listeners.
type txn struct {
	changed bool
	after   []func()
}

func (d *Dispatcher) notify(tx *txn, level Level, message string) {
	if d.notifier == nil {
		return
	}
	tx.after = append(tx.after, func() { d.notifier.Notify(level, message) })
}

func (d *Dispatcher) emit(tx *txn, ev MonitorEvent) {
	if d.monitor == nil {
		return
	}
	tx.after = append(tx.after, func() { d.monitor.Emit(ev) })
}

// mutate applies fn under the lock, then fans out to listeners and runs the
// collected side effects with the lock released.
func (d *Dispatcher) mutate(fn func(tx *txn)) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx := &txn{}
	d.mu.Lock()
	fn(tx)
	var (
		snapshot  []Item
		listeners []listenerEntry
	)
	if tx.changed {
		snapshot = d.snapshotLocked()
		d.stats = StatsOf(snapshot)
		listeners = slices.Clone(d.listeners)
	}
	d.mu.Unlock()

	for _, l := range listeners {
		l.fn(slices.Clone(snapshot))
	}
	for _, f := range tx.after {
		f()
	}
}

func (d *Dispatcher) snapshotLocked() []Item {
	out := make([]Item, len(d.items))
	for i, e := range d.items {
		out[i] = e.item
	}
	return out
}

func (d *Dispatcher) findLocked(id string) (int, *entry) {
	for i, e := range d.items {
		if e.item.ID == id {
			return i, e
		}
	}
	return -1, nil
}

// hasActivePriorityLocked reports whether bridge already has a highest
// priority task active remotely or queued locally. excludeID and a pending
// item on preemptMachine are not counted.
func (d *Dispatcher) hasActivePriorityLocked(bridge, excludeID, preemptMachine string) bool {
	if bridge == "" {
		return false
	}
	if t, ok := d.active[bridge]; ok && t.Priority == HighestPriority {
		return true
	}
	for _, e := range d.items {
		it := e.item
		if it.ID == excludeID || it.Data.Bridge != bridge || !it.Data.Highest() {
			continue
		}
		switch it.Status {
		case StatusSubmitting:
			return true
		case StatusPending:
			if preemptMachine == "" || it.Data.Machine != preemptMachine {
				return true
			}
		}
	}
	return false
}

// cancelPendingLocked preempts pending items on the same bridge and machine.
func (d *Dispatcher) cancelPendingLocked(bridge, machine string) int {
	if bridge == "" || machine == "" {
		return 0
	}
	n := 0
	for _, e := range d.items {
		if e.item.Status == StatusPending && e.item.Data.Bridge == bridge && e.item.Data.Machine == machine {
			e.item.Status = StatusCancelled
			n++
		}
	}
	return n
}

// Enqueue accepts a task. Highest-priority tasks are queued for the polling
// loop and rejected with ErrPriorityConflict if their bridge is busy. Other
// tasks are submitted before Enqueue returns; the submission error, if any,
// is returned.
func (d *Dispatcher) Enqueue(ctx context.Context, data Data, submit SubmitFunc) (Receipt, error) {
	if submit == nil {
		return Receipt{}, fmt.Errorf("enqueue: nil submit function")
	}

	e := &entry{
		item: Item{
			ID:        uuid.NewString(),
			Data:      data,
			Status:    StatusPending,
			Timestamp: d.now(),
		},
		submit: submit,
	}
	logger := log.WithBridge(data.Bridge).With("item_id", e.item.ID, "machine", data.Machine, "priority", data.Priority)

	if data.Highest() {
		return d.enqueueHighest(e, logger)
	}

	d.mutate(func(tx *txn) {
		e.item.Status = StatusSubmitting
		d.items = append(d.items, e)
		tx.changed = true
	})

	res, err := submit(ctx, data)
	d.mutate(func(tx *txn) {
		tx.changed = true
		// The next idle tick prunes the settled item.
		d.ensureProcessingLocked()
		if err != nil {
			e.item.Status = StatusFailed
			return
		}
		e.item.TaskID = res.TaskID
		e.item.Status = StatusSubmitted
	})
	if err != nil {
		logger.Warn("direct submission failed", "error", err)
		return Receipt{}, err
	}
	logger.Info("direct submission accepted", "task_id", res.TaskID)
	return Receipt{ItemID: e.item.ID, TaskID: res.TaskID}, nil
}

func (d *Dispatcher) enqueueHighest(e *entry, logger *slog.Logger) (Receipt, error) {
	data := e.item.Data
	var conflict bool
	d.mutate(func(tx *txn) {
		if d.hasActivePriorityLocked(data.Bridge, "", data.Machine) {
			conflict = true
			d.notify(tx, LevelWarning, fmt.Sprintf(
				"You already have a highest priority task running on bridge %s. Please wait for it to complete.", data.Bridge))
			return
		}
		if n := d.cancelPendingLocked(data.Bridge, data.Machine); n > 0 {
			logger.Info("preempted pending tasks", "cancelled", n)
		}
		d.items = append(d.items, e)
		tx.changed = true
		d.notify(tx, LevelInfo, fmt.Sprintf("Highest priority task queued. Position: %d", d.positionLocked(e.item.ID)))
		d.ensureProcessingLocked()
	})
	if conflict {
		logger.Warn("rejected highest priority task")
		return Receipt{}, fmt.Errorf("bridge %q: %w", data.Bridge, ErrPriorityConflict)
	}
	logger.Debug("queued highest priority task")
	return Receipt{ItemID: e.item.ID, Queued: true}, nil
}

// processNext promotes at most one pending item.
func (d *Dispatcher) processNext(ctx context.Context) {
	var (
		picked  *entry
		data    Data
		attempt int
	)
	d.mutate(func(tx *txn) {
		var e *entry
		for _, cand := range d.items {
			if cand.item.Status == StatusPending {
				e = cand
				break
			}
		}

		if e == nil {
			d.pruneLocked()
			d.pruneStaleActiveLocked()
			d.stopProcessingLocked()
			tx.changed = true
			return
		}

		if e.item.Data.Highest() && d.hasActivePriorityLocked(e.item.Data.Bridge, e.item.ID, "") {
			e.item.Status = StatusCancelled
			tx.changed = true
			d.notify(tx, LevelInfo, "Task cancelled: Already have a priority 1 task on this bridge")
			return
		}

		e.item.Status = StatusSubmitting
		tx.changed = true
		picked, data, attempt = e, e.item.Data, e.item.RetryCount+1
	})
	if picked == nil {
		return
	}

	logger := log.WithBridge(data.Bridge).With("item_id", picked.item.ID, "attempt", attempt)
	res, err := picked.submit(ctx, data)

	d.mutate(func(tx *txn) {
		tx.changed = true
		if err != nil {
			picked.item.RetryCount++
			if picked.item.RetryCount < d.maxAttempts {
				picked.item.Status = StatusPending
				d.notify(tx, LevelWarning, fmt.Sprintf("Queue submission failed, will retry (%d/%d)", picked.item.RetryCount, d.maxAttempts))
				return
			}
			picked.item.Status = StatusFailed
			d.notify(tx, LevelError, fmt.Sprintf("Queue submission failed after %d attempts: %v", d.maxAttempts, err))
			return
		}

		if res.TaskID != "" && data.Highest() && data.Bridge != "" {
			picked.item.TaskID = res.TaskID
			d.trackActiveLocked(ActiveTask{
				Bridge:    data.Bridge,
				Machine:   data.Machine,
				TaskID:    res.TaskID,
				Priority:  data.Priority,
				Status:    StatusPending,
				Timestamp: d.now(),
			})
			started := data
			d.emit(tx, MonitorEvent{Type: EventTaskStart, TaskID: res.TaskID, Data: &started})
		}
		picked.item.Status = StatusSubmitted
		if res.TaskID != "" {
			d.notify(tx, LevelSuccess, fmt.Sprintf("Queue item submitted successfully (ID: %s)", res.TaskID))
		} else {
			d.notify(tx, LevelSuccess, "Queue item submitted successfully")
		}
	})

	if err != nil {
		logger.Warn("submission failed", "error", err)
		return
	}
	logger.Info("submitted", "task_id", res.TaskID, "vault_digest", data.VaultDigest)
}

func (d *Dispatcher) trackActiveLocked(t ActiveTask) {
	if prev, ok := d.active[t.Bridge]; ok {
		delete(d.taskBridge, prev.TaskID)
	}
	d.active[t.Bridge] = t
	if t.Priority == HighestPriority {
		d.taskBridge[t.TaskID] = t.Bridge
	}
}

// pruneLocked drops everything that is neither pending nor submitting.
func (d *Dispatcher) pruneLocked() {
	d.items = slices.DeleteFunc(d.items, func(e *entry) bool {
		return e.item.Status != StatusPending && e.item.Status != StatusSubmitting
	})
}

func (d *Dispatcher) pruneStaleActiveLocked() {
	if d.activeTTL < 0 {
		return
	}
	cutoff := d.now().Add(-d.activeTTL)
	for bridge, t := range d.active {
		if t.Priority == HighestPriority && t.Timestamp.Before(cutoff) {
			d.logger.Warn("pruning stale active task", "bridge", bridge, "task_id", t.TaskID, "age", d.now().Sub(t.Timestamp))
			delete(d.active, bridge)
			delete(d.taskBridge, t.TaskID)
		}
	}
}

// Retry puts a failed item back to pending with a fresh attempt count.
func (d *Dispatcher) Retry(id string) error {
	var err error
	d.mutate(func(tx *txn) {
		_, e := d.findLocked(id)
		switch {
		case e == nil:
			err = fmt.Errorf("%s: %w", id, ErrItemNotFound)
		case e.item.Status != StatusFailed:
			err = fmt.Errorf("%s is %s: %w", id, e.item.Status, ErrNotRetryable)
		default:
			e.item.Status = StatusPending
			e.item.RetryCount = 0
			tx.changed = true
			d.ensureProcessingLocked()
		}
	})
	return err
}

// Remove deletes an item whatever its status. A submitting item's network
// call is not aborted.
func (d *Dispatcher) Remove(id string) error {
	var err error
	d.mutate(func(tx *txn) {
		i, _ := d.findLocked(id)
		if i < 0 {
			err = fmt.Errorf("%s: %w", id, ErrItemNotFound)
			return
		}
		d.items = slices.Delete(d.items, i, i+1)
		tx.changed = true
	})
	return err
}

// ClearCompleted keeps only pending and submitting items.
func (d *Dispatcher) ClearCompleted() {
	d.mutate(func(tx *txn) {
		d.pruneLocked()
		tx.changed = true
	})
}

// ClearCancelled drops cancelled items.
func (d *Dispatcher) ClearCancelled() {
	d.mutate(func(tx *txn) {
		d.items = slices.DeleteFunc(d.items, func(e *entry) bool { return e.item.Status == StatusCancelled })
		tx.changed = true
	})
}

// ClearActiveTasks forgets the active task of bridge, or of every bridge when
// bridge is empty.
func (d *Dispatcher) ClearActiveTasks(bridge string) {
	d.mutate(func(tx *txn) {
		for b, t := range d.active {
			if bridge == "" || b == bridge {
				delete(d.active, b)
				delete(d.taskBridge, t.TaskID)
			}
		}
		tx.changed = true
	})
}

// UpdateTaskStatus applies a remote outcome to the active-task index and
// returns the bridge it released, if any.
//
// The owning bridge is found through the task id index, then by scanning the
// active tasks, then through the local item that carries the task id.
func (d *Dispatcher) UpdateTaskStatus(taskID string, status Status) (string, error) {
	if !status.Terminal() {
		return "", ErrInvalidStatus
	}

	var cleared string
	d.mutate(func(tx *txn) {
		if bridge, ok := d.taskBridge[taskID]; ok {
			if t, ok := d.active[bridge]; ok && t.TaskID == taskID {
				cleared = bridge
			}
		}

		if cleared == "" {
			for bridge, t := range d.active {
				if t.TaskID == taskID && t.Priority == HighestPriority {
					cleared = bridge
					break
				}
			}
		}

		if cleared == "" {
			for _, e := range d.items {
				if e.item.TaskID != taskID || !e.item.Data.Highest() {
					continue
				}
				if t, ok := d.active[e.item.Data.Bridge]; ok && t.TaskID == taskID {
					cleared = e.item.Data.Bridge
				}
				e.item.Status = StatusSubmitted
				break
			}
		}

		if cleared != "" {
			delete(d.active, cleared)
		}
		delete(d.taskBridge, taskID)
		tx.changed = true
		d.emit(tx, MonitorEvent{Type: EventTaskStatus, TaskID: taskID, Status: status})
	})

	if cleared != "" {
		log.WithBridge(cleared).Info("released bridge", "task_id", taskID, "status", status)
	}
	return cleared, nil
}

// Queue returns a snapshot of all local items in insertion order.
func (d *Dispatcher) Queue() []Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Item returns a copy of one item.
func (d *Dispatcher) Item(id string) (Item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, e := d.findLocked(id)
	if e == nil {
		return Item{}, false
	}
	return e.item, true
}

// Position is the 1-based rank of id among pending items, or -1.
func (d *Dispatcher) Position(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positionLocked(id)
}

func (d *Dispatcher) positionLocked(id string) int {
	pos := 0
	for _, e := range d.items {
		if e.item.Status != StatusPending {
			continue
		}
		pos++
		if e.item.ID == id {
			return pos
		}
	}
	return -1
}

// Stats returns the counts computed at the last mutation.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ActiveTasks returns the active-task index sorted by bridge.
func (d *Dispatcher) ActiveTasks() []ActiveTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeLocked()
}

func (d *Dispatcher) activeLocked() []ActiveTask {
	out := make([]ActiveTask, 0, len(d.active))
	for _, t := range d.active {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b ActiveTask) int { return strings.Compare(a.Bridge, b.Bridge) })
	return out
}

// CanSubmit reports whether Enqueue would accept a task of this priority for
// bridge without preempting anything.
func (d *Dispatcher) CanSubmit(bridge string, priority int) bool {
	if priority != HighestPriority {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.hasActivePriorityLocked(bridge, "", "")
}

// ActiveCountByBridge counts highest-priority items per bridge that are
// pending, submitting, or submitted.
func (d *Dispatcher) ActiveCountByBridge() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int)
	for _, e := range d.items {
		it := e.item
		if !it.Data.Highest() || it.Data.Bridge == "" {
			continue
		}
		switch it.Status {
		case StatusPending, StatusSubmitting, StatusSubmitted:
			out[it.Data.Bridge]++
		}
	}
	return out
}

// Subscribe registers fn and calls it immediately with the current queue.
func (d *Dispatcher) Subscribe(fn Listener) (unsubscribe func()) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	id := d.nextListen
	d.nextListen++
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	snapshot := d.snapshotLocked()
	d.mu.Unlock()

	fn(snapshot)

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.listeners = slices.DeleteFunc(d.listeners, func(l listenerEntry) bool { return l.id == id })
	}
}

// SubscribeItem follows a single item. fn receives nil once it is removed.
func (d *Dispatcher) SubscribeItem(id string, fn ItemListener) (unsubscribe func()) {
	return d.Subscribe(func(items []Item) {
		for i := range items {
			if items[i].ID == id {
				it := items[i]
				fn(&it)
				return
			}
		}
		fn(nil)
	})
}

// DebugInfo is an internal state dump for diagnostics.
type DebugInfo struct {
	Started     bool              `json:"started"`
	Processing  bool              `json:"processing"`
	QueueLength int               `json:"queue_length"`
	Stats       Stats             `json:"stats"`
	ActiveTasks []ActiveTask      `json:"active_tasks"`
	TaskIndex   map[string]string `json:"task_index"`
	Listeners   int               `json:"listeners"`
}

// DebugInfo returns a consistent dump of internal state.
func (d *Dispatcher) DebugInfo() DebugInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	index := make(map[string]string, len(d.taskBridge))
	for k, v := range d.taskBridge {
		index[k] = v
	}
	return DebugInfo{
		Started:     d.started,
		Processing:  d.processing,
		QueueLength: len(d.items),
		Stats:       d.stats,
		ActiveTasks: d.activeLocked(),
		TaskIndex:   index,
		Listeners:   len(d.listeners),
	}
}
