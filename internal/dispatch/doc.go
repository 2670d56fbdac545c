// Package dispatch queues bridge-function tasks locally and hands them to the
// remote job queue.
//
// Items at HighestPriority are exclusive per bridge: at most one may be pending,
// submitting, or running remotely on a bridge at a time. They are submitted by
// a polling loop, one item per tick. Lower priority items bypass the loop and
// are submitted synchronously by Enqueue.
//
// Item lifecycle:
//   - pending → submitting → submitted | failed
//   - pending → cancelled (preempted by a newer highest-priority item for the
//     same bridge and machine, or found conflicting when picked)
//   - failed → pending (explicit Retry; attempt count resets)
//
// Local status only ever reflects the submission outcome. Remote completion is
// reported through UpdateTaskStatus, which releases the bridge's active task.
//
// Every mutation recomputes Stats and notifies subscribed listeners with the
// full queue snapshot before the mutating call returns. Listeners run with the
// dispatcher unlocked and may call read methods, but must not mutate the
// dispatcher synchronously.
package dispatch
