// Package dispatch connects transaction lifecycle events to the rule engine.
//
// The store reports created and updated transactions through a callback.
// Dispatcher.Notify matches that callback, queues the event and returns
// immediately. Run (long-lived processes) or Drain (one-shot commands) then
// coalesces consecutive events with the same trigger into one
// engine.ProcessBatch call.
//
//	d := dispatch.New(eng)
//	st.OnTransactionChange(d.Notify)
//	go d.Run(ctx)
package dispatch
