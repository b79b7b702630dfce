// Package orchestrator supervises user tasks from submission to a terminal state.
//
// A Supervisor owns every task lifecycle:
//   - Context: long-term memories and recent conversation history are assembled per scope
//   - Routing: a Router picks exactly one registered agent for the task
//   - Execution: exclusive agents run one at a time under the shared slot
//   - Bookkeeping: steps, attachments, and the final outcome are written best-effort
//
// Status moves PENDING -> RUNNING -> DONE | FAILED | CANCELLED. A cancel
// requested before the agent finishes always wins, even if the agent later
// reports success.
//
// Example usage:
//
//	sup := orchestrator.New(orchestrator.RequiredConfig{
//		Store:    db,
//		Registry: registry,
//		Router:   agent.NewRouter(registry, client, logger),
//	}, orchestrator.WithLogger(logger))
//	res := sup.Run(ctx, orchestrator.Input{Task: "cari harga iphone 15", Channel: "cli", ChannelID: "local"})
package orchestrator
