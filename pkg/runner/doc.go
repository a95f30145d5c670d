/*
Package runner implements the session worker: the single consumer that drains one
session's Action Queue and owns its Session State.

It acts as the bridge between the state machine (internal/runtime) and the outside
world. The runner applies one action at a time, publishes a read-only snapshot after
every commit, forwards a Result to the configured OutputSink, and performs the
best-effort fallback saves on panic and on shutdown.

# Key Components

  - Runner: the worker loop for one session.
  - TextSink / JSONSink / MultiSink: OutputSink implementations for terminals and pipes.
  - SanitizeInput: size, encoding and control-character checks for user text.

# Usage

	q := queue.New(64)
	r := runner.NewRunner("chan-1", q, engine,
		runner.WithSink(runner.NewTextSink(os.Stdout)),
		runner.WithLogger(logger),
	)

	go r.Run(ctx)
	q.Enqueue(ctx, domain.Action{Kind: domain.KindSetContext, SessionRef: "chan-1", Text: "You are a knight."})
*/
package runner
