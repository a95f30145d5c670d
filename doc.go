/*
Package tapestry runs interactive, AI-narrated text adventures as independent
sessions fed by an ordered action queue.

Each session is owned by one worker. Producers (a terminal, an HTTP client, an
MCP tool call, an AMQP message) submit Actions; the worker applies them one at a
time against the session timeline, asks the configured generator for the next
passage on ACT, and delivers a Result to the output sinks.

# Usage

	gen := echo.New()
	t, err := tapestry.New(gen,
		tapestry.WithStore(file.New("saves")),
		tapestry.WithSink(runner.NewTextSink(os.Stdout)),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer t.Shutdown(context.Background())

	ctx := context.Background()
	t.Submit(ctx, domain.Action{Kind: domain.KindSetContext, SessionRef: "table-1", Text: "You are a knight."})
	t.Submit(ctx, domain.Action{Kind: domain.KindAct, SessionRef: "table-1", Text: "draw your sword"})

# Architecture

  - pkg/domain: Session, Action, Result, the prompt window and the error taxonomy.
  - pkg/ports: Generator, SessionStore, ActionQueue, DistributedLocker and OutputSink.
  - pkg/queue, pkg/runner, pkg/session: the queue, the worker loop and the per-ref manager.
  - pkg/adapters: generators (echo, openai, ollama, anthropic), stores (memory, file,
    loam, redis, postgres), intakes (http, mcp, amqp) and the episode log sink.
  - pkg/persistence/middleware: encryption and redaction decorators for any store.
*/
package tapestry
