/*
Package ports defines the driven ports (interfaces) of the Tapestry orchestrator.

These interfaces decouple the session worker from its collaborators, allowing the
same state machine to run against different stores, queues, backends and sinks.

# Key Interfaces

  - SessionStore: durable key to record storage for Session State.
  - ActionQueue: ordered single-consumer hand-off between producers and a worker.
    AckQueue adds acknowledgement for queues shared between replicas.
  - Generator: the generation backend that continues the story.
  - OutputSink: receives the human-readable Result of every action.
  - DistributedLocker, LeaseLocker: cross-replica exclusion for a session.
*/
package ports
