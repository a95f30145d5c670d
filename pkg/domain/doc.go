/*
Package domain contains the core domain models of the Tapestry session orchestrator.

It defines the narrative timeline of a single story (Session), the closed set of
commands that may mutate it (Action / Kind), the persisted record codec, and the
prompt window handed to generation backends. This package is kept pure and free of
I/O, following Hexagonal Architecture principles.

# Key Entities

  - Session: context, paired actions/results, memory facts and the censor flag.
  - Action: one normalized user command routed to exactly one session.
  - Result: the human-readable outcome of applying an Action.
  - Prompt: the bounded view of a Session sent to a generation backend.
*/
package domain
