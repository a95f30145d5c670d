/*
Package observability provides Prometheus instrumentation for the Tapestry orchestrator.

Metrics cover processed actions by kind and outcome, generation backend latency,
queue depth and rejections, live workers, and persistence operations. A nil
*Metrics is valid and records nothing, so components can take one unconditionally.
*/
package observability
