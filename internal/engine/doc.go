// Package engine is the human-gated scheduling core: the task registry and
// state machine, the per-kind scheduler timers, the approval coordinator, and
// the execution guard that serializes agent invocations per channel.
//
// Tasks are in-memory only. A process restart drops all registered tasks;
// outstanding approval prompts simply expire on the chat side.
package engine
