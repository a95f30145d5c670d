/*
Package session routes actions to per-session workers.

The Manager lazily spawns one Action Queue and one Runner for every session ref it
sees, so each session has exactly one consumer, and retires both when the worker
exits. Sessions are independent: nothing mutable is shared between workers.
*/
package session
