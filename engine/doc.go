// Package engine implements the admission and scheduling core for a
// multi-tenant, GPU-backed inference service.
//
// # Reading Guide
//
// Start with these files to understand the engine end to end:
//   - request.go: Request lifecycle (queued -> dispatched -> resolved) and the
//     one-shot completion handle clients await.
//   - tenant.go: per-tenant token-bucket admission control.
//   - queue.go: the lazy-aged priority queue requests wait in once admitted.
//   - batch.go: assembles a KV-budget-respecting batch from the queue.
//   - scheduler.go: the worker loop tying everything together, including the
//     homeostatic window adaptation driven by arrival entropy.
//   - gpu.go: the modeled GPU backend the scheduler dispatches batches to.
//
// # Architecture
//
// Requests arrive concurrently from many goroutines via Submit. Submit runs
// the admission check (TenantRegistry.Admit) synchronously and, on success,
// pushes the request onto the shared PriorityQueue and records its arrival
// with the ArrivalEntropyMeter. A single scheduler goroutine (Scheduler.Run)
// wakes on an entropy-adaptive interval, drains the queue through the
// BatchBuilder subject to the GPUBackend's KV budget, and dispatches.
//
// # Key interfaces
//
//   - GPUBackend: executes a Batch and reports timing; SimulatedGPUBackend is
//     the shipped deterministic model, but any implementation of the
//     interface can be substituted for real hardware.
//   - Clock: supplies monotonic time in nanoseconds; tests inject a Manual
//     clock to make aging (§S4) and entropy (§S5) scenarios reproducible.
package engine
