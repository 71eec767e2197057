// Package bpu schedules client tasks onto a pool of accelerator cores whose
// hardware submission queues hold only a handful of entries.
//
// Tasks are buffered per core in software priority queues, written to the
// hardware as room frees up, and reconciled against small cyclic hardware ids
// reported on completion. A watchdog detects hung cores; a recovery executor
// resets them and replays every in-flight task of a live session.
//
// The hardware itself sits behind backend.Backend:
//
//	be := sim.New(capability, 2)
//	srv, _ := bpu.New(bpu.WithConfig(cfg), bpu.WithBackend(be))
//	_ = srv.Start(ctx)
//	sess, _ := srv.OpenSession(ctx)
//	_, _ = srv.Submit(ctx, sess.ID, bpu.Request{Priority: 1, Payload: data})
//	results, _ := srv.Poll(ctx, sess.ID, 0)
//
// Service packages:
//
//   - service/scheduler – software priority queues with anti-starvation aging
//   - service/core      – run-queues, hardware ids, reconciliation and recovery state
//   - service/recovery  – watchdog and recovery executor
//   - service/stats     – running ratios with periodic decay
package bpu
