// Package logging is the zap wrapper used across memengine.
//
// Every method takes a context and prepends the otel trace and span ids,
// the tenant id and the request id found there:
//
//	ctx = logging.WithTenant(ctx, "tenant-42")
//	logger.Info(ctx, "memory stored", zap.String("memory_id", id))
//
// produces
//
//	{"level":"info","ts":"2026-03-02T10:15:30.000Z","msg":"memory stored",
//	 "service":"memengine","tenant.id":"tenant-42","memory_id":"tenant-42-1740910530000-k2j3h4g5f"}
//
// Memory text must not be logged. Log ids and counts, or TextLen for sizes;
// the key_text, value_text, content and query keys are masked by the
// encoder regardless.
//
// Levels include TraceLevel below Debug. With sampling on, entries below
// Error are sampled per message and errors always pass.
package logging
