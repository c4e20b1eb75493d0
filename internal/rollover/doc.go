// Package rollover closes the request engine's statistics day.
//
// The engine accumulates counters until told otherwise. The Scheduler runs a
// standard cron expression (default "0 0 * * *") in a configured location,
// calls ResetDay, and passes the closed report to each Sink in order: the
// SQLite archive, the NATS report publisher, and the metrics gauge reset.
package rollover
