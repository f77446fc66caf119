// Package pipeline reconciles raw device transactions into attendance days.
//
// Each transaction flows through the same stages regardless of which
// ingestion adapter produced it:
//
//	device lookup → resolve → tenant check → ledger admit → aggregate apply → notify
//
// Adapters call Submit, which never blocks; a fixed pool of workers started
// by Run drains the intake queue. Process runs the stages synchronously and
// is what workers, the ingest command and tests call directly.
//
// Nothing here is fatal. A failed transaction yields a Result carrying a
// *DropError; workers log it and move on.
package pipeline
