// Package metrics provides observability hooks for sync runs and async report jobs.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so callers never check for nil:
//
//	manager := jobmanager.New(client, tracker, jobmanager.WithRecorder(recorder))
//
// The daemon swaps in a PrometheusRecorder registered on its own registry and serves
// it through HTTPHandler. One-shot CLI runs keep the no-op recorder.
package metrics
