// Package asyncjob models one asynchronous insights report job: a request for one
// account and one date interval that the platform runs in the background.
//
// A Job moves through created -> started -> completed, or to failed from where it
// can be started again. A failed multi-day job can be split into children whose
// intervals partition its own. Jobs are not safe for concurrent use; the job
// manager owns a job until it yields it, after which the receiver owns it.
package asyncjob
