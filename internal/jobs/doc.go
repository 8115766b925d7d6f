// Package jobs is the durable queue of future broadcasts.
//
// One cron entry ticks every few seconds. A tick claims each due job with an
// atomic storage update, runs the broadcast, then deletes the job. Cancel is
// an atomic delete that refuses claimed jobs, so firing and cancelling are
// mutually exclusive: whichever happens first wins.
//
// Delivery is AT-LEAST-ONCE across restarts. A job claimed by a process that
// died before deleting it is fired again by the next process. A tick stopped
// mid-broadcast hands the job back if no alert was published yet and removes
// it otherwise. Within one process a job fires at most once.
package jobs
