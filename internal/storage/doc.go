// Package storage persists alertbot's collections.
//
// Every collection (alerts, jobs, inbox, subscriptions, stats, users) is an
// independent set of JSON documents keyed by string. Mutations go through
// Store.Update, an atomic read-modify-write in every driver, so concurrent
// writers never lose updates. Driver failures are wrapped in ErrPersistence.
//
// An append-only audit trail of operator actions is kept alongside.
package storage
