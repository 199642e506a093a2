// Package records provides persistence for entity collections (clients,
// services, time entries, invoices, settings). Each collection lives in its
// own table holding the record identity, its timestamp and the raw JSON.
package records
