// Package vehicleimage ingests vehicle photos through signed object-store
// URLs and keeps exactly one primary image per vehicle.
//
// Uploads are two-phase. BeginUpload issues a short-lived signed PUT URL for
// a freshly generated key; the client uploads straight to the object store
// and then calls ConfirmUpload, which checks the key against the owner,
// probes the store for the object and records the metadata. Rejected
// confirmations delete the uploaded object so nothing is left behind.
//
// # Primary Invariant
//
// For every owner at most one image is primary, and exactly one is primary
// whenever the owner has any image. All read-decide-write sequences for an
// owner run inside Repository.WithOwnerLock, so concurrent confirmations and
// deletions for the same vehicle are serialized while different vehicles
// proceed in parallel.
//
// Implementations of repositories (memory, Postgres) and object stores
// (memory, S3, MinIO) live in subpackages.
package vehicleimage
