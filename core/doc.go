// Package core holds the sync domain: canonical events, entity sync state,
// config, conflict rules and the error envelope. Transport, storage and
// gateway packages depend on core; core depends on none of them.
package core
