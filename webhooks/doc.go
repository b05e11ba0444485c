// Package webhooks is the ingestion gateway that sits between the CRM and
// sync clients.
//
// A delivery is verified against an HMAC of its raw body, mapped to a
// CanonicalEvent and stored with a retention window. Clients poll the store
// with a sequence cursor. Payloads that cannot be mapped are still stored,
// flagged unprocessable, so they surface in dead letters downstream.
package webhooks
