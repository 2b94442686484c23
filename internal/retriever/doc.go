// Package retriever performs the network fetch of CI status feeds.
//
// HTTP issues a GET with an optional Basic Auth header and a client-side
// timeout. Every failure (transport, timeout, cancelled context, non-2xx
// status) is reported as *RetrievalError so callers handle all of them the
// same way. Retrying is left to the scheduler: a failed project is simply
// polled again on its next cycle.
//
// Func lets tests substitute canned content without a server.
package retriever
