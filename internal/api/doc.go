// Package api serves the read-only dashboard over HTTP.
//
// New(source) returns a chi router with:
//
//	GET /api/v1/health                  overall state and per-state counts
//	GET /api/v1/projects                every registered project with its health
//	GET /api/v1/projects/{id}           one project; 404 if unknown
//	GET /api/v1/projects/{id}/statuses  recorded history, ?since=<status id>
//	GET /api/v1/projects/{id}/tree      resolved dependency tree of a teamcity_build project
//	GET /api/v1/groups                  every configured group
//	GET /api/v1/groups/{id}             one group
//	GET /api/v1/dashboard               projects and groups in one payload
//	GET /metrics                        Prometheus exposition
//
// Every response is JSON. Unknown routes get 404 and other methods get 405,
// both with an {"error": ...} body.
package api
