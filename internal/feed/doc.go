// Package feed parses CI status feeds into status.Status values.
//
// Each upstream system is one Format with its own Parser:
//   - cruisecontrol: single-item RSS (rss.go)
//   - hudson: Atom, newest entry first (atom.go)
//   - teamcity_rest, teamcity_build: REST build list (teamcity.go)
//
// Building indicators come from a separate document: the running attribute
// of the first <build> for TeamCity, or the cctray Project list for
// CruiseControl and Hudson (cctray.go).
//
// Parsers never return errors. A document that is not XML yields a status
// with Error set; a well-formed document without a build record yields an
// offline status. When a feed has no timestamp the previous status's time is
// reused if the (url, success) pair is unchanged, otherwise the parse-time
// clock is used.
package feed
