// Package poller drives polling of the project fleet.
//
// A Coordinator owns the cycle of one project: fetch the status feed and the
// building-status document concurrently, merge them, record the result in
// the history only if it changed, and always move the project's next poll
// time forward. A Scheduler runs that cycle for every due project on each
// tick with a bounded number of workers. Feed and network problems become
// error statuses; nothing a single project does can abort a pass.
package poller
