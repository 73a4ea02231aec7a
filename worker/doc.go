// Package worker
// Author: momentics <momentics@gmail.com>
//
// Per-thread run loop of the accept runtime. A worker owns one completion
// ring, one coroutine manager per listener kind, the dispatch router and the
// pending resubmission queue, and drains its inbound connection queue into a
// handler. Everything a worker owns is confined to its locked OS thread.
package worker
