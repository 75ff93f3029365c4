/*
Package logging implements application log instrumentation and the
structured request log of the gateway.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
	    log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another writer, to switch to the JSON
formatter and to set a common prefix for each log entry.

# Request Log

The request log prints one record per request: "Request completed"
when the pipeline returned normally and "Request failed" when a fault
was raised by a filter or by the forwarding engine. The records carry
the correlation id, the trace identifiers, the matched route id, the
method, the path, the status, the duration in milliseconds and the
client identity. Internal error messages are logged here only, they are
never sent to the client.

The request log is JSON formatted by default and can be disabled.
*/
package logging
