/*
Package requestid implements the identification filter of the gateway.

The filter runs first in the pipeline. It reuses a non-blank X-Request-Id
header sent by the client, or generates a new id, and sets it on the
request forwarded downstream and on the response. When the request
carries a W3C traceparent header, the trace and span ids are read from it.

After the response was sent, the filter writes one record to the request
log: "Request completed" when the pipeline returned normally, "Request
failed" otherwise.

# Generators

UUID version 4 ids are generated by default:

	X-Request-Id: 0b8a0a3e-5f5c-4c76-9b5b-3f4b0c0cf8a5

ULIDs sort by creation time and can be selected with
-request-id-generator=ulid:

	X-Request-Id: 01HX2A8Q3V5ZC9M3R4Y1T6W7KE
*/
package requestid
