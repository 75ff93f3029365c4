package faults

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// Classify maps any error to a fault. Faults in the chain are returned as
// they are. Dial failures become BadGateway, timeouts GatewayTimeout and
// everything else Internal.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}

	var f *Fault
	if errors.As(err, &f) {
		if f.Status == 0 {
			c := *f
			c.Status = http.StatusInternalServerError
			return &c
		}
		return f
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return GatewayTimeout(err)
	}

	var oerr *net.OpError
	if errors.As(err, &oerr) && oerr.Op == "dial" {
		if oerr.Timeout() {
			return GatewayTimeout(err)
		}
		return BadGateway(err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return BadGateway(err)
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return GatewayTimeout(err)
	}

	return Internal(err)
}
