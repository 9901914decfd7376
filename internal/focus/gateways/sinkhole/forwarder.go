package sinkhole

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	errNoServersProvided = "no upstream DNS servers provided"
	errServerFailed      = "server %s: %w"
	errAllServersFailed  = "all %d upstream servers failed"
	errQueryTimeout      = "query timeout after %v"
	errFailedToConnect   = "failed to connect: %w"
	errWriteFailed       = "write failed: %w"
	errReadFailed        = "read failed: %w"
)

// maxPacketSize covers EDNS0 replies from upstream.
const maxPacketSize = 4096

var errIDMismatch = errors.New("upstream reply does not match query id")

// DialFunc opens a connection to an upstream server.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	Servers  []string
	Timeout  time.Duration
	Parallel bool
	// Dial is injectable for tests.
	Dial DialFunc
}

// Forwarder relays raw queries to upstream resolvers over UDP, either one
// server at a time or to all servers at once taking the first answer.
type Forwarder struct {
	servers  []string
	timeout  time.Duration
	parallel bool
	dial     DialFunc
}

var _ Upstream = (*Forwarder)(nil)

// NewForwarder returns a Forwarder. The timeout defaults to 5 seconds.
func NewForwarder(opts ForwarderOptions) (*Forwarder, error) {
	if len(opts.Servers) == 0 {
		return nil, errors.New(errNoServersProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Forwarder{
		servers:  opts.Servers,
		timeout:  opts.Timeout,
		parallel: opts.Parallel,
		dial:     opts.Dial,
	}, nil
}

// ensureContextDeadline applies the default timeout when ctx has no deadline.
func (f *Forwarder) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, f.timeout)
	}
	return ctx, nil
}

// Forward sends query upstream and returns the first matching reply.
func (f *Forwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	var p dnsmessage.Parser
	hdr, err := p.Start(query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	ctx, cancel := f.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}
	if f.parallel {
		return f.forwardParallel(ctx, query, hdr.ID)
	}
	return f.forwardSerial(ctx, query, hdr.ID)
}

func (f *Forwarder) forwardSerial(ctx context.Context, query []byte, id uint16) ([]byte, error) {
	var lastErr error
	for _, server := range f.servers {
		resp, err := f.exchange(ctx, server, query, id)
		if err == nil {
			return resp, nil
		}
		lastErr = fmt.Errorf(errServerFailed, server, err)
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(f.servers), lastErr)
}

func (f *Forwarder) forwardParallel(ctx context.Context, query []byte, id uint16) ([]byte, error) {
	responses := make(chan []byte, 1)
	failures := make(chan error, len(f.servers))

	for _, server := range f.servers {
		go func(srv string) {
			resp, err := f.exchange(ctx, srv, query, id)
			if err != nil {
				failures <- fmt.Errorf(errServerFailed, srv, err)
				return
			}
			select {
			case responses <- resp:
			default:
			}
		}(server)
	}

	var errs []error
	for range f.servers {
		select {
		case resp := <-responses:
			return resp, nil
		case err := <-failures:
			errs = append(errs, err)
		case <-ctx.Done():
			return nil, fmt.Errorf(errQueryTimeout, f.timeout)
		}
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(f.servers), errors.Join(errs...))
}

// exchange performs one query against server, honoring ctx.
func (f *Forwarder) exchange(ctx context.Context, server string, query []byte, id uint16) ([]byte, error) {
	conn, err := f.dial(ctx, "udp", server)
	if err != nil {
		return nil, fmt.Errorf(errFailedToConnect, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	type result struct {
		resp []byte
		err  error
	}
	results := make(chan result, 1)

	go func() {
		if _, err := conn.Write(query); err != nil {
			results <- result{err: fmt.Errorf(errWriteFailed, err)}
			return
		}
		buf := make([]byte, maxPacketSize)
		n, err := conn.Read(buf)
		if err != nil {
			results <- result{err: fmt.Errorf(errReadFailed, err)}
			return
		}
		var p dnsmessage.Parser
		hdr, err := p.Start(buf[:n])
		if err != nil {
			results <- result{err: fmt.Errorf("parse reply: %w", err)}
			return
		}
		if !hdr.Response || hdr.ID != id {
			results <- result{err: errIDMismatch}
			return
		}
		results <- result{resp: buf[:n]}
	}()

	select {
	case res := <-results:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
