package udpmux

import (
	"context"
	"net"
	"strconv"
	"time"

	"udpmux/internal/flog"
)

// Client is a UDP socket already connected, at the kernel level, to a
// single remote — the dual of PeerStream on the server side. Because the
// underlying net.UDPConn is not shared with anything else, Read/Write/
// deadlines all delegate straight through to it.
type Client struct {
	conn *net.UDPConn
}

// dialCandidate is the seam tests substitute to exercise the fallback
// iteration in ConnectClient without real network failures.
var dialCandidate = func(ctx context.Context, network, addr string, timeout time.Duration) (*net.UDPConn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return c.(*net.UDPConn), nil
}

// lookupIPs is the seam tests substitute for hostname resolution, so
// multi-candidate fallback can be exercised deterministically.
var lookupIPs = func(ctx context.Context, host string) ([]net.IPAddr, error) {
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

// ConnectClient resolves host (a domain name or an IPv4/IPv6 literal) and
// dials port on each candidate address in turn, bound to an ephemeral local
// port of matching family, until one connects or every candidate has been
// tried. connectTimeout bounds both the DNS lookup and each individual
// connect attempt.
func ConnectClient(ctx context.Context, host string, port int, connectTimeout time.Duration) (*Client, error) {
	addrs, err := resolveHost(ctx, host, connectTimeout)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range addrs {
		network := "udp4"
		if ip.To4() == nil {
			network = "udp6"
		}
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))

		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		conn, err := dialCandidate(attemptCtx, network, addr, connectTimeout)
		cancel()
		if err != nil {
			flog.Debugf("udpmux: connect candidate %s failed: %v", addr, err)
			lastErr = err
			continue
		}
		flog.Infof("udpmux: connected to %s", addr)
		return &Client{conn: conn}, nil
	}

	return nil, &ConnectError{Host: host, Port: port, Err: lastErr}
}

func resolveHost(ctx context.Context, host string, timeout time.Duration) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ipAddrs, err := lookupIPs(lookupCtx, host)
	if err != nil {
		return nil, &ResolveError{Host: host, Err: err}
	}
	ips := make([]net.IP, len(ipAddrs))
	for i, a := range ipAddrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// Read reads one datagram from the connected remote.
func (c *Client) Read(b []byte) (int, error) { return c.conn.Read(b) }

// Write sends one datagram to the connected remote.
func (c *Client) Write(b []byte) (int, error) { return c.conn.Write(b) }

// Flush is a no-op; UDP has nothing to drain client-side either.
func (c *Client) Flush() error { return nil }

// Close releases the underlying socket.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Client) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *Client) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *Client) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
