// Package nut implements the Network UPS Tools (NUT) client-side wire
// protocol directly: a line-based TCP protocol, terminated by "\n", with an
// optional USERNAME/PASSWORD handshake and a LIST VAR query.
//
// This is hand-rolled rather than built on a third-party NUT client because
// the protocol grammar itself — the exact line shapes, the ERR prefixes,
// the quoting — is the thing being specified; see client_test.go for the
// conformance cases this grammar must satisfy.
package nut

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	connectTimeout = 10 * time.Second
	fetchTimeout   = 30 * time.Second
)

// Client is a connection to a single NUT upsd daemon. It is safe to call
// Connect, Disconnect, and FetchVariables from different goroutines, though
// the Poller (C4) only ever uses one Client from a single goroutine at a
// time per spec §4.4.
type Client struct {
	host     string
	port     int
	username string
	password string

	mu         sync.Mutex
	conn       net.Conn
	br         *bufio.Reader
	connecting bool
}

// NewClient returns an unconnected Client for host:port. username/password
// may be empty, in which case Connect skips the auth handshake.
func NewClient(host string, port int, username, password string) *Client {
	return &Client{host: host, port: port, username: username, password: password}
}

// Connect dials upsd and, if credentials were supplied, authenticates. A
// second Connect call while one is already in flight fails fast with
// ErrConnectionFailed rather than blocking; calling Connect on an
// already-connected Client is a no-op that reuses the open connection. A
// failed connect attempt always leaves the Client disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrConnectionFailed)
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(c.host, strconv.Itoa(c.port)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := conn.SetDeadline(time.Now().Add(connectTimeout)); err != nil {
		conn.Close() //nolint:errcheck
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	br := bufio.NewReader(conn)

	if c.username != "" {
		if err := authenticate(conn, br, "USERNAME", c.username); err != nil {
			conn.Close() //nolint:errcheck
			return err
		}
	}
	if c.password != "" {
		if err := authenticate(conn, br, "PASSWORD", c.password); err != nil {
			conn.Close() //nolint:errcheck
			return err
		}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close() //nolint:errcheck
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.br = br
	c.mu.Unlock()
	return nil
}

// authenticate sends "<cmd> <arg>\n" and requires a line starting with "OK"
// in response; anything else is ErrAuthFailed.
func authenticate(conn net.Conn, br *bufio.Reader, cmd, arg string) error {
	if err := writeLine(conn, cmd+" "+arg); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	line, err := readLine(br)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	if !strings.HasPrefix(line, "OK") {
		return ErrAuthFailed
	}
	return nil
}

// Disconnect closes the connection. It is idempotent and never returns an
// error to the caller.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.Close()
	c.conn = nil
	c.br = nil
	return nil
}

// FetchVariables issues "LIST VAR <upsName>" and returns every key/value
// pair reported for that UPS. The whole call is bounded by a 30 s read
// deadline regardless of how many lines the server sends.
func (c *Client) FetchVariables(ctx context.Context, upsName string) (map[string]string, error) {
	c.mu.Lock()
	conn, br := c.conn, c.br
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}

	deadline := time.Now().Add(fetchTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer conn.SetDeadline(time.Time{}) //nolint:errcheck

	if err := writeLine(conn, "LIST VAR "+upsName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	vars := make(map[string]string)
	for {
		line, err := readLine(br)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}

		switch {
		case strings.HasPrefix(line, "BEGIN LIST VAR"):
			continue
		case line == "ERR UNKNOWN-UPS":
			return nil, ErrUPSNotFound
		case strings.HasPrefix(line, "ERR"):
			return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, line)
		case strings.HasPrefix(line, "END LIST VAR"):
			return vars, nil
		case strings.HasPrefix(line, "VAR "):
			varUPS, key, value, ok := parseVarLine(line)
			if !ok {
				return nil, fmt.Errorf("%w: malformed VAR line %q", ErrInvalidResponse, line)
			}
			if varUPS != upsName {
				continue // line for a different UPS; silently skipped per §4.1
			}
			vars[key] = value
		default:
			// Unrecognized line outside the documented grammar; ignore and
			// keep reading rather than failing the whole fetch on it.
		}
	}
}

// parseVarLine splits `VAR <upsName> <key> "<value>"` into its parts,
// unquoting value per Go/C string-escape rules (NUT quotes values the same
// way).
func parseVarLine(line string) (upsName, key, value string, ok bool) {
	rest := strings.TrimPrefix(line, "VAR ")
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	unquoted, err := strconv.Unquote(parts[2])
	if err != nil {
		unquoted = strings.Trim(parts[2], `"`)
	}
	return parts[0], parts[1], unquoted, true
}

func writeLine(conn net.Conn, s string) error {
	_, err := conn.Write([]byte(s + "\n"))
	return err
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
