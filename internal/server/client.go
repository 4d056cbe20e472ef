package server

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Connected reports whether a trace server is accepting connections
// on the socket.
func Connected(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}

	conn.Close()

	return true
}

// Client is one trace request to a running server.
type Client struct {
	conn *net.UnixConn
}

// Dial connects to the trace server.
func Dial(socketPath string) (*Client, error) {
	addr := &net.UnixAddr{Name: socketPath, Net: "unix"}

	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to trace server: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Trace sends the request with the report file's descriptor attached
// and blocks until the server has registered the session. The traced
// process may only start running after Trace returns.
func (c *Client) Trace(req *Request, reportFile *os.File) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	rights := unix.UnixRights(int(reportFile.Fd()))

	if _, _, err := c.conn.WriteMsgUnix(payload, rights, nil); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	ack := make([]byte, 1)
	if _, err := c.conn.Read(ack); err != nil {
		return fmt.Errorf("waiting for registration: %w", err)
	}

	if ack[0] != AckRegistered {
		return fmt.Errorf("unexpected registration ack 0x%02x", ack[0])
	}

	return nil
}

// WaitComplete blocks until the server has written the report.
func (c *Client) WaitComplete() error {
	ack := make([]byte, 1)
	if _, err := c.conn.Read(ack); err != nil {
		return fmt.Errorf("waiting for completion: %w", err)
	}

	if ack[0] != AckComplete {
		return fmt.Errorf("server failed to write the report")
	}

	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
