package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Curator.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Curator.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Curator.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeadLetter lists jobs parked in the dead-letter registry.
func (c *Client) DeadLetter() (*DeadLetterResponse, error) {
	var resp DeadLetterResponse
	if err := c.client.Call("Curator.DeadLetter", DeadLetterRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Requeue moves a dead job back to queued.
func (c *Client) Requeue(jobID string) (*RequeueResponse, error) {
	var resp RequeueResponse
	req := RequeueRequest{JobID: jobID}
	if err := c.client.Call("Curator.Requeue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearDone removes completed job rows older than the given age.
func (c *Client) ClearDone(olderThan time.Duration) (*ClearDoneResponse, error) {
	var resp ClearDoneResponse
	req := ClearDoneRequest{OlderThanSeconds: int(olderThan / time.Second)}
	if err := c.client.Call("Curator.ClearDone", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Curator.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
