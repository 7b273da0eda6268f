/*
Package client is a typed HTTP client for the burrow API, used by the
burrow CLI.

	c := client.NewClient("127.0.0.1:8080")
	if err := c.CreateApp(ctx, "a1"); err != nil {
		return err
	}

Errors returned by the server are mapped back to the
github.com/containerd/errdefs classes, so callers can test them with
errdefs.IsNotFound and friends exactly as they would in-process.

Stream follows a user's Server-Sent Events stream and hands every batch to
a callback.
*/
package client
