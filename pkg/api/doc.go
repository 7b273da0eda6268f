/*
Package api exposes the bus over HTTP and, optionally, the gRPC health
protocol.

# HTTP routes

	PUT    /apps/{app}                                    create app
	DELETE /apps/{app}                                    delete app
	GET    /apps                                          list apps
	PUT    /apps/{app}/channels/{channel}                 create channel
	DELETE /apps/{app}/channels/{channel}                 delete channel
	GET    /apps/{app}/channels                           list channels
	POST   /apps/{app}/channels/{channel}/events          publish a batch
	GET    /apps/{app}/channels/{channel}/events          event history (?pretty=true)
	PUT    /apps/{app}/channels/{channel}/subscriptions   subscribe {"name": ...}
	DELETE /apps/{app}/channels/{channel}/subscriptions/{name}
	PUT    /users                                         create user {"name": ...}
	DELETE /users/{name}                                  delete user
	GET    /users/{name}/subscriptions                    list subscriptions
	GET    /users/{name}/stream                           live deliveries (SSE)
	GET    /health, /ready, /metrics

User and subscribe payloads may also be sent as a url-encoded form with a
"name" field. Events are JSON objects of the form {"data": "..."}; publish
takes an array of them and queues it as a single batch.

Names are required and at most 256 bytes. When Config.CORSOrigins is set,
browsers from those origins may call every route, including the stream.

# Errors

Failures return a JSON ErrorResponse. Not found maps to 404, already exists
to 409, a full channel queue or an exceeded publish rate to 429 with
Retry-After, malformed payloads to 400 and a shut down bus to 503.

# Streams

Every user created over HTTP gets a mailbox. GET /users/{name}/stream
attaches to it (one stream per user) and writes:

	event: connected
	data: {"user":"bob","connection":"<uuid>"}

	id: 1
	event: batch
	data: [{"data":"y"}]

	: heartbeat

When the stream ends and DeleteUserOnDisconnect is set the user is deleted,
which cancels all of its subscriptions.
*/
package api
