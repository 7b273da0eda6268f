/*
Package config holds the burrow server configuration.

Settings are resolved in three layers, each overriding the previous one:

 1. Default() built-in values
 2. a YAML file passed to Load (unknown keys are an error)
 3. BURROW_* environment variables applied by FromEnv

Command-line flags of `burrow serve` are applied last by the caller.

Example file:

	httpAddr: 127.0.0.1:8080
	grpcAddr: 127.0.0.1:9090
	log:
	  level: info
	  json: false
	channel:
	  queueSize: 512
	  bufferSize: 512
	  lagPolicy: oldest   # or "latest"
	sink:
	  mailboxSize: 256
	  stopTimeout: 2s     # max wait on a stuck sink when deleting a user
	api:
	  publishRate: 0      # requests/s per app, 0 disables
	  publishBurst: 50
	  deleteUserOnDisconnect: true
	  heartbeatInterval: 15s
	metrics:
	  collectInterval: 15s
*/
package config
