// Grok2API is an OpenAI-compatible gateway in front of an upstream
// conversational backend.
//
// It translates chat, image, and video calls into upstream conversations,
// managing:
//   - A pool of upstream credentials with health, cooldown, and quota state
//   - A pool of egress proxies with sticky credential bindings
//   - Retry and failover across credential+proxy pairs
//   - Streaming SSE responses with media extraction and caching
//   - Long-running video generation tasks
//
// Usage:
//
//	# Start the gateway with the default configuration file
//	grok2api run
//
//	# Start with a custom configuration file
//	grok2api run --config /path/to/config.yaml
//
//	# Show version information
//	grok2api version
//
//	# Inspect persisted credentials
//	grok2api accounts list
//
//	# Probe the configured proxies
//	grok2api proxies check
package main

func main() {
	Execute()
}
