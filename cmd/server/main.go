// Command server runs the chat relay: an OpenAI-compatible HTTP API in front
// of a pool of backend credentials.
//
// Usage:
//
//	# Start the relay (serve is the default command)
//	server --config config.yaml
//
//	# Check every configured token once
//	server probe --config config.yaml --model gpt-4
package main

func main() {
	Execute()
}
