package extract

import "fmt"

// Client is the identity the extractor presents to the upstream source. The
// upstream throttles and blocks identities independently, so a download which
// fails under one client frequently succeeds under another.
type Client int

const (
	ClientTV Client = iota
	ClientIOS
	ClientAndroid
	ClientWeb

	clientCount
)

// Clients returns every Client in the order they should be attempted.
func Clients() []Client {
	clients := make([]Client, 0, clientCount)
	for c := ClientTV; c < clientCount; c++ {
		clients = append(clients, c)
	}

	return clients
}

// String returns the player_client name understood by yt-dlp.
func (c Client) String() string {
	switch c {
	case ClientTV:
		return "tv"
	case ClientIOS:
		return "ios"
	case ClientAndroid:
		return "android"
	case ClientWeb:
		return "web"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", int(c))
	}
}

// Valid reports whether the client is one of the known identities.
func (c Client) Valid() bool {
	return c >= ClientTV && c < clientCount
}
