package server

// Config is the HTTP server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// BodyLimit is the largest accepted request body in bytes. Audio uploads
	// count against it. Zero uses fiber's default.
	BodyLimit int
}
