package chat

// Backend API paths.
const (
	endpointLogin      = "/api/auth/login"
	endpointLogout     = "/api/auth/logout"
	endpointCharacters = "/api/characters"
	endpointStream     = "/api/chat/stream"
	endpointHistory    = "/api/chat/history"
)
