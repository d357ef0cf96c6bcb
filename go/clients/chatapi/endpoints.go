package chatapi

const (
	// API Endpoints
	MessagesEndpoint    = "/api/chat/rooms/%s/messages"
	OnlineUsersEndpoint = "/api/chat/rooms/%s/online"
	MarkReadEndpoint    = "/api/chat/rooms/%s/read"

	// Headers
	AuthorizationHeader = "Authorization"
	ContentTypeHeader   = "Content-Type"
	ContentTypeJSON     = "application/json"

	// DefaultFetchLimit bounds a single history page
	DefaultFetchLimit = 100
)
