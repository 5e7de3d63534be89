package chat

//APIerror is a self-explanatory error string, suitable for showing to users.
type APIerror struct {
	Reason string `json:"error"`
}

func (e APIerror) Error() string {
	return e.Reason
}

//ErrNoActiveConversation occurs when an operation needs an active conversation
//and none is selected. Distinguishable from network failures so callers can
//prompt for a conversation instead of offering a retry.
var ErrNoActiveConversation = APIerror{Reason: "No active conversation."}

//ErrNotConnected occurs when a transport call is made before Connect.
var ErrNotConnected = APIerror{Reason: "Not connected to the messaging service."}

//ErrSendTimeout occurs when the server does not acknowledge a sent message in time.
var ErrSendTimeout = APIerror{Reason: "Timed out waiting for send acknowledgement."}
