package negotiation

// Role is fixed for the lifetime of a Session.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// RoleFor assigns the initiator role to the room creator and the responder
// role to everyone else.
func RoleFor(creatorID, userID string) Role {
	if creatorID != "" && creatorID == userID {
		return RoleInitiator
	}
	return RoleResponder
}

// Session identifies one call attempt.
type Session struct {
	RoomCode    string
	LocalUserID string
	Role        Role
}
