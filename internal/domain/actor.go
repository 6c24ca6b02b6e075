package domain

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Admin  bool
}

// CanAccess reports whether the actor may read or act on a record owned by ownerID.
func (a Actor) CanAccess(ownerID string) bool {
	return a.Admin || (a.UserID != "" && a.UserID == ownerID)
}

// Owner is the user id ownership checks should enforce. Administrators act
// on behalf of the owner, so no check applies to them.
func (a Actor) Owner() string {
	if a.Admin {
		return ""
	}
	return a.UserID
}
