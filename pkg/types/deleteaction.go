package types

import "fmt"

// DeleteAction selects what happens to a reference field when the object
// it points to is deleted.
type DeleteAction int

const (
	// DeleteNothing leaves the reference dangling. Only permitted on
	// fields configured to allow deleted assignments.
	DeleteNothing DeleteAction = iota
	// DeleteException aborts the delete with a ReferencedObject error.
	DeleteException
	// DeleteUnreference clears the referring field, or removes the
	// containing collection entry for complex sub-fields.
	DeleteUnreference
	// DeleteDelete recursively deletes the referring object.
	DeleteDelete
)

// String implements the Stringer interface for DeleteAction.
func (a DeleteAction) String() string {
	switch a {
	case DeleteNothing:
		return "NOTHING"
	case DeleteException:
		return "EXCEPTION"
	case DeleteUnreference:
		return "UNREFERENCE"
	case DeleteDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("DeleteAction(%d)", int(a))
	}
}

// ParseDeleteAction parses the schema XML spelling of a delete action.
func ParseDeleteAction(s string) (DeleteAction, error) {
	switch s {
	case "NOTHING":
		return DeleteNothing, nil
	case "EXCEPTION":
		return DeleteException, nil
	case "UNREFERENCE":
		return DeleteUnreference, nil
	case "DELETE":
		return DeleteDelete, nil
	default:
		return 0, fmt.Errorf("unknown delete action %q", s)
	}
}
