package bus

import "fmt"

var errMissingOrigin = fmt.Errorf("bus: message missing origin")

func errInvalidOp(op Op) error {
	return fmt.Errorf("bus: invalid op %q", op)
}

func errMissingField(op Op) error {
	return fmt.Errorf("bus: %s payload missing a required field", op)
}
