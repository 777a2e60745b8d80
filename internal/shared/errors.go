package shared

import "errors"

// ErrImmutable indicates an attempt to edit a record that is frozen by a
// downstream reference, such as an invoice with recorded payments.
var ErrImmutable = errors.New("record is referenced downstream and cannot change")
