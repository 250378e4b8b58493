package mysql

import (
	"fmt"
	"strings"
)

// maxIdentifierLen is the MySQL limit for an unquoted identifier part.
const maxIdentifierLen = 64

// sanitizeTableName validates a table name before it is interpolated into
// query text. Outbox, semaphore and saga tables all go through this; names
// may be schema-qualified with a single dot.
func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}

	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}
	for _, part := range parts {
		if err := validIdentifier(part); err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

func validIdentifier(part string) error {
	if part == "" || len(part) > maxIdentifierLen {
		return ErrInvalidTableName
	}
	for _, r := range part {
		switch {
		case r == '_':
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return ErrInvalidTableName
		}
	}

	return nil
}
