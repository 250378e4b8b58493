package mysql

import "fmt"

const outboxSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id CHAR(36) NOT NULL,
	message_type VARCHAR(128) NOT NULL,
	endpoint VARCHAR(128) NULL,
	status SMALLINT NOT NULL DEFAULT 1,
	try_count INT NOT NULL DEFAULT 0,
	priority_at TIMESTAMP(6) NOT NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	expires_at TIMESTAMP(6) NULL,
	payload LONGBLOB NOT NULL,
	metadata JSON NULL,
	last_error VARCHAR(1024) NULL,
	PRIMARY KEY (id),
	INDEX idx_status_priority (status, priority_at)
);`

const semaphoreSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(128) NOT NULL,
	owner_id VARCHAR(128) NOT NULL,
	expires_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (name, owner_id),
	INDEX idx_name_expires (name, expires_at)
);`

const sagaSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	saga_type VARCHAR(128) NOT NULL,
	correlation_id VARCHAR(128) NOT NULL,
	current_state VARCHAR(128) NOT NULL DEFAULT '',
	data LONGBLOB NULL,
	token BIGINT NOT NULL,
	created_at TIMESTAMP(6) NOT NULL,
	updated_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (saga_type, correlation_id)
);`

// Schema returns the outbox table DDL. Payload bytes and metadata are
// co-located with the message row; selective column lists keep them
// separable for cheap scans.
func Schema(table string) (string, error) {
	table, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(outboxSchemaTemplate, table), nil
}

// SemaphoreSchema returns the semaphore lease table DDL.
func SemaphoreSchema(table string) (string, error) {
	table, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(semaphoreSchemaTemplate, table), nil
}

// SagaSchema returns the saga state table DDL.
func SagaSchema(table string) (string, error) {
	table, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(sagaSchemaTemplate, table), nil
}
