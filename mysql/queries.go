package mysql

import "fmt"

type queries struct {
	insert            string
	selectDue         string
	completeTransient string
	failOne           string
	deadOne           string
	countPending      string
	sagaSelect        string
	sagaInsert        string
	sagaUpdate        string
}

func newQueries(table, sagaTable string) queries {
	cols := "id, message_type, endpoint, status, try_count, priority_at, created_at, expires_at, payload, metadata"
	insert := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		table,
		cols,
	)
	selectDue := fmt.Sprintf(
		"SELECT %s FROM %s WHERE status IN (?, ?) AND priority_at <= ? ORDER BY priority_at ASC LIMIT ? FOR UPDATE SKIP LOCKED",
		cols,
		table,
	)
	completeTransient := fmt.Sprintf(
		"UPDATE %s SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)",
		table,
	)
	failOne := fmt.Sprintf(
		"UPDATE %s SET try_count = try_count + 1, priority_at = ?, last_error = ?, updated_at = ? WHERE id = ?",
		table,
	)
	deadOne := fmt.Sprintf(
		"UPDATE %s SET status = ?, last_error = ?, updated_at = ? WHERE id = ?",
		table,
	)
	countPending := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE status IN (?, ?)",
		table,
	)
	sagaSelect := fmt.Sprintf(
		"SELECT current_state, data, token, created_at, updated_at FROM %s WHERE saga_type = ? AND correlation_id = ? FOR UPDATE",
		sagaTable,
	)
	sagaInsert := fmt.Sprintf(
		"INSERT INTO %s (saga_type, correlation_id, current_state, data, token, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sagaTable,
	)
	sagaUpdate := fmt.Sprintf(
		"UPDATE %s SET current_state = ?, data = ?, token = token + 1, updated_at = ? WHERE saga_type = ? AND correlation_id = ? AND token = ?",
		sagaTable,
	)

	return queries{
		insert:            insert,
		selectDue:         selectDue,
		completeTransient: completeTransient,
		failOne:           failOne,
		deadOne:           deadOne,
		countPending:      countPending,
		sagaSelect:        sagaSelect,
		sagaInsert:        sagaInsert,
		sagaUpdate:        sagaUpdate,
	}
}

func buildCompleteQuery(table string, count int) string {
	return fmt.Sprintf(
		"UPDATE %s SET status = ?, updated_at = ? WHERE id IN (%s)",
		table,
		makePlaceholders(count),
	)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}
