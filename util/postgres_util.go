package util

// maxIdentifierLength is NAMEDATALEN - 1.
const maxIdentifierLength = 63

// BuildPostgresConstraintName names an implicit constraint or index the way PostgreSQL
// does: table_column_suffix, where the longer of table and column is shortened one byte
// at a time until the name fits in 63 bytes. On a tie the column gives way.
func BuildPostgresConstraintName(tableName, columnName, suffix string) string {
	available := maxIdentifierLength - len(suffix) - 2
	tableLen, columnLen := len(tableName), len(columnName)
	for tableLen+columnLen > available {
		if tableLen > columnLen {
			tableLen--
		} else {
			columnLen--
		}
	}
	return tableName[:tableLen] + "_" + columnName[:columnLen] + "_" + suffix
}
