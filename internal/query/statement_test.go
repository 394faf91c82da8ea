package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAdminStatement(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"install httpfs", true},
		{"  INSTALL httpfs;", true},
		{"Load spatial", true},
		{"CALL pragma_version()", true},
		{"call\tdbgen(sf=1)", true},
		{"select 1", false},
		{"loaded_table", false},
		{"callback()", false},
		{"installations", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAdminStatement(tt.sql))
		})
	}
}

func TestDescribeSQL(t *testing.T) {
	assert.Equal(t, "DESCRIBE (\nselect 1\n)", DescribeSQL("select 1"))
	assert.Equal(t, "DESCRIBE (\nselect 1\n)", DescribeSQL("  select 1 ;; \n"))
	assert.Equal(t, "DESCRIBE (\nselect ';' as s\n)", DescribeSQL("select ';' as s;"))
	assert.Equal(t, "DESCRIBE (\nselect 1 -- note\n)", DescribeSQL("select 1 -- note"))
}

func TestPageSQL(t *testing.T) {
	assert.Equal(t, "SELECT * FROM (\nselect 1\n) LIMIT 100 OFFSET 0", PageSQL("select 1;", 100, 0))
	assert.Equal(t, "SELECT * FROM (\nfrom t\n) LIMIT 5 OFFSET 10", PageSQL("from t", 5, 10))
}
