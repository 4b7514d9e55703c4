package postgres

import (
	"fmt"
	"strings"
)

// placeholder returns a numbered placeholder for PostgreSQL ($1, $2, ...)
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n consecutive placeholders starting at $1
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// placeholdersFrom returns n consecutive placeholders starting at $start
func placeholdersFrom(start, n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(start+i))
	}
	return strings.Join(list, ", ")
}
