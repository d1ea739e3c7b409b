package duckdb

import (
	"strings"
)

// ErrorClass buckets DuckDB errors by the category prefix of their message.
type ErrorClass int

const (
	ClassOther ErrorClass = iota
	ClassParser
	ClassCatalog
	ClassIO
	ClassSchema
)

var classPrefixes = []struct {
	prefix string
	class  ErrorClass
}{
	{"Parser Error", ClassParser},
	{"Syntax Error", ClassParser},
	{"Catalog Error", ClassCatalog},
	{"IO Error", ClassIO},
	{"HTTP Error", ClassIO},
	{"Permission Error", ClassIO},
	{"Conversion Error", ClassSchema},
	{"Not implemented Error", ClassSchema},
	{"Invalid Input Error", ClassSchema},
	{"Mismatch Type Error", ClassSchema},
}

func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	msg := err.Error()
	for _, candidate := range classPrefixes {
		if strings.Contains(msg, candidate.prefix) {
			return candidate.class
		}
	}
	return ClassOther
}
