package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// num extracts the first signed integer or decimal from s, reading decimal
// commas as dots. It returns nil when s holds no number.
func num(s string) *float64 {
	m := numberPattern.FindString(strings.ReplaceAll(s, ",", "."))
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

// percent is num rounded to the nearest integer.
func percent(s string) *float64 {
	v := num(s)
	if v == nil {
		return nil
	}
	r := math.Round(*v)
	return &r
}
