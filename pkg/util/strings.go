// Package util holds small helpers shared by the front end packages.
package util

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/json"
)

// Map applies f to every element: (a -> b) -> [a] -> [b]
func Map[T, U any](f func(T) U, s []T) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}

// SortedKeys returns the keys of a map in increasing order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	ret := make([]K, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	slices.Sort(ret)
	return ret
}

// Stringify renders a value as compact JSON, falling back to Go syntax.
func Stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// Tuple renders integer fields as "name(a, b, ...)".
func Tuple(name string, args []int64) string {
	return name + "(" + strings.Join(Map(func(n int64) string { return fmt.Sprint(n) }, args), ", ") + ")"
}
