package ir

// Memory pools shared by the codec hot paths.

import (
	"strings"
	"sync"
)

var stringBuilderPool = sync.Pool{
	New: func() any {
		b := &strings.Builder{}
		b.Grow(512)
		return b
	},
}

func GetStringBuilder() *strings.Builder {
	return stringBuilderPool.Get().(*strings.Builder)
}

// PutStringBuilder returns a string builder to the pool after resetting it.
func PutStringBuilder(sb *strings.Builder) {
	sb.Reset()
	stringBuilderPool.Put(sb)
}

// EmptyObjectSchema is the minimal parameter schema for tools declared
// without parameters. Immutable, safe to share.
var EmptyObjectSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}
