// Package to_ir normalizes vendor wire formats into the canonical model.
// Each vendor file pairs a request/response parser with a stateful stream
// decoder and registers itself through the translator registry from init().
package to_ir

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	log "github.com/llmbridge-dev/llmbridge/internal/logging"
	"github.com/llmbridge-dev/llmbridge/sdk/translator/ir"
)

// parseObject validates that payload is a JSON object and parses it.
func parseObject(format ir.Format, payload []byte) (gjson.Result, error) {
	if len(payload) == 0 {
		return gjson.Result{}, ir.NewInvalidFormat(format, "", "empty payload")
	}
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, ir.NewInvalidFormat(format, "", "payload is not valid JSON")
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return gjson.Result{}, ir.NewInvalidFormat(format, "", "payload must be a JSON object")
	}
	return root, nil
}

// asSchemaMap extracts a JSON object result as a schema map.
func asSchemaMap(v gjson.Result) map[string]any {
	if !v.IsObject() {
		return nil
	}
	if m, ok := v.Value().(map[string]any); ok {
		return m
	}
	return nil
}

// floatPtr, intPtr lift optional gjson numbers into canonical pointers.
// An explicit JSON null means unset, not zero.
func floatPtr(v gjson.Result) *float64 {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	f := v.Float()
	return &f
}

func intPtr(v gjson.Result) *int {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	n := int(v.Int())
	return &n
}

// toolArgAccum assembles one streamed tool call whose argument text may
// arrive fragmented across frames. Accumulation is capped; fragments past
// the cap are dropped with a warning rather than growing without bound.
type toolArgAccum struct {
	id       string
	name     string
	args     strings.Builder
	limit    int
	overflow bool
}

func newToolArgAccum(limit int) *toolArgAccum {
	return &toolArgAccum{limit: limit}
}

func (a *toolArgAccum) write(fragment string) {
	if a.overflow || fragment == "" {
		return
	}
	if room := a.limit - a.args.Len(); len(fragment) > room {
		a.overflow = true
		log.WithFields(log.Fields{"field": "tool_calls", "name": a.name}).
			Warn("streamed tool call arguments exceeded buffer cap, truncating")
		if room > 0 {
			a.args.WriteString(fragment[:room])
		}
		return
	}
	a.args.WriteString(fragment)
}

// toolCall finalizes the accumulated call. Arguments always come out as
// valid JSON; vendors that never sent an id get a generated one.
func (a *toolArgAccum) toolCall() ir.ToolCall {
	id := a.id
	if id == "" {
		id = ir.GenToolCallID()
	}
	return ir.ToolCall{
		ID:        id,
		Type:      "function",
		Name:      a.name,
		Arguments: ir.RepairToolArgs(a.args.String()),
	}
}

// drainAccums empties an accumulator map in slot order.
func drainAccums(byIdx map[int]*toolArgAccum) []ir.ToolCall {
	if len(byIdx) == 0 {
		return nil
	}
	slots := make([]int, 0, len(byIdx))
	for i := range byIdx {
		slots = append(slots, i)
	}
	sort.Ints(slots)
	out := make([]ir.ToolCall, 0, len(slots))
	for _, i := range slots {
		out = append(out, byIdx[i].toolCall())
		delete(byIdx, i)
	}
	return out
}
