package sandbox

import (
	"strconv"

	"github.com/dop251/goja"
)

const maxMarshalDepth = 32

// Marshal converts a script value into plain Go data. Functions become
// "[function]", cycles become "[circular reference]", settled promises
// unwrap to {type, value|reason}, and recursion stops at 32 levels.
func Marshal(v goja.Value) any {
	return marshal(v, 0, make(map[*goja.Object]bool))
}

func marshal(v goja.Value, depth int, seen map[*goja.Object]bool) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if depth >= maxMarshalDepth {
		return "[max depth exceeded]"
	}

	obj, isObject := v.(*goja.Object)
	if !isObject {
		return v.Export()
	}

	if promise, ok := obj.Export().(*goja.Promise); ok {
		return marshalPromise(promise, depth, seen)
	}

	if seen[obj] {
		return "[circular reference]"
	}
	seen[obj] = true
	defer delete(seen, obj)

	switch obj.ClassName() {
	case "Array":
		length := int(obj.Get("length").ToInteger())
		items := make([]any, 0, length)
		for i := 0; i < length; i++ {
			items = append(items, marshal(obj.Get(strconv.Itoa(i)), depth+1, seen))
		}
		return items
	case "Function":
		return "[function]"
	case "Date", "String", "Number", "Boolean":
		return obj.Export()
	default:
		keys := obj.Keys()
		out := make(map[string]any, len(keys))
		for _, key := range keys {
			out[key] = marshal(obj.Get(key), depth+1, seen)
		}
		return out
	}
}

func marshalPromise(p *goja.Promise, depth int, seen map[*goja.Object]bool) any {
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return map[string]any{
			"type":  "fulfilled",
			"value": marshal(p.Result(), depth+1, seen),
		}
	case goja.PromiseStateRejected:
		return map[string]any{
			"type":   "rejected",
			"reason": rejectionMessage(p.Result()),
		}
	default:
		// Pending after the run loop drained means it can never settle.
		return map[string]any{"type": "pending"}
	}
}

// rejectionMessage extracts a readable message from a rejection reason.
// Error objects keep message non-enumerable, so it is read directly
// rather than through key iteration.
func rejectionMessage(reason goja.Value) string {
	if reason == nil || goja.IsUndefined(reason) || goja.IsNull(reason) {
		return "promise rejected"
	}
	if obj, ok := reason.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) {
			return msg.String()
		}
	}
	return reason.String()
}
