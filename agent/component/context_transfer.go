package component

import (
	"reflect"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
	domainx "github.com/tanpawarit/chative-coco/agent/domain"
)

// CollectContext copies every declared context slot that holds a value into
// a fresh payload. Slots that are unset, nil or empty are not sent.
func CollectContext(conv contractx.Conversation, declared []string) map[string]any {
	payload := make(map[string]any, len(declared))
	for _, name := range declared {
		if !domainx.IsContextSlot(name) {
			continue
		}
		v, ok := conv.Slot(name)
		if !ok || isEmptyValue(v) {
			continue
		}
		payload[name] = v
	}
	return payload
}

// ContextUpdates turns a component's returned context into slot events.
// Only keys naming a declared context slot are kept; the remote value wins.
func ContextUpdates(returned map[string]any, declared []string) []contractx.Event {
	if len(returned) == 0 {
		return nil
	}

	events := make([]contractx.Event, 0, len(returned))
	for _, name := range declared {
		if !domainx.IsContextSlot(name) {
			continue
		}
		v, ok := returned[name]
		if !ok {
			continue
		}
		events = append(events, contractx.SlotSet{Name: name, Value: v})
	}
	return events
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
