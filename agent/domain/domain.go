package domain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

type SlotType string

const (
	SlotText        SlotType = "text"
	SlotBool        SlotType = "bool"
	SlotFloat       SlotType = "float"
	SlotList        SlotType = "list"
	SlotCategorical SlotType = "categorical"
	SlotAny         SlotType = "any"
)

type Slot struct {
	Type SlotType `yaml:"type"`
}

const (
	DefaultNLUThreshold = 0.3
	DefaultMaxEvents    = 300
)

type PolicySettings struct {
	ContextPriority  int `yaml:"context_priority"`
	MappingPriority  int `yaml:"mapping_priority"`
	FallbackPriority int `yaml:"fallback_priority"`
	// NLUThreshold is a pointer so an explicit 0 disables the fallback.
	NLUThreshold      *float64 `yaml:"nlu_threshold"`
	FallbackAction    string   `yaml:"fallback_action"`
	MaxActionsPerTurn int      `yaml:"max_actions_per_turn"`
	// MaxEvents caps the stored event history; negative keeps all of it.
	MaxEvents int `yaml:"max_events"`
}

// Threshold returns the effective NLU confidence threshold.
func (p PolicySettings) Threshold() float64 {
	if p.NLUThreshold == nil {
		return DefaultNLUThreshold
	}
	return *p.NLUThreshold
}

// Domain is the static description of what the assistant can do.
type Domain struct {
	Intents    []string          `yaml:"intents"`
	Slots      map[string]Slot   `yaml:"slots"`
	Actions    []string          `yaml:"actions"`
	Components map[string]string `yaml:"components"` // action name -> marketplace component id
	Mappings   map[string]string `yaml:"mappings"`   // intent -> action name
	Responses  map[string]string `yaml:"responses"`  // utter_* action -> text
	Policies   PolicySettings    `yaml:"policies"`

	actionIndex map[string]int
}

var _ contractx.Domain = (*Domain)(nil)

func Load(path string) (*Domain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Domain, error) {
	var d Domain
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrDomainInvalid, err)
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Domain) init() error {
	d.applyDefaults()

	// component and response actions are actions too, even when not listed
	names := make([]string, 0, len(d.Actions)+len(d.Components)+len(d.Responses)+2)
	names = append(names, contractx.ActionListen)
	names = append(names, d.Actions...)
	names = append(names, sortedKeys(d.Components)...)
	names = append(names, sortedKeys(d.Responses)...)
	if d.Policies.FallbackAction != "" {
		names = append(names, d.Policies.FallbackAction)
	}

	d.actionIndex = make(map[string]int, len(names))
	d.Actions = d.Actions[:0]
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := d.actionIndex[name]; ok {
			continue
		}
		d.actionIndex[name] = len(d.actionIndex)
		if name != contractx.ActionListen {
			d.Actions = append(d.Actions, name)
		}
	}

	return d.Validate()
}

func (d *Domain) applyDefaults() {
	if d.Slots == nil {
		d.Slots = map[string]Slot{}
	}
	if d.Policies.ContextPriority == 0 {
		d.Policies.ContextPriority = 6
	}
	if d.Policies.MappingPriority == 0 {
		d.Policies.MappingPriority = 2
	}
	if d.Policies.FallbackPriority == 0 {
		d.Policies.FallbackPriority = 4
	}
	if d.Policies.NLUThreshold == nil {
		threshold := DefaultNLUThreshold
		d.Policies.NLUThreshold = &threshold
	}
	if d.Policies.MaxActionsPerTurn <= 0 {
		d.Policies.MaxActionsPerTurn = 10
	}
	if d.Policies.MaxEvents == 0 {
		d.Policies.MaxEvents = DefaultMaxEvents
	}
}

func (d *Domain) Validate() error {
	for action, componentID := range d.Components {
		if strings.TrimSpace(componentID) == "" {
			return fmt.Errorf("%w: component id for action %q is empty", contractx.ErrDomainInvalid, action)
		}
	}
	for intent, action := range d.Mappings {
		if !d.HasAction(action) {
			return fmt.Errorf("%w: intent %q maps to unknown action %q", contractx.ErrDomainInvalid, intent, action)
		}
	}
	for name, slot := range d.Slots {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: slot with empty name", contractx.ErrDomainInvalid)
		}
		switch slot.Type {
		case "", SlotText, SlotBool, SlotFloat, SlotList, SlotCategorical, SlotAny:
		default:
			return fmt.Errorf("%w: slot %q has unknown type %q", contractx.ErrDomainInvalid, name, slot.Type)
		}
	}
	if t := d.Policies.Threshold(); t < 0 || t > 1 {
		return fmt.Errorf("%w: nlu_threshold must be within [0,1]", contractx.ErrDomainInvalid)
	}
	return nil
}

func (d *Domain) HasAction(name string) bool {
	_, ok := d.IndexForAction(name)
	return ok
}

func (d *Domain) IndexForAction(name string) (int, bool) {
	if d == nil || d.actionIndex == nil {
		return 0, false
	}
	idx, ok := d.actionIndex[name]
	return idx, ok
}

func (d *Domain) NumActions() int {
	return len(d.actionIndex)
}

// DeclaredSlots returns every slot name in sorted order.
func (d *Domain) DeclaredSlots() []string {
	return sortedKeys(d.Slots)
}

// ContextSlots returns the slots eligible for component context transfer:
// those declared with a dotted name such as user.firstName.
func (d *Domain) ContextSlots() []string {
	out := make([]string, 0, len(d.Slots))
	for _, name := range d.DeclaredSlots() {
		if IsContextSlot(name) {
			out = append(out, name)
		}
	}
	return out
}

func IsContextSlot(name string) bool {
	i := strings.IndexByte(name, '.')
	return i > 0 && i < len(name)-1
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
