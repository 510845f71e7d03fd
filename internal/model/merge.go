package model

// MergeConfig deep-merges custom onto default, producing the effective
// document, per §4.7's rules: scalars/maps in custom win; relays and tasks
// merge by id (matching ids deep-merge, new ids append, default-only ids
// are preserved); every other list is replaced wholesale when the custom
// document sets it.
//
// Because Config is a typed document (not a raw map), "merge recursively"
// for struct-valued sections means field-by-field zero-value detection:
// a zero section in custom leaves the default section untouched.
func MergeConfig(def, custom Config) Config {
	out := def.Clone()

	if custom.General != (General{}) {
		out.General = mergeGeneral(def.General, custom.General)
	}
	if custom.Network != (Network{}) {
		out.Network = custom.Network
	}
	if custom.DateTime != (DateTime{}) {
		out.DateTime = custom.DateTime
	}
	if custom.Email.SMTPHost != "" || len(custom.Email.Recipients) > 0 {
		out.Email = custom.Email
	}
	if custom.Relays != nil {
		out.Relays = mergeRelaysByID(def.Relays, custom.Relays)
	}
	if custom.Tasks != nil {
		out.Tasks = mergeTasksByID(def.Tasks, custom.Tasks)
	}
	if custom.Sensors != nil {
		out.Sensors = append([]SensorDescriptor(nil), custom.Sensors...)
	}
	return out
}

func mergeGeneral(def, custom General) General {
	out := def
	if custom.DeviceName != "" {
		out.DeviceName = custom.DeviceName
	}
	if custom.Location != "" {
		out.Location = custom.Location
	}
	if custom.SensorTick != 0 {
		out.SensorTick = custom.SensorTick
	}
	if custom.ScheduleTick != 0 {
		out.ScheduleTick = custom.ScheduleTick
	}
	if custom.HousekeepingTick != 0 {
		out.HousekeepingTick = custom.HousekeepingTick
	}
	if custom.UTCOffsetMinutes != 0 {
		out.UTCOffsetMinutes = custom.UTCOffsetMinutes
	}
	return out
}

func mergeRelaysByID(def, custom []Relay) []Relay {
	byID := make(map[string]int, len(def))
	out := make([]Relay, len(def))
	copy(out, def)
	for i, r := range out {
		byID[r.ID] = i
	}
	for _, c := range custom {
		if i, ok := byID[c.ID]; ok {
			out[i] = mergeRelay(out[i], c)
		} else {
			byID[c.ID] = len(out)
			out = append(out, c)
		}
	}
	return out
}

// mergeRelay deep-merges one custom relay entry onto its default
// counterpart, field by field, so `relays=[{id:"relay_2",pulse_time:9}]`
// leaves every other field of relay_2 (and every other relay) untouched.
func mergeRelay(def, custom Relay) Relay {
	out := def
	if custom.Name != "" {
		out.Name = custom.Name
	}
	if custom.GPIOLine != 0 {
		out.GPIOLine = custom.GPIOLine
	}
	if custom.Polarity != "" {
		out.Polarity = custom.Polarity
	}
	if custom.Enabled != nil {
		v := *custom.Enabled
		out.Enabled = &v
	}
	if custom.PulseTime != 0 {
		out.PulseTime = custom.PulseTime
	}
	if custom.Schedule != nil {
		s := *custom.Schedule
		out.Schedule = &s
	}
	if custom.Dashboard != nil {
		d := *custom.Dashboard
		out.Dashboard = &d
	}
	return out
}

func mergeTasksByID(def, custom []Task) []Task {
	byID := make(map[string]int, len(def))
	out := make([]Task, len(def))
	copy(out, def)
	for i, r := range out {
		byID[r.ID] = i
	}
	for _, c := range custom {
		if i, ok := byID[c.ID]; ok {
			out[i] = mergeTask(out[i], c)
		} else {
			byID[c.ID] = len(out)
			out = append(out, c)
		}
	}
	return out
}

// mergeTask deep-merges one custom task entry onto its default counterpart,
// field by field, the same way mergeRelay does for relays: a custom
// `tasks=[{id:"t1",threshold:5}]` leaves every other field of t1 untouched.
func mergeTask(def, custom Task) Task {
	out := def
	if custom.Name != "" {
		out.Name = custom.Name
	}
	if custom.SourceID != "" {
		out.SourceID = custom.SourceID
	}
	if custom.Field != "" {
		out.Field = custom.Field
	}
	if custom.Operator != "" {
		out.Operator = custom.Operator
	}
	if custom.Threshold != 0 {
		out.Threshold = custom.Threshold
	}
	if custom.Actions != nil {
		out.Actions = append([]Action(nil), custom.Actions...)
	}
	return out
}
