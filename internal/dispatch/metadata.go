package dispatch

// Meta carries state that lives for exactly one firing of an event. Every
// callback invoked during the firing sees the same instance, so handlers can
// pass values forward without touching plugin or shared storage.
//
// A Meta is owned by the firing that created it and is not safe for use from
// goroutines that outlive the firing.
type Meta struct {
	event   string
	returns map[string]any
	slots   map[string]map[string]any
}

// NewMeta creates the metadata record for a single firing of event.
func NewMeta(event string) *Meta {
	return &Meta{
		event:   event,
		returns: make(map[string]any),
		slots:   make(map[string]map[string]any),
	}
}

// Event returns the event name this firing was triggered under.
func (m *Meta) Event() string {
	if m == nil {
		return ""
	}
	return m.event
}

// RecordReturn stores the value a plugin's callback returned during this
// firing. Later callbacks can read it through MetaView.ReturnValue. A nil
// value is not recorded.
func (m *Meta) RecordReturn(pluginName string, value any) {
	if m == nil || value == nil {
		return
	}
	m.returns[pluginName] = value
}

// ReturnValue reports the value recorded for the named plugin, if any.
func (m *Meta) ReturnValue(pluginName string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.returns[pluginName]
	return v, ok
}

// Returns copies the full plugin name to return value mapping.
func (m *Meta) Returns() map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m.returns))
	for k, v := range m.returns {
		out[k] = v
	}
	return out
}

// ForPlugin returns the view a single plugin's callbacks receive. The view
// scopes writes to a private slot keyed by the plugin's name while keeping
// recorded return values of all plugins readable.
func (m *Meta) ForPlugin(pluginName string) *MetaView {
	if m == nil {
		return nil
	}
	return &MetaView{meta: m, plugin: pluginName}
}

func (m *Meta) slot(pluginName string) map[string]any {
	s, ok := m.slots[pluginName]
	if !ok {
		s = make(map[string]any)
		m.slots[pluginName] = s
	}
	return s
}

// MetaView is the per-plugin window onto a firing's metadata. It is the value
// injected into handlers that declare a trailing *MetaView parameter.
type MetaView struct {
	meta   *Meta
	plugin string
}

// Plugin returns the name of the plugin this view belongs to.
func (v *MetaView) Plugin() string {
	if v == nil {
		return ""
	}
	return v.plugin
}

// Event returns the event name of the current firing.
func (v *MetaView) Event() string {
	if v == nil {
		return ""
	}
	return v.meta.Event()
}

// Set stores a value in the plugin's private slot for this firing.
func (v *MetaView) Set(key string, value any) {
	if v == nil {
		return
	}
	v.meta.slot(v.plugin)[key] = value
}

// Get reads a value from the plugin's private slot.
func (v *MetaView) Get(key string) (any, bool) {
	if v == nil {
		return nil, false
	}
	s, ok := v.meta.slots[v.plugin]
	if !ok {
		return nil, false
	}
	val, ok := s[key]
	return val, ok
}

// ReturnValue reads the value another plugin's callback returned earlier in
// this firing. Reads are not limited to the view's own plugin.
func (v *MetaView) ReturnValue(pluginName string) (any, bool) {
	if v == nil {
		return nil, false
	}
	return v.meta.ReturnValue(pluginName)
}

// Returns copies every return value recorded so far in this firing.
func (v *MetaView) Returns() map[string]any {
	if v == nil {
		return nil
	}
	return v.meta.Returns()
}
