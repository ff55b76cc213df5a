package channel

import (
	"slices"

	"github.com/trustbridge/intergov/message"
)

// filterable are the message fields a Filter can rule on.
var filterable = []string{
	message.FieldSender, message.FieldReceiver,
	message.FieldSubject, message.FieldObj, message.FieldPredicate,
}

// Filter screens messages per field with whitelists, blacklists and
// allow-any switches. A field with neither allow-any nor a whitelist
// blocks everything; blacklists win over allow-any.
type Filter struct {
	allowAny  map[string]bool
	whitelist map[string][]string
	blacklist map[string][]string
}

// NewFilter returns a filter that blocks everything until configured.
func NewFilter() *Filter {
	f := &Filter{
		allowAny:  make(map[string]bool, len(filterable)),
		whitelist: make(map[string][]string, len(filterable)),
		blacklist: make(map[string][]string, len(filterable)),
	}
	for _, field := range filterable {
		f.allowAny[field] = false
	}
	return f
}

// AllowAny lets every value of field through, unless blacklisted.
func (f *Filter) AllowAny(field string) *Filter {
	if f.known(field) {
		f.allowAny[field] = true
	}
	return f
}

// Whitelist admits value for field. A whitelisted value is removed from
// the blacklist.
func (f *Filter) Whitelist(field, value string) *Filter {
	if !f.known(field) {
		return f
	}
	f.blacklist[field] = remove(f.blacklist[field], value)
	if !slices.Contains(f.whitelist[field], value) {
		f.whitelist[field] = append(f.whitelist[field], value)
	}
	return f
}

// Blacklist blocks value for field. A blacklisted value is removed from
// the whitelist.
func (f *Filter) Blacklist(field, value string) *Filter {
	if !f.known(field) {
		return f
	}
	f.whitelist[field] = remove(f.whitelist[field], value)
	if !slices.Contains(f.blacklist[field], value) {
		f.blacklist[field] = append(f.blacklist[field], value)
	}
	return f
}

// Screen reports whether msg shall not pass.
func (f *Filter) Screen(msg *message.Message) bool {
	values := msg.ToMap()
	for _, field := range filterable {
		if slices.Contains(f.blacklist[field], values[field]) {
			return true
		}
	}
	for _, field := range filterable {
		if f.allowAny[field] {
			continue
		}
		if !slices.Contains(f.whitelist[field], values[field]) {
			return true
		}
	}
	return false
}

func (f *Filter) known(field string) bool {
	return slices.Contains(filterable, field)
}

func remove(list []string, value string) []string {
	if i := slices.Index(list, value); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}
