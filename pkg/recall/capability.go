package recall

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for a subscription.
type InterestSet struct {
	Kinds      []EventKind
	Sources    []EventSource
	MediaTypes []MediaType
	// RequireMedia selects only message events that carry at least one attachment.
	RequireMedia bool
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if len(i.Sources) > 0 && !matchesAnySource(i.Sources, event.Source) {
		return false
	}
	if i.RequireMedia && (event.Message == nil || len(event.Message.Media) == 0) {
		return false
	}
	if len(i.MediaTypes) > 0 && !eventContainsMediaType(event, i.MediaTypes) {
		return false
	}

	return true
}

// Allows reports whether a requested subscription interest stays within this
// declared capability interest.
func (i InterestSet) Allows(requested InterestSet) bool {
	if len(i.Kinds) == 0 {
		return true
	}
	if len(requested.Kinds) == 0 {
		return false
	}
	for _, kind := range requested.Kinds {
		if !containsKind(i.Kinds, kind) {
			return false
		}
	}

	return true
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

// matchesAnySource treats empty fields of a filter entry as wildcards.
func matchesAnySource(filters []EventSource, source EventSource) bool {
	for _, filter := range filters {
		if filter.Platform != "" && filter.Platform != source.Platform {
			continue
		}
		if filter.ID != "" && filter.ID != source.ID {
			continue
		}
		return true
	}

	return false
}

func eventContainsMediaType(event *Event, types []MediaType) bool {
	if event.Message == nil {
		return false
	}
	for _, media := range event.Message.Media {
		for _, candidate := range types {
			if candidate == media.Type {
				return true
			}
		}
	}

	return false
}
