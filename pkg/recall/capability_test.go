package recall

import "testing"

func TestInterestSetMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interest InterestSet
		event    *Event
		want     bool
	}{
		{
			name:     "nil event never matches",
			interest: InterestSet{},
			event:    nil,
			want:     false,
		},
		{
			name:     "kind filter matches",
			interest: InterestSet{Kinds: []EventKind{EventKindMessageRetracted}},
			event:    &Event{Kind: EventKindMessageRetracted},
			want:     true,
		},
		{
			name:     "kind filter rejects other kinds",
			interest: InterestSet{Kinds: []EventKind{EventKindMessageRetracted}},
			event:    &Event{Kind: EventKindMessageCreated},
			want:     false,
		},
		{
			name: "source filter matches platform wildcard",
			interest: InterestSet{
				Sources: []EventSource{{Platform: PlatformWhatsApp}},
			},
			event: &Event{
				Kind:   EventKindMessageCreated,
				Source: EventSource{Platform: PlatformWhatsApp, ID: "wa-main"},
			},
			want: true,
		},
		{
			name: "source filter rejects id mismatch",
			interest: InterestSet{
				Sources: []EventSource{{Platform: PlatformWhatsApp, ID: "wa-main"}},
			},
			event: &Event{
				Kind:   EventKindMessageCreated,
				Source: EventSource{Platform: PlatformWhatsApp, ID: "wa-alt"},
			},
			want: false,
		},
		{
			name:     "require media rejects text message",
			interest: InterestSet{RequireMedia: true},
			event: &Event{
				Kind:    EventKindMessageCreated,
				Message: &Message{ID: "m1", Text: "hi"},
			},
			want: false,
		},
		{
			name:     "media type filter matches any attachment",
			interest: InterestSet{MediaTypes: []MediaType{MediaTypeVideo}},
			event: &Event{
				Kind: EventKindMessageCreated,
				Message: &Message{
					ID:    "m1",
					Media: []MediaAttachment{{Type: MediaTypeImage}, {Type: MediaTypeVideo}},
				},
			},
			want: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.interest.Matches(testCase.event); got != testCase.want {
				t.Fatalf("Matches() = %v, want %v", got, testCase.want)
			}
		})
	}
}
