package domain

// Policy captures how an entity kind treats superseded records.
type Policy struct {
	// Chained kinds link previous/next versions and close the ancestor's
	// effective_year_end when a new year record branches from it.
	Chained bool
	// ImmutableSuperseded kinds reject in-place edits once a later version exists.
	ImmutableSuperseded bool
}

var policies = map[EntityKind]Policy{
	KindLandAssessment: {},
	KindPropertyView:   {},
	KindBuildingConfig: {Chained: true, ImmutableSuperseded: true},
	KindLandRateConfig: {Chained: true, ImmutableSuperseded: true},
}

// PolicyFor returns the registered policy, or the zero policy for unknown kinds.
func PolicyFor(kind EntityKind) Policy {
	return policies[kind]
}
