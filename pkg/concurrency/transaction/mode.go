package transaction

// Mode is a lock granularity/strength level. Defined here rather than in
// the lock package so Transaction's lock-set accessors can use it without
// an import cycle (the lock manager depends on transaction, not the other
// way around).
type Mode int

const (
	ModeShared Mode = iota
	ModeExclusive
	ModeIntentionShared
	ModeIntentionExclusive
	ModeSharedIntentionExclusive
)

func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "SHARED"
	case ModeExclusive:
		return "EXCLUSIVE"
	case ModeIntentionShared:
		return "INTENTION_SHARED"
	case ModeIntentionExclusive:
		return "INTENTION_EXCLUSIVE"
	case ModeSharedIntentionExclusive:
		return "SHARED_INTENTION_EXCLUSIVE"
	default:
		return "UNKNOWN_MODE"
	}
}

// allModes enumerates every table-granularity lock mode, used when
// scanning a transaction's lock sets for the mode it holds on a resource.
var allModes = []Mode{
	ModeShared,
	ModeExclusive,
	ModeIntentionShared,
	ModeIntentionExclusive,
	ModeSharedIntentionExclusive,
}

// Compatible reports whether a and b may be held concurrently by different
// transactions on the same resource (spec.md §4.5 compatibility matrix).
func Compatible(a, b Mode) bool {
	return compatibility[a][b]
}

var compatibility = [5][5]bool{
	// IS     IX     S      SIX    X
	/*IS */ {true, true, true, true, false},
	/*IX */ {true, true, false, false, false},
	/*S  */ {true, false, true, false, false},
	/*SIX*/ {true, false, false, false, false},
	/*X  */ {false, false, false, false, false},
}

func init() {
	// Reindex the literal table above (written in IS,IX,S,SIX,X reading
	// order) into the ModeShared-first iota ordering used everywhere else.
	order := []Mode{ModeIntentionShared, ModeIntentionExclusive, ModeShared, ModeSharedIntentionExclusive, ModeExclusive}
	var reindexed [5][5]bool
	for i, mi := range order {
		for j, mj := range order {
			reindexed[mi][mj] = compatibility[i][j]
		}
	}
	compatibility = reindexed
}

// CanUpgrade reports whether from may be strictly strengthened to to, per
// the upgrade lattice in spec.md §4.5: IS->{S,X,IX,SIX}, S->{X,SIX},
// IX->{X,SIX}, SIX->{X}, and nothing upgrades from X.
func CanUpgrade(from, to Mode) bool {
	if from == to {
		return false
	}
	allowed, ok := upgradeLattice[from]
	if !ok {
		return false
	}
	for _, m := range allowed {
		if m == to {
			return true
		}
	}
	return false
}

var upgradeLattice = map[Mode][]Mode{
	ModeIntentionShared:          {ModeShared, ModeExclusive, ModeIntentionExclusive, ModeSharedIntentionExclusive},
	ModeShared:                   {ModeExclusive, ModeSharedIntentionExclusive},
	ModeIntentionExclusive:       {ModeExclusive, ModeSharedIntentionExclusive},
	ModeSharedIntentionExclusive: {ModeExclusive},
	ModeExclusive:                {},
}
