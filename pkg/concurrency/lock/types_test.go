package lock

import "testing"

func allTypes() []LockType {
	return []LockType{NL, IS, IX, S, SIX, X}
}

func TestCompatibilitySymmetric(t *testing.T) {
	for _, a := range allTypes() {
		for _, b := range allTypes() {
			if Compatible(a, b) != Compatible(b, a) {
				t.Errorf("Compatible(%v,%v)=%v but Compatible(%v,%v)=%v", a, b, Compatible(a, b), b, a, Compatible(b, a))
			}
		}
	}
}

func TestNLCompatibleWithAll(t *testing.T) {
	for _, a := range allTypes() {
		if !Compatible(NL, a) {
			t.Errorf("NL should be compatible with %v", a)
		}
	}
}

func TestXOnlyCompatibleWithNL(t *testing.T) {
	for _, a := range allTypes() {
		want := a == NL
		if Compatible(X, a) != want {
			t.Errorf("Compatible(X,%v)=%v, want %v", a, Compatible(X, a), want)
		}
	}
}

func TestSubstitutableReflexive(t *testing.T) {
	for _, a := range allTypes() {
		if !Substitutable(a, a) {
			t.Errorf("Substitutable(%v,%v) should be true", a, a)
		}
	}
}

func TestSubstitutableX(t *testing.T) {
	for _, a := range allTypes() {
		if a == NL {
			continue
		}
		if !Substitutable(X, a) {
			t.Errorf("Substitutable(X,%v) should be true", a)
		}
	}
}

func TestSubstitutableSIX(t *testing.T) {
	for _, a := range []LockType{IS, IX, S} {
		if !Substitutable(SIX, a) {
			t.Errorf("Substitutable(SIX,%v) should be true", a)
		}
	}
}

func TestNeverSubstitutableForNLExceptReflexive(t *testing.T) {
	for _, a := range allTypes() {
		if a == NL {
			continue
		}
		if Substitutable(a, NL) {
			t.Errorf("Substitutable(%v,NL) should be false", a)
		}
	}
	for _, a := range allTypes() {
		if a == NL {
			continue
		}
		if Substitutable(NL, a) {
			t.Errorf("Substitutable(NL,%v) should be false", a)
		}
	}
}

func TestParentPermitsChildMatchesTable(t *testing.T) {
	cases := []struct {
		parent, child LockType
		want          bool
	}{
		{IS, S, true},
		{IX, S, true},
		{IX, X, true},
		{S, S, true},
		{S, IX, false},
		{SIX, X, true},
		{X, IS, false},
		{NL, S, false},
		{NL, NL, true},
	}
	for _, c := range cases {
		if got := ParentPermitsChild(c.parent, c.child); got != c.want {
			t.Errorf("ParentPermitsChild(%v,%v)=%v, want %v", c.parent, c.child, got, c.want)
		}
	}
}
