package model

// LegacyAccountKey is the reserved state key for state written before the
// connector tracked accounts separately.
const LegacyAccountKey = "unknown_account"

// Account identifies the owner of a cursor. It is either a configured account id
// or the legacy pseudo-account that holds un-scoped state from older documents.
type Account struct {
	id     string
	legacy bool
}

// Known returns the account with the given platform id.
func Known(id string) Account {
	return Account{id: id}
}

// LegacyUnscoped returns the pseudo-account holding state written before
// accounts were tracked separately.
func LegacyUnscoped() Account {
	return Account{legacy: true}
}

// AccountFromKey is the inverse of Key.
func AccountFromKey(key string) Account {
	if key == LegacyAccountKey {
		return LegacyUnscoped()
	}
	return Known(key)
}

// IsLegacy reports whether a is the legacy pseudo-account.
func (a Account) IsLegacy() bool { return a.legacy }

// ID returns the platform account id, or "" for the legacy pseudo-account.
func (a Account) ID() string { return a.id }

// Key returns the state-document key for the account.
func (a Account) Key() string {
	if a.legacy {
		return LegacyAccountKey
	}
	return a.id
}

func (a Account) String() string { return a.Key() }
