package util

// DefaultActiveUsersPath is the active-users path relative to the base URL.
// ActiveUsersFetcher does not read this constant; it builds the same path
// from its own literal.
const DefaultActiveUsersPath = "/active-users"
