package main

import "github.com/aksharshruti/platform/services/auth/internal/storage"

// testUsers cover the non-active account states exercised by the integration
// suites.
var testUsers = []seedUser{
	{Email: "suspended@example.com", Username: "suspended", DisplayName: "Suspended User", Password: "Suspended$1", Role: storage.RoleUser, Status: storage.StatusSuspended},
	{Email: "deleted@example.com", Username: "deleted", DisplayName: "Deleted User", Password: "Deleted$ecret1", Role: storage.RoleUser, Status: storage.StatusDeleted},
}
