// Package provision defines the device-provisioner capability: the
// system (a hotspot router) that actually grants network access for a
// sold credential. The concrete router client lives outside this repo;
// everything here talks to the contract only.
package provision

import "context"

// Credential is one hotspot user to activate on the router.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Profile  string `json:"profile"`

	// Comment carries the purchase reference so a router-side entry can
	// be traced back to its sale.
	Comment string `json:"comment,omitempty"`
}

// Provisioner is the abstract device-provisioning capability.
type Provisioner interface {
	ProvisionCredential(ctx context.Context, cred Credential) error

	// ListActiveCredentials returns the usernames the provisioner
	// currently considers active. The sweeper diffs this against the
	// store's sold tickets.
	ListActiveCredentials(ctx context.Context) ([]string, error)

	RevokeCredential(ctx context.Context, username string) error
}
