package provision

import (
	"context"
	"sync"

	"hotspot-portal/status"
)

// MemProvisioner is the development-mode provisioner: credentials live
// in memory only. Tests also use it, with optional injected failures.
type MemProvisioner struct {
	mu    sync.Mutex
	creds map[string]Credential

	// FailNext makes the next n ProvisionCredential calls fail.
	FailNext int
}

func NewMemProvisioner() *MemProvisioner {
	return &MemProvisioner{creds: make(map[string]Credential)}
}

func (p *MemProvisioner) ProvisionCredential(_ context.Context, cred Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNext > 0 {
		p.FailNext--
		return status.ErrProvisioningFailed
	}

	p.creds[cred.Username] = cred
	return nil
}

func (p *MemProvisioner) ListActiveCredentials(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.creds))
	for username := range p.creds {
		out = append(out, username)
	}
	return out, nil
}

func (p *MemProvisioner) RevokeCredential(_ context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.creds[username]; !ok {
		return status.ErrProvisioningFailed
	}
	delete(p.creds, username)
	return nil
}
