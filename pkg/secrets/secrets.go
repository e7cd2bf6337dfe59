package secrets

// Provider resolves a secret key to its plaintext value. It backs the
// `ansible_become_pass`/`ansible_ssh_pass`/vault-password-file style
// lookups the CLI wires from its `--vault-password-file`/secrets-provider
// flags; exactly which provider is active is a CLI concern (see
// cmd/fleetplay), not a runner or playbook concern.
type Provider interface {
	Get(key string) (string, error)
}
