package secrets

import (
	"context"
	"fmt"
	"path"

	vault "github.com/hashicorp/vault/api"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// VaultStore reads repository signing keys from a KV v2 mount, logging in
// with AppRole before every lookup.
type VaultStore struct {
	client   *vault.Client
	roleID   string
	secretID string
	mount    string
	log      *logger.Logger
}

func NewVaultStore(cfg config.VaultConfig, log *logger.Logger) (*VaultStore, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	client.ClearToken()

	return &VaultStore{
		client:   client,
		roleID:   cfg.RoleID,
		secretID: cfg.SecretID,
		mount:    cfg.MountPath,
		log:      log,
	}, nil
}

// KeyPaths lists the secret paths tried for a request, in order.
func KeyPaths(mount string, req domain.CreationRequest) []string {
	personal := path.Join(mount, "data", req.SubjectID, "cvmfs_keys", req.Repository)
	group := path.Join(mount, "data", "groups", domain.ShortName(req.Repository), "cvmfs_keys", req.Repository)

	switch req.Scope {
	case domain.KeyScopePersonal:
		return []string{personal}
	case domain.KeyScopeGroup:
		return []string{group}
	default:
		return []string{personal, group}
	}
}

func (s *VaultStore) login(ctx context.Context) error {
	secret, err := s.client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
		"role_id":   s.roleID,
		"secret_id": s.secretID,
	})
	if err != nil {
		return fmt.Errorf("vault approle login: %w", err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return fmt.Errorf("vault approle login returned no token")
	}
	s.client.SetToken(secret.Auth.ClientToken)
	return nil
}

func (s *VaultStore) FetchKeys(ctx context.Context, req domain.CreationRequest) (domain.RepositoryKeys, error) {
	if err := s.login(ctx); err != nil {
		return domain.RepositoryKeys{}, err
	}

	for _, p := range KeyPaths(s.mount, req) {
		secret, err := s.client.Logical().ReadWithContext(ctx, p)
		if err != nil {
			return domain.RepositoryKeys{}, fmt.Errorf("reading %s: %w", p, err)
		}
		if secret == nil {
			s.log.Debug(ctx, "No keys at path", "path", p)
			continue
		}

		keys, err := parseKeys(secret)
		if err != nil {
			return domain.RepositoryKeys{}, fmt.Errorf("reading %s: %w", p, err)
		}
		s.log.Info(ctx, "Repository keys retrieved", "path", p)
		return keys, nil
	}

	return domain.RepositoryKeys{}, fmt.Errorf("%w: keys of %s", domain.ErrSecretNotFound, req.Repository)
}

func parseKeys(secret *vault.Secret) (domain.RepositoryKeys, error) {
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return domain.RepositoryKeys{}, fmt.Errorf("%w: no data in secret", domain.ErrSecretNotFound)
	}

	field := func(name string) string {
		s, _ := data[name].(string)
		return s
	}
	keys := domain.RepositoryKeys{
		CertificateKey: field("certificateKey"),
		GatewayKey:     field("gatewayKey"),
		PublicKey:      field("publicKey"),
		MasterKey:      field("masterKey"),
	}
	if keys.CertificateKey == "" || keys.GatewayKey == "" || keys.PublicKey == "" {
		return domain.RepositoryKeys{}, fmt.Errorf("%w: incomplete key set", domain.ErrSecretNotFound)
	}
	return keys, nil
}
