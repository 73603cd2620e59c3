package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	reads   []string
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/v1/auth/approle/login" {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["role_id"] != "role" || body["secret_id"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":["invalid role or secret ID"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"auth":{"client_token":"s.token","lease_duration":3600}}`))
		return
	}

	if r.Header.Get("X-Vault-Token") != "s.token" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	f.mu.Lock()
	f.reads = append(f.reads, r.URL.Path)
	data, ok := f.secrets[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{"data": data, "metadata": map[string]interface{}{"version": 1}},
	})
}

func newVault(t *testing.T, secrets map[string]map[string]interface{}) (*VaultStore, *fakeVault) {
	t.Helper()
	fake := &fakeVault{secrets: secrets}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := config.Default().Vault
	cfg.Address = srv.URL
	cfg.RoleID = "role"
	cfg.SecretID = "secret"

	store, err := NewVaultStore(cfg, logger.NewNop())
	require.NoError(t, err)
	return store, fake
}

var keySet = map[string]interface{}{
	"certificateKey": "CERT",
	"gatewayKey":     "GW",
	"publicKey":      "PUB",
}

func TestKeyPaths(t *testing.T) {
	req := domain.CreationRequest{SubjectID: "3415-8350", Repository: "repo32.infn.it"}
	personal := "secrets/data/3415-8350/cvmfs_keys/repo32.infn.it"
	group := "secrets/data/groups/repo32/cvmfs_keys/repo32.infn.it"

	req.Scope = domain.KeyScopePersonal
	assert.Equal(t, []string{personal}, KeyPaths("secrets", req))

	req.Scope = domain.KeyScopeGroup
	assert.Equal(t, []string{group}, KeyPaths("secrets", req))

	req.Scope = domain.KeyScopeAuto
	assert.Equal(t, []string{personal, group}, KeyPaths("secrets", req))
}

func TestFetchKeys_Group(t *testing.T) {
	withMaster := map[string]interface{}{"masterKey": "MASTER"}
	for k, v := range keySet {
		withMaster[k] = v
	}
	store, _ := newVault(t, map[string]map[string]interface{}{
		"/v1/secrets/data/groups/repo32/cvmfs_keys/repo32.infn.it": withMaster,
	})

	keys, err := store.FetchKeys(context.Background(), domain.CreationRequest{
		SubjectID: "s", Repository: "repo32.infn.it", Scope: domain.KeyScopeGroup,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RepositoryKeys{CertificateKey: "CERT", GatewayKey: "GW", PublicKey: "PUB", MasterKey: "MASTER"}, keys)
}

func TestFetchKeys_AutoFallsBackToGroup(t *testing.T) {
	store, fake := newVault(t, map[string]map[string]interface{}{
		"/v1/secrets/data/groups/repo32/cvmfs_keys/repo32.infn.it": keySet,
	})

	keys, err := store.FetchKeys(context.Background(), domain.CreationRequest{SubjectID: "s", Repository: "repo32.infn.it"})

	require.NoError(t, err)
	assert.Equal(t, "CERT", keys.CertificateKey)
	assert.Equal(t, []string{
		"/v1/secrets/data/s/cvmfs_keys/repo32.infn.it",
		"/v1/secrets/data/groups/repo32/cvmfs_keys/repo32.infn.it",
	}, fake.reads)
}

func TestFetchKeys_NotFound(t *testing.T) {
	store, _ := newVault(t, nil)

	_, err := store.FetchKeys(context.Background(), domain.CreationRequest{SubjectID: "s", Repository: "repo32.infn.it"})

	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestFetchKeys_IncompleteKeySet(t *testing.T) {
	store, _ := newVault(t, map[string]map[string]interface{}{
		"/v1/secrets/data/s/cvmfs_keys/repo32.infn.it": {"certificateKey": "CERT"},
	})

	_, err := store.FetchKeys(context.Background(), domain.CreationRequest{
		SubjectID: "s", Repository: "repo32.infn.it", Scope: domain.KeyScopePersonal,
	})

	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestFetchKeys_LoginFailure(t *testing.T) {
	store, _ := newVault(t, nil)
	store.secretID = "wrong"

	_, err := store.FetchKeys(context.Background(), domain.CreationRequest{SubjectID: "s", Repository: "repo32.infn.it"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSecretNotFound)
}
