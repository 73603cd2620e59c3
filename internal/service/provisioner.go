package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Provisioner sets up a new repository from a creation request: signing
// keys, backend repository, notification topic and queue. Every step is
// safe to repeat, so a failed request is simply redelivered.
type Provisioner struct {
	secrets domain.SecretStore
	backend domain.Backend
	topics  domain.TopicRegistrar
	queues  domain.QueueProvisioner
	log     *logger.Logger
	keyDir  string
}

func NewProvisioner(
	cfg *config.Config,
	secrets domain.SecretStore,
	backend domain.Backend,
	topics domain.TopicRegistrar,
	queues domain.QueueProvisioner,
	log *logger.Logger,
) *Provisioner {
	return &Provisioner{
		secrets: secrets,
		backend: backend,
		topics:  topics,
		queues:  queues,
		log:     log,
		keyDir:  cfg.CVMFS.KeyDir,
	}
}

// ParseCreationRequest reads
//
//	username,subject_id,repository_name,issuer_url[,common_key_flag]
//
// A four field request whose last field is a bare P or G flag carries the
// key scope instead of the issuer.
func ParseCreationRequest(body []byte) (domain.CreationRequest, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimSpace(body)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	fields, err := r.Read()
	if err != nil {
		return domain.CreationRequest{}, fmt.Errorf("%w: %v", domain.ErrMalformedRequest, err)
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		return domain.CreationRequest{}, fmt.Errorf("%w: more than one line", domain.ErrMalformedRequest)
	}
	if len(fields) < 4 || len(fields) > 5 {
		return domain.CreationRequest{}, fmt.Errorf("%w: expected 4 or 5 fields, got %d", domain.ErrMalformedRequest, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	req := domain.CreationRequest{
		Username:   fields[0],
		SubjectID:  fields[1],
		Repository: fields[2],
	}

	if len(fields) == 5 {
		req.IssuerURL = fields[3]
		req.Scope = parseScope(fields[4])
	} else if scope := parseScope(fields[3]); scope != domain.KeyScopeAuto {
		req.Scope = scope
	} else {
		req.IssuerURL = fields[3]
	}

	if req.Username == "" || req.SubjectID == "" || req.Repository == "" {
		return domain.CreationRequest{}, fmt.Errorf("%w: empty field", domain.ErrMalformedRequest)
	}
	if strings.ContainsAny(req.Repository, `/\ `) || strings.HasPrefix(req.Repository, ".") {
		return domain.CreationRequest{}, fmt.Errorf("%w: invalid repository name %q", domain.ErrMalformedRequest, req.Repository)
	}
	if strings.ContainsAny(req.SubjectID, `/\`) {
		return domain.CreationRequest{}, fmt.Errorf("%w: invalid subject %q", domain.ErrMalformedRequest, req.SubjectID)
	}
	return req, nil
}

func parseScope(flag string) domain.KeyScope {
	switch strings.ToLower(flag) {
	case "g", "group", "true", "1", "yes":
		return domain.KeyScopeGroup
	case "p", "personal", "false", "0", "no":
		return domain.KeyScopePersonal
	default:
		return domain.KeyScopeAuto
	}
}

// HandleMessage processes one creation request message.
func (p *Provisioner) HandleMessage(ctx context.Context, body []byte) error {
	req, err := ParseCreationRequest(body)
	if err != nil {
		return err
	}
	return p.Provision(ctx, req)
}

func (p *Provisioner) Provision(ctx context.Context, req domain.CreationRequest) error {
	ctx = logger.WithRepository(ctx, req.Repository)
	p.log.Info(ctx, "Repository creation requested", "username", req.Username, "scope", string(req.Scope))

	keys, err := p.secrets.FetchKeys(ctx, req)
	if err != nil {
		return fmt.Errorf("fetching keys: %w", err)
	}

	keyDir := filepath.Join(p.keyDir, req.Repository+"_keys")
	defer func() {
		if err := os.RemoveAll(keyDir); err != nil {
			p.log.Warn(ctx, "Cannot remove key files", "dir", keyDir, "error", err)
		}
	}()
	if err := writeKeys(keyDir, req.Repository, keys); err != nil {
		return fmt.Errorf("writing keys: %w", err)
	}

	err = p.backend.Create(ctx, req.Repository, keyDir)
	switch {
	case errors.Is(err, domain.ErrRepositoryExists):
		p.log.Info(ctx, "Repository already exists")
	case err != nil:
		return fmt.Errorf("creating repository: %w", err)
	}

	name := domain.ShortName(req.Repository)

	arn, err := p.topics.CreateTopic(ctx, name)
	if err != nil {
		return fmt.Errorf("creating topic %s: %w", name, err)
	}
	p.log.Info(ctx, "Notification topic ready", "topic_arn", arn)

	if err := p.queues.DeclareRepositoryQueue(ctx, name); err != nil {
		return fmt.Errorf("declaring queue %s: %w", name, err)
	}

	p.log.Info(ctx, "Repository provisioned", "queue", name)
	return nil
}

func writeKeys(dir, repository string, keys domain.RepositoryKeys) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	files := map[string]string{
		".crt": keys.CertificateKey,
		".gw":  keys.GatewayKey,
		".pub": keys.PublicKey,
	}
	if keys.MasterKey != "" {
		files[".masterkey"] = keys.MasterKey
	}

	for ext, content := range files {
		p := filepath.Join(dir, repository+ext)
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}
