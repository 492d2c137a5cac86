package saml

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	saml2 "github.com/russellhaering/gosaml2"
	"github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/relay/pkg/state"
)

// Configuration directory layout, shared with the operator tooling that
// provisions it:
//
//	<cfg>/sp-metadata.xml     service provider metadata (entity id)
//	<cfg>/sp-key.pem          service provider private key
//	<cfg>/sp-crt.pem          service provider certificate
//	<cfg>/<name>/idp-metadata.xml   one per trusted identity provider
const (
	spMetadataFile  = "sp-metadata.xml"
	spKeyFile       = "sp-key.pem"
	spCertFile      = "sp-crt.pem"
	idpMetadataFile = "idp-metadata.xml"
)

const providerCacheSize = 64

// Trust holds the one trusted service-provider identity and the set of
// trusted identity providers discovered from the configuration directory.
// It implements Verifier. Fully parsed gosaml2 providers are built lazily
// per IdP and kept in an LRU, so a large metadata directory costs nothing
// until its IdPs are actually seen.
type Trust struct {
	cfgDir   string
	acsURL   string
	spIssuer string
	keyStore dsig.X509KeyStore
	log      *logrus.Entry

	mu       sync.RWMutex
	byIssuer map[string]string // IdP entity id -> metadata file

	cache *lru.Cache[string, *saml2.SAMLServiceProvider]
}

// LoadTrust reads the service-provider credentials and scans the
// configuration directory for identity-provider metadata. acsURL is this
// deployment's assertion consumer endpoint.
func LoadTrust(cfgDir, acsURL string, log *logrus.Entry) (*Trust, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	spMeta, err := parseMetadataFile(filepath.Join(cfgDir, spMetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load service provider metadata: %w", err)
	}

	keyStore, err := loadKeyStore(filepath.Join(cfgDir, spKeyFile), filepath.Join(cfgDir, spCertFile))
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[string, *saml2.SAMLServiceProvider](providerCacheSize)
	if err != nil {
		return nil, err
	}

	t := &Trust{
		cfgDir:   cfgDir,
		acsURL:   acsURL,
		spIssuer: spMeta.EntityID,
		keyStore: keyStore,
		log:      log,
		cache:    cache,
	}
	if err := t.Rescan(); err != nil {
		return nil, err
	}
	return t, nil
}

// Rescan re-reads the identity-provider metadata directory and drops the
// provider cache. Safe to call concurrently with verification.
func (t *Trust) Rescan() error {
	entries, err := os.ReadDir(t.cfgDir)
	if err != nil {
		return fmt.Errorf("failed to scan trust directory: %w", err)
	}

	byIssuer := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(t.cfgDir, entry.Name(), idpMetadataFile)
		md, err := parseMetadataFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			t.log.WithError(err).WithField("path", path).Warn("skipping unreadable idp metadata")
			continue
		}
		byIssuer[md.EntityID] = path
	}

	t.mu.Lock()
	t.byIssuer = byIssuer
	t.mu.Unlock()
	t.cache.Purge()

	t.log.WithField("idps", len(byIssuer)).Info("identity provider trust loaded")
	return nil
}

// Issuers lists the trusted identity-provider entity ids.
func (t *Trust) Issuers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byIssuer))
	for issuer := range t.byIssuer {
		out = append(out, issuer)
	}
	return out
}

// Verify implements Verifier. The response's stated issuer routes to the
// matching identity provider; an unknown issuer fails verification without
// touching any cryptography.
func (t *Trust) Verify(_ context.Context, encodedResponse string) (*VerifiedAssertion, error) {
	decoded, err := base64.StdEncoding.DecodeString(encodedResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: response is not valid base64: %w", state.ErrProtocol, err)
	}

	var envelope responseEnvelope
	if err := xml.Unmarshal(decoded, &envelope); err != nil {
		return nil, fmt.Errorf("%w: response is not well-formed XML: %w", state.ErrProtocol, err)
	}
	if envelope.Issuer == "" {
		return nil, fmt.Errorf("%w: response carries no issuer", state.ErrProtocol)
	}

	sp, err := t.providerFor(envelope.Issuer)
	if err != nil {
		return nil, err
	}

	info, err := sp.RetrieveAssertionInfo(encodedResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: assertion verification failed: %w", state.ErrProtocol, err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, fmt.Errorf("%w: assertion outside its validity window", state.ErrProtocol)
		}
		if info.WarningInfo.NotInAudience {
			return nil, fmt.Errorf("%w: assertion not addressed to this service provider", state.ErrProtocol)
		}
	}

	attrs := make(map[string][]string)
	for _, attr := range info.Values {
		for _, v := range attr.Values {
			attrs[attr.Name] = append(attrs[attr.Name], v.Value)
		}
	}

	// The root Response attributes are not necessarily signed (gosaml2
	// accepts assertion-only signatures), so the token must come from the
	// assertion's own subject confirmation.
	inResponseTo := assertionInResponseTo(info)
	if inResponseTo == "" {
		return nil, fmt.Errorf("%w: verified assertion carries no InResponseTo", state.ErrProtocol)
	}

	return &VerifiedAssertion{
		InResponseTo: inResponseTo,
		Subject:      info.NameID,
		Attributes:   attrs,
	}, nil
}

// assertionInResponseTo returns the InResponseTo stated inside the
// verified assertions, "" when none carries one.
func assertionInResponseTo(info *saml2.AssertionInfo) string {
	for _, assertion := range info.Assertions {
		subject := assertion.Subject
		if subject == nil || subject.SubjectConfirmation == nil || subject.SubjectConfirmation.SubjectConfirmationData == nil {
			continue
		}
		if irt := subject.SubjectConfirmation.SubjectConfirmationData.InResponseTo; irt != "" {
			return irt
		}
	}
	return ""
}

func (t *Trust) providerFor(issuer string) (*saml2.SAMLServiceProvider, error) {
	if sp, ok := t.cache.Get(issuer); ok {
		return sp, nil
	}

	t.mu.RLock()
	path, ok := t.byIssuer[issuer]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: untrusted issuer %q", state.ErrProtocol, issuer)
	}

	sp, err := t.buildProvider(path)
	if err != nil {
		return nil, err
	}
	t.cache.Add(issuer, sp)
	return sp, nil
}

func (t *Trust) buildProvider(metadataPath string) (*saml2.SAMLServiceProvider, error) {
	md, err := parseMetadataFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load idp metadata: %w", err)
	}
	if md.IDPSSODescriptor == nil {
		return nil, fmt.Errorf("%w: metadata %s has no IDPSSODescriptor", state.ErrProtocol, metadataPath)
	}

	certStore := dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{}}
	for _, kd := range md.IDPSSODescriptor.KeyDescriptors {
		if kd.Use == "encryption" {
			continue
		}
		for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
			if xcert.Data == "" {
				continue
			}
			der, err := base64.StdEncoding.DecodeString(xcert.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: bad certificate in %s: %w", state.ErrProtocol, metadataPath, err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("%w: bad certificate in %s: %w", state.ErrProtocol, metadataPath, err)
			}
			certStore.Roots = append(certStore.Roots, cert)
		}
	}
	if len(certStore.Roots) == 0 {
		return nil, fmt.Errorf("%w: metadata %s carries no signing certificate", state.ErrProtocol, metadataPath)
	}

	var ssoURL string
	if svcs := md.IDPSSODescriptor.SingleSignOnServices; len(svcs) > 0 {
		ssoURL = svcs[0].Location
	}

	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      ssoURL,
		IdentityProviderIssuer:      md.EntityID,
		ServiceProviderIssuer:       t.spIssuer,
		AssertionConsumerServiceURL: t.acsURL,
		AudienceURI:                 t.spIssuer,
		IDPCertificateStore:         &certStore,
		SPKeyStore:                  t.keyStore,
	}, nil
}

// responseEnvelope captures the root-level issuer used to route the
// response to an identity provider. Nothing else at the root is trusted.
type responseEnvelope struct {
	XMLName xml.Name
	Issuer  string `xml:"Issuer"`
}

func parseMetadataFile(path string) (*types.EntityDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md types.EntityDescriptor
	if err := xml.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", path, err)
	}
	return &md, nil
}

func loadKeyStore(keyPath, certPath string) (dsig.X509KeyStore, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service provider key: %w", err)
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service provider certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode service provider key PEM")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service provider key: %w", err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("service provider key is not RSA")
		}
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode service provider certificate PEM")
	}

	return &dsig.TLSCertKeyStore{
		PrivateKey:  privateKey,
		Certificate: [][]byte{certBlock.Bytes},
	}, nil
}
