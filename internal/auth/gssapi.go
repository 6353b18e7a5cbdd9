package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

// Static errors for err113 compliance.
var (
	ErrNoTGT             = errors.New("no ticket-granting ticket in credential cache")
	ErrPrincipalMismatch = errors.New("credential cache holds another principal")
	ErrKeytabPrincipal   = errors.New("cannot determine principal from keytab")
	ErrUnexpectedToken   = errors.New("credentials were not issued by the GSSAPI provider")
)

const (
	defaultKrb5ConfPath   = "/etc/krb5.conf"
	defaultCCachePattern  = "/tmp/krb5cc_%d"
	ccacheFilePrefix      = "FILE:"
	servicePrincipalClass = "HTTP"
)

// GSSAPIProvider authenticates with Kerberos through SPNEGO, from the
// user's credential cache or from a keytab. Each call to Authenticate
// builds a fresh Kerberos client, so the provider holds no per-call
// state and is safe for concurrent use.
type GSSAPIProvider struct {
	config fasjson.KerberosConfig

	now        func() time.Time
	loadConfig func(path string) (*config.Config, error)
	loadCCache func(path string) (*credentials.CCache, error)
	loadKeytab func(path string) (*keytab.Keytab, error)
}

// NewGSSAPIProvider creates a provider. A nil config uses the
// environment defaults.
func NewGSSAPIProvider(cfg *fasjson.KerberosConfig) *GSSAPIProvider {
	p := &GSSAPIProvider{
		now:        time.Now,
		loadConfig: config.Load,
		loadCCache: credentials.LoadCCache,
		loadKeytab: keytab.Load,
	}

	if cfg != nil {
		p.config = *cfg
	}

	return p
}

// Authenticate implements fasjson.CredentialProvider.
func (p *GSSAPIProvider) Authenticate(ctx context.Context, host, principal string) (*fasjson.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	krb5conf, err := p.loadConfig(p.krb5ConfPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load Kerberos configuration: %w", err)
	}

	if p.config.Keytab != "" {
		return p.fromKeytab(krb5conf, host, principal)
	}

	return p.fromCCache(krb5conf, host, principal)
}

func (p *GSSAPIProvider) fromCCache(krb5conf *config.Config, host, principal string) (*fasjson.Credentials, error) {
	ccache, err := p.loadCCache(p.ccachePath())
	if err != nil {
		return nil, fmt.Errorf("failed to load credential cache: %w", err)
	}

	owner := ccachePrincipal(ccache)
	if principal != "" && !samePrincipal(principal, owner) {
		return nil, fmt.Errorf("%w: wanted %s, found %s", ErrPrincipalMismatch, principal, owner)
	}

	lifetime, err := TGTLifetime(ccache, p.now())
	if err != nil {
		return nil, err
	}

	creds := &fasjson.Credentials{Principal: principal, Host: host, Lifetime: lifetime}
	if lifetime <= 0 {
		return creds, nil
	}

	cl, err := client.NewFromCCache(ccache, krb5conf, client.DisablePAFXFAST(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kerberos client: %w", err)
	}

	creds.Token = cl

	return creds, nil
}

func (p *GSSAPIProvider) fromKeytab(krb5conf *config.Config, host, principal string) (*fasjson.Credentials, error) {
	kt, err := p.loadKeytab(p.config.Keytab)
	if err != nil {
		return nil, fmt.Errorf("failed to load keytab: %w", err)
	}

	if principal == "" {
		principal, err = keytabPrincipal(kt)
		if err != nil {
			return nil, err
		}
	}

	username, realm := splitPrincipal(principal)
	if realm == "" {
		realm = krb5conf.LibDefaults.DefaultRealm
	}

	cl := client.NewWithKeytab(username, realm, kt, krb5conf, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("failed to log in as %s@%s: %w", username, realm, err)
	}

	return &fasjson.Credentials{
		Principal: principal,
		Host:      host,
		Lifetime:  krb5conf.LibDefaults.TicketLifetime,
		Token:     cl,
	}, nil
}

// Apply implements fasjson.CredentialProvider by setting the SPNEGO
// Authorization header.
func (p *GSSAPIProvider) Apply(req *http.Request, creds *fasjson.Credentials) error {
	cl, ok := creds.Token.(*client.Client)
	if !ok {
		return ErrUnexpectedToken
	}

	spn := p.config.SPN
	if spn == "" {
		spn = servicePrincipalClass + "/" + strings.TrimSuffix(creds.Host, ".")
	}

	if err := spnego.SetSPNEGOHeader(cl, req, spn); err != nil {
		return fmt.Errorf("failed to set SPNEGO header for %s: %w", spn, err)
	}

	return nil
}

// Release implements fasjson.CredentialReleaser.
func (p *GSSAPIProvider) Release(creds *fasjson.Credentials) {
	if cl, ok := creds.Token.(*client.Client); ok {
		cl.Destroy()
	}
}

func (p *GSSAPIProvider) krb5ConfPath() string {
	if p.config.Krb5Conf != "" {
		return p.config.Krb5Conf
	}

	if path := os.Getenv("KRB5_CONFIG"); path != "" {
		return path
	}

	return defaultKrb5ConfPath
}

func (p *GSSAPIProvider) ccachePath() string {
	path := p.config.CCache
	if path == "" {
		path = os.Getenv("KRB5CCNAME")
	}

	if path == "" {
		return fmt.Sprintf(defaultCCachePattern, os.Getuid())
	}

	return strings.TrimPrefix(path, ccacheFilePrefix)
}

// TGTLifetime returns the remaining validity of the ticket-granting
// ticket of the cache's default realm.
func TGTLifetime(ccache *credentials.CCache, now time.Time) (time.Duration, error) {
	realm := ccache.DefaultPrincipal.Realm

	tgt, ok := ccache.GetEntry(types.PrincipalName{
		NameType:   nametype.KRB_NT_SRV_INST,
		NameString: []string{"krbtgt", realm},
	})
	if !ok {
		return 0, fmt.Errorf("%w for realm %s", ErrNoTGT, realm)
	}

	return tgt.EndTime.Sub(now), nil
}

func ccachePrincipal(ccache *credentials.CCache) string {
	name := ccache.DefaultPrincipal.PrincipalName.PrincipalNameString()
	if ccache.DefaultPrincipal.Realm == "" {
		return name
	}

	return name + "@" + ccache.DefaultPrincipal.Realm
}

func keytabPrincipal(kt *keytab.Keytab) (string, error) {
	if len(kt.Entries) == 0 {
		return "", ErrKeytabPrincipal
	}

	return kt.Entries[0].Principal.String(), nil
}

// samePrincipal compares principals, ignoring the realm when the wanted
// one has none.
func samePrincipal(wanted, have string) bool {
	wantedName, wantedRealm := splitPrincipal(wanted)
	haveName, haveRealm := splitPrincipal(have)

	if wantedRealm == "" {
		return wantedName == haveName
	}

	return wantedName == haveName && strings.EqualFold(wantedRealm, haveRealm)
}

func splitPrincipal(principal string) (string, string) {
	name, realm, _ := strings.Cut(principal, "@")

	return name, realm
}
