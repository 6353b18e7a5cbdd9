package commands_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedora-infra/fasjson-client/cmd/fasjson-client/commands"
	"github.com/fedora-infra/fasjson-client/internal/testutil"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func noEnv(string) (string, bool) { return "", false }

// run executes the CLI against server with JSON output.
func run(t *testing.T, server *testutil.Server, args ...string) result {
	t.Helper()

	return runWith(t, []commands.Option{commands.WithConfigSearchPaths()},
		append([]string{"--url", server.URL, "--output", "json"}, args...)...)
}

func runWith(t *testing.T, opts []commands.Option, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer

	opts = append([]commands.Option{
		commands.WithCredentialProvider(testutil.NewFakeProvider()),
		commands.WithLookupEnv(noEnv),
	}, opts...)

	cmd := commands.NewRootCommand(commands.VersionInfo{Version: "1.2.3", Commit: "abc", Built: "today"}, opts...)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.Execute()

	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func TestRootCommand(t *testing.T) {
	t.Parallel()

	cmd := commands.NewRootCommand(commands.VersionInfo{})
	assert.Equal(t, "fasjson-client", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	for _, name := range []string{"version", "config", "operations", "call", "list", "me", "get-cert"} {
		assert.Contains(t, names, name)
	}

	for _, flag := range []string{"config", "url", "principal", "verbose", "quiet", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %s should exist", flag)
	}

	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	server := testutil.NewServer(t)
	res := run(t, server, "version")
	require.NoError(t, res.err)

	var info commands.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Equal(t, commands.VersionInfo{Version: "1.2.3", Commit: "abc", Built: "today"}, info)
	assert.Empty(t, server.Requests(), "version does not contact the server")

	res = run(t, server, "version", "--output", "table")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "1.2.3")
}

func TestVerboseAndQuiet(t *testing.T) {
	t.Parallel()

	server := testutil.NewServer(t)
	res := run(t, server, "-v", "-q", "version")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "verbose")
}

func TestConfigShow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("principal = \"admin@EXAMPLE.TEST\"\n\n[get-cert]\nsave_to = \"~/cert.pem\"\n"), 0o600))

	res := runWith(t, nil, "-c", path, "--output", "yaml", "config", "show")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "principal: admin@EXAMPLE.TEST")
	assert.Contains(t, res.stdout, "save_to: ~/cert.pem")
	assert.Contains(t, res.stdout, path)

	res = runWith(t, nil, "-c", path, "--output", "table", "config", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "FASJSON_GET_CERT_SAVE_TO")

	res = runWith(t, nil, "-c", filepath.Join(t.TempDir(), "missing.toml"), "config", "show")
	require.Error(t, res.err)
}

func TestOperationsCommand(t *testing.T) {
	t.Parallel()

	server := testutil.NewServer(t)
	res := run(t, server, "operations")
	require.NoError(t, res.err)

	var operations []struct {
		Name   string `json:"name"`
		Method string `json:"method"`
		Path   string `json:"path"`
	}

	require.NoError(t, json.Unmarshal([]byte(res.stdout), &operations))
	require.Len(t, operations, 10)
	assert.Equal(t, "whoami", operations[0].Name)
	assert.Equal(t, "sign_csr", operations[8].Name)
	assert.Equal(t, http.MethodPost, operations[8].Method)

	res = run(t, server, "operations", "--output", "table")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "list_group_members")
	assert.Contains(t, res.stdout, "[page_size]")
}

func TestCallCommand(t *testing.T) {
	t.Parallel()

	t.Run("result is printed", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/users/admin/", http.StatusOK, map[string]interface{}{
			"result": map[string]interface{}{"username": "admin", "emails": []string{"admin@example.test"}},
		})

		res := run(t, server, "call", "get_user", "username=admin", "X-Fields=username", "X-Fields=emails")
		require.NoError(t, res.err)

		var user map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &user))
		assert.Equal(t, "admin", user["username"])

		requests := server.Requests()
		assert.Equal(t, "username,emails", requests[len(requests)-1].Header.Get("X-Fields"))
	})

	t.Run("pagination flags", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Paginated("/groups/", []interface{}{
			map[string]interface{}{"groupname": "admins"},
			map[string]interface{}{"groupname": "packagers"},
			map[string]interface{}{"groupname": "sysadmin"},
		})

		res := run(t, server, "call", "list_groups", "--page-size", "2", "--page-number", "2", "--output", "table")
		require.NoError(t, res.err)
		assert.Contains(t, res.stdout, "sysadmin")
		assert.NotContains(t, res.stdout, "packagers")
		assert.Contains(t, res.stdout, "Showing page 2 of 2.")
	})

	t.Run("unknown operation", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		res := run(t, server, "call", "frobnicate")
		require.Error(t, res.err)
		assert.True(t, fasjson.IsUnknownOperation(res.err))
		assert.Equal(t, 0, server.APICalls())
	})

	t.Run("malformed argument", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		res := run(t, server, "call", "get_user", "admin")
		require.ErrorIs(t, res.err, commands.ErrInvalidArgument)
		assert.Empty(t, server.Requests(), "arguments are checked before connecting")
	})

	t.Run("API error", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		res := run(t, server, "call", "get_group", "groupname=nope")
		require.Error(t, res.err)
		assert.True(t, fasjson.IsNotFound(res.err))
	})
}

func TestListCommand(t *testing.T) {
	t.Parallel()

	server := testutil.NewServer(t)

	users := make([]interface{}, 5)
	for i := range users {
		users[i] = map[string]interface{}{"username": string(rune('a' + i))}
	}

	server.Paginated("/users/", users)

	res := run(t, server, "-v", "list", "users", "--page-size", "2")
	require.NoError(t, res.err)

	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &listed))
	assert.Len(t, listed, 5)
	assert.Equal(t, 3, server.APICalls())
	assert.Contains(t, res.stderr, "Listed entities")
	assert.Contains(t, res.stderr, "Operation statistics")
	assert.Contains(t, res.stderr, "list_users")

	res = run(t, server, "list", "nothing")
	require.Error(t, res.err)
	assert.True(t, fasjson.IsUsageError(res.err))
}

func TestMeCommand(t *testing.T) {
	t.Parallel()

	server := testutil.NewServer(t)
	server.JSON(http.MethodGet, "/me/", http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{"username": "admin", "service": nil},
	})

	res := run(t, server, "me", "--output", "table")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "admin")
	assert.Contains(t, res.stdout, "Username")
}

// testCA issues certificates for the sign_csr and get_user handlers.
type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{cert: cert, key: key}
}

func (ca *testCA) issue(t *testing.T, subject pkix.Name, pub interface{}, serial int64, notAfter time.Time) []byte {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, pub, ca.key)
	require.NoError(t, err)

	return der
}

func TestGetCertCommand(t *testing.T) {
	t.Parallel()

	t.Run("new certificate", func(t *testing.T) {
		t.Parallel()

		ca := newTestCA(t)
		server := testutil.NewServer(t)
		server.Handle(http.MethodPost, "/certs/", func(w http.ResponseWriter, r *http.Request) {
			if !assert.NoError(t, r.ParseForm()) {
				return
			}

			assert.Equal(t, "admin", r.PostForm.Get("user"))

			block, _ := pem.Decode([]byte(r.PostForm.Get("csr")))
			if !assert.NotNil(t, block) {
				return
			}

			csr, err := x509.ParseCertificateRequest(block.Bytes)
			if !assert.NoError(t, err) {
				return
			}

			assert.NoError(t, csr.CheckSignature())
			assert.Equal(t, "admin", csr.Subject.CommonName)
			assert.Equal(t, x509.SHA256WithRSA, csr.SignatureAlgorithm)
			if assert.Len(t, csr.Extensions, 1) {
				assert.True(t, csr.Extensions[0].Critical)
				assert.Equal(t, "2.5.29.19", csr.Extensions[0].Id.String())
			}

			der := ca.issue(t, csr.Subject, csr.PublicKey, 42, time.Now().Add(time.Hour))
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"result": map[string]interface{}{"certificate": base64.StdEncoding.EncodeToString(der)},
			})
		})

		dir := t.TempDir()
		keyPath := filepath.Join(dir, "fedora.key")
		certPath := filepath.Join(dir, "fedora.crt")

		res := run(t, server, "get-cert", "-u", "admin", "-p", keyPath, "-s", certPath)
		require.NoError(t, res.err)
		assert.Contains(t, res.stderr, "Certificate generated, signed and written to "+certPath)

		info, err := os.Stat(keyPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		data, err := os.ReadFile(certPath)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Equal(t, "-----BEGIN CERTIFICATE-----", lines[0])
		assert.Equal(t, "-----END CERTIFICATE-----", lines[len(lines)-1])
		assert.Len(t, lines[1], 64)

		block, _ := pem.Decode(data)
		require.NotNil(t, block)

		cert, err := x509.ParseCertificate(block.Bytes)
		require.NoError(t, err)
		assert.Equal(t, int64(42), cert.SerialNumber.Int64())

		// The existing key is reused
		keyBefore, err := os.ReadFile(keyPath)
		require.NoError(t, err)

		res = run(t, server, "get-cert", "-u", "admin", "-p", keyPath, "-s", certPath, "--overwrite")
		require.NoError(t, res.err)

		keyAfter, err := os.ReadFile(keyPath)
		require.NoError(t, err)
		assert.Equal(t, keyBefore, keyAfter)
	})

	t.Run("existing certificate", func(t *testing.T) {
		t.Parallel()

		ca := newTestCA(t)
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		subject := pkix.Name{CommonName: "admin"}
		older := ca.issue(t, subject, &key.PublicKey, 7, time.Now().Add(time.Hour))
		newer := ca.issue(t, subject, &key.PublicKey, 3, time.Now().Add(48*time.Hour))

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/users/admin/", http.StatusOK, map[string]interface{}{
			"result": map[string]interface{}{
				"username":     "admin",
				"certificates": []string{base64.StdEncoding.EncodeToString(newer), base64.StdEncoding.EncodeToString(older)},
			},
		})
		server.JSON(http.MethodGet, "/users/nocert/", http.StatusOK, map[string]interface{}{
			"result": map[string]interface{}{"username": "nocert", "certificates": nil},
		})

		certPath := filepath.Join(t.TempDir(), "fedora.crt")

		res := run(t, server, "get-cert", "--existing", "-u", "admin", "-s", certPath)
		require.NoError(t, res.err)

		data, err := os.ReadFile(certPath)
		require.NoError(t, err)

		block, _ := pem.Decode(data)
		require.NotNil(t, block)
		assert.Equal(t, newer, block.Bytes, "the certificate valid the longest is written")

		res = run(t, server, "get-cert", "--existing", "-u", "nocert", "-s", filepath.Join(t.TempDir(), "x.crt"))
		require.ErrorIs(t, res.err, commands.ErrNoCertificate)

		res = run(t, server, "get-cert", "--existing", "-u", "ghost", "-s", filepath.Join(t.TempDir(), "x.crt"))
		require.ErrorIs(t, res.err, commands.ErrUserNotFound)
		assert.Contains(t, res.err.Error(), "ghost")
	})

	t.Run("options from the configuration file", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/users/admin/", http.StatusOK, map[string]interface{}{
			"result": map[string]interface{}{"username": "admin", "certificates": []string{}},
		})

		path := filepath.Join(t.TempDir(), "config.toml")
		content := "[get-cert]\nusername = \"admin\"\nexisting = true\nsave_to = \"" +
			filepath.Join(t.TempDir(), "fedora.crt") + "\"\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		res := runWith(t, nil, "-c", path, "--url", server.URL, "get-cert")
		require.ErrorIs(t, res.err, commands.ErrNoCertificate)
		assert.Equal(t, 1, server.APICalls())
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		dir := t.TempDir()
		existing := filepath.Join(dir, "existing.crt")
		require.NoError(t, os.WriteFile(existing, []byte("cert"), 0o600))

		res := run(t, server, "get-cert", "-u", "admin")
		require.ErrorIs(t, res.err, commands.ErrSaveToRequired)

		res = run(t, server, "get-cert", "-u", "admin", "-s", existing)
		require.ErrorIs(t, res.err, commands.ErrFileExists)

		res = run(t, server, "get-cert", "-u", "admin", "-s", filepath.Join(dir, "new.crt"))
		require.ErrorIs(t, res.err, commands.ErrPrivateKeyNeeded)

		badKey := filepath.Join(dir, "bad.key")
		require.NoError(t, os.WriteFile(badKey, []byte("not a key"), 0o600))

		res = run(t, server, "get-cert", "-u", "admin", "-p", badKey, "-s", filepath.Join(dir, "new.crt"))
		require.ErrorIs(t, res.err, commands.ErrBadPrivateKey)

		assert.Equal(t, 0, server.APICalls())
	})

	t.Run("signing refused", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodPost, "/certs/", http.StatusForbidden, map[string]interface{}{"message": "Not allowed"})

		dir := t.TempDir()

		res := run(t, server, "get-cert", "-u", "admin", "-p", filepath.Join(dir, "k.pem"), "-s", filepath.Join(dir, "c.pem"))
		require.Error(t, res.err)
		assert.Contains(t, res.err.Error(), "could not sign the CSR (403: Not allowed")
		assert.True(t, fasjson.IsAPIError(res.err))
	})
}
